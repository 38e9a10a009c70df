// Package typing tracks ephemeral typing indicators.
//
// State lives only in process memory and never touches the store. Each
// (room, user) entry expires on a server-side idle timer so a client
// that crashes mid-keystroke cannot leave a stuck indicator; the
// expiry callback lets the owner broadcast the stop notification.
package typing
