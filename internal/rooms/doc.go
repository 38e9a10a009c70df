// Package rooms implements the Room Membership Tracker component.
//
// It tracks two distinct sets per room:
//   - durable membership: every user who has ever joined, persisted in
//     the store and growing monotonically
//   - the live subscription group: connection handles currently wired
//     to the room's fan-out, held only in process memory
//
// Fan-out over a live group is fire-and-forget: a recipient whose send
// queue is full or whose connection has closed is skipped, never
// retried, and never aborts delivery to the remaining recipients.
package rooms
