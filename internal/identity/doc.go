// Package identity implements the Identity Registry component.
//
// The Registry maps transient connection handles to durable user
// identities. It owns a thread-safe in-process index of live handles
// and writes through to the durable store, so that a process restart
// loses only liveness, never identity.
//
// Consistency is last-write-wins: a later join under the same name
// supersedes the earlier connection's binding, and a stale disconnect
// can never clobber a newer session.
package identity
