// Package router dispatches inbound client events to the identity
// registry, room tracker, message log, and typing tracker, and fans
// the resulting notifications back out over live room groups.
//
// Dispatch is the single entry point per frame; Disconnect runs the
// teardown sequence when a transport session ends. All outbound
// delivery is best-effort: a slow or dead recipient never blocks or
// aborts handling.
package router
