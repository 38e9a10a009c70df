// Package transport implements the per-connection WebSocket session.
//
// Each accepted connection gets a WSConn: a read side that decodes
// protocol envelopes, and a write pump that serializes all outbound
// frames through a bounded queue. Delivery is best-effort: a full
// queue or a closed peer drops the frame and never blocks or aborts a
// room fan-out.
package transport
