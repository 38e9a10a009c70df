// Package protocol defines the JSON wire protocol spoken over each
// WebSocket connection.
//
// Every frame is an Envelope: {"event": "<name>", "data": {...}}.
// Inbound events: join, sendMessage, typing, stopTyping. Disconnect is
// the transport-level close, not a frame. Outbound events: pastMessages,
// userJoined, message, typing, stopTyping, userLeft.
package protocol
