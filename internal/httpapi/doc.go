// Package httpapi exposes the HTTP surface: the WebSocket endpoint
// clients speak the chat protocol over, a small REST read side for
// room history, and health and stats probes.
package httpapi
