package transport

import (
	"errors"
	"time"
)

// Errors
var (
	ErrClosed = errors.New("connection closed")
)

// Conn is the send side of one live transport session. Room fan-out
// and the event router address peers through this interface; tests
// substitute in-memory fakes.
type Conn interface {
	// ID returns the opaque connection handle.
	ID() string

	// Send enqueues a frame for delivery. Returns false if the frame
	// was dropped (queue full or connection closed).
	Send(frame []byte) bool

	// Close tears the session down. Safe to call more than once.
	Close()
}

// Config holds per-connection settings.
type Config struct {
	WriteTimeout  time.Duration // Write deadline per frame
	PingInterval  time.Duration // Keepalive ping cadence
	PongTimeout   time.Duration // Max silence before the read side gives up
	SendQueueSize int           // Outbound queue capacity
	MaxFrameBytes int64         // Inbound frame size limit
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:  5 * time.Second,
		PingInterval:  30 * time.Second,
		PongTimeout:   60 * time.Second,
		SendQueueSize: 256,
		MaxFrameBytes: 64 * 1024,
	}
}
