package transport

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/roomchat/internal/idgen"
	"github.com/rickgao/roomchat/internal/protocol"
)

// WSConn wraps an accepted gorilla WebSocket connection.
type WSConn struct {
	id     string
	cfg    Config
	logger *slog.Logger

	ws *websocket.Conn

	// Outbound frames, drained by the write pump.
	sendq chan []byte
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	dropped atomic.Int64
}

// NewWSConn wraps an upgraded connection and starts its write pump.
func NewWSConn(ws *websocket.Conn, cfg Config, logger *slog.Logger) *WSConn {
	if logger == nil {
		logger = slog.Default()
	}

	c := &WSConn{
		id:     idgen.NewConnectionID(),
		cfg:    cfg,
		ws:     ws,
		sendq:  make(chan []byte, cfg.SendQueueSize),
		done:   make(chan struct{}),
	}
	c.logger = logger.With("conn_id", c.id)

	ws.SetReadLimit(cfg.MaxFrameBytes)
	ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	go c.writePump()

	return c
}

// ID returns the connection handle.
func (c *WSConn) ID() string { return c.id }

// Send enqueues a frame, dropping it if the queue is full or the
// connection is closed.
func (c *WSConn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.sendq <- frame:
		return true
	default:
		c.dropped.Add(1)
		c.logger.Debug("send queue full, dropping frame")
		return false
	}
}

// Dropped returns how many outbound frames were dropped.
func (c *WSConn) Dropped() int64 {
	return c.dropped.Load()
}

// ReadEnvelope blocks for the next inbound protocol event. Malformed
// frames are dropped and reading continues; only transport-level
// errors end the loop.
func (c *WSConn) ReadEnvelope() (protocol.Envelope, error) {
	for {
		select {
		case <-c.done:
			return protocol.Envelope{}, ErrClosed
		default:
		}

		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return protocol.Envelope{}, err
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Debug("dropping malformed frame", "error", err)
			continue
		}
		return env, nil
	}
}

// Close tears the session down. Safe to call more than once.
func (c *WSConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.ws.Close()
}

// writePump serializes all writes to the peer and keeps it alive with
// periodic pings. Exits when the connection closes or a write fails.
func (c *WSConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case frame := <-c.sendq:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close()
				return
			}
		}
	}
}
