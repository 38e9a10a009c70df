package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/roomchat/internal/history"
	"github.com/rickgao/roomchat/internal/identity"
	"github.com/rickgao/roomchat/internal/model"
	"github.com/rickgao/roomchat/internal/protocol"
	"github.com/rickgao/roomchat/internal/rooms"
	"github.com/rickgao/roomchat/internal/store"
	"github.com/rickgao/roomchat/internal/transport"
	"github.com/rickgao/roomchat/internal/typing"
)

// session is the per-connection view the router keeps between frames.
type session struct {
	user  model.User
	rooms map[string]model.Room // rooms joined on this connection, by name
}

// Router dispatches inbound events and fans out the resulting
// notifications.
type Router struct {
	registry *identity.Registry
	rooms    *rooms.Tracker
	log      *history.Log
	typing   *typing.Tracker
	logger   *slog.Logger

	now func() int64 // message timestamps, microseconds since epoch

	routed  atomic.Int64
	dropped atomic.Int64

	mu       sync.RWMutex
	sessions map[string]*session // connection handle → session
}

// Stats holds router counters.
type Stats struct {
	Sessions     int   // connections with at least one join handled
	TypingActive int   // live typing indicators
	Routed       int64 // inbound events handled
	Dropped      int64 // inbound events dropped (unknown or malformed)
}

// NewRouter wires the router over the given components. typingIdle is
// the server-side indicator expiry; values <= 0 fall back to one
// second.
func NewRouter(registry *identity.Registry, tracker *rooms.Tracker, log *history.Log, typingIdle time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		registry: registry,
		rooms:    tracker,
		log:      log,
		logger:   logger,
		now:      func() int64 { return time.Now().UnixMicro() },
		sessions: make(map[string]*session),
	}
	r.typing = typing.NewTracker(typingIdle, r.typingExpired, logger)
	return r
}

// Dispatch handles one inbound frame. Unknown events and malformed
// payloads are logged and dropped; only storage failures surface as
// errors.
func (r *Router) Dispatch(ctx context.Context, conn transport.Conn, env protocol.Envelope) error {
	r.routed.Add(1)
	switch env.Event {
	case protocol.EventJoin:
		var p protocol.Join
		if !r.decodeData(env, &p, conn) {
			return nil
		}
		return r.handleJoin(ctx, conn, p)
	case protocol.EventSendMessage:
		var p protocol.SendMessage
		if !r.decodeData(env, &p, conn) {
			return nil
		}
		return r.handleSend(ctx, conn, p)
	case protocol.EventTyping:
		var p protocol.Typing
		if !r.decodeData(env, &p, conn) {
			return nil
		}
		r.handleTyping(conn, p)
		return nil
	case protocol.EventStopTyping:
		var p protocol.StopTyping
		if !r.decodeData(env, &p, conn) {
			return nil
		}
		r.handleStopTyping(conn, p)
		return nil
	default:
		r.dropped.Add(1)
		r.logger.Debug("unknown event dropped", "event", env.Event, "conn_id", conn.ID())
		return nil
	}
}

// Disconnect runs the teardown sequence for a transport session: live
// groups released, typing indicators cleared, the identity marked
// offline, and userLeft fanned out to every room the user ever joined.
func (r *Router) Disconnect(ctx context.Context, conn transport.Conn) error {
	connID := conn.ID()

	r.mu.Lock()
	sess, ok := r.sessions[connID]
	delete(r.sessions, connID)
	r.mu.Unlock()

	if ok {
		for name := range sess.rooms {
			r.rooms.Unsubscribe(name, connID)
		}
	}

	user, cleared, err := r.registry.MarkOffline(ctx, connID)
	if err != nil {
		return err
	}
	if !cleared {
		// Never joined, or superseded by a newer connection under the
		// same name. The newer session keeps the identity, including
		// any typing indicators it owns.
		r.logger.Debug("disconnect without live binding", "conn_id", connID)
		return nil
	}

	// Indicators die silently; userLeft supersedes stopTyping.
	r.typing.ClearUser(user.Name)

	joined, err := r.rooms.Containing(ctx, user)
	if err != nil {
		return err
	}
	for _, room := range joined {
		frame, err := protocol.Encode(protocol.EventUserLeft, protocol.UserLeft{
			User: user.Name,
			Room: room.Name,
		})
		if err != nil {
			return err
		}
		r.rooms.Broadcast(room.Name, frame)
	}

	r.logger.Info("user disconnected", "user", user.Name, "conn_id", connID, "rooms", len(joined))
	return nil
}

func (r *Router) handleJoin(ctx context.Context, conn transport.Conn, p protocol.Join) error {
	if p.Name == "" || p.Room == "" {
		r.logger.Debug("join missing name or room", "conn_id", conn.ID())
		return nil
	}

	user, err := r.registry.ResolveOrCreate(ctx, p.Name, conn.ID())
	if err != nil {
		return err
	}
	room, err := r.rooms.ResolveOrCreate(ctx, p.Room)
	if err != nil {
		return err
	}
	if err := r.rooms.EnsureMember(ctx, room, user); err != nil {
		return err
	}

	r.mu.Lock()
	sess, ok := r.sessions[conn.ID()]
	if !ok {
		sess = &session{rooms: make(map[string]model.Room)}
		r.sessions[conn.ID()] = sess
	}
	sess.user = user
	sess.rooms[room.Name] = room
	r.mu.Unlock()

	r.rooms.Subscribe(room.Name, conn)

	joined, err := protocol.Encode(protocol.EventUserJoined, protocol.UserJoined{
		Name: user.Name,
		Room: room.Name,
	})
	if err != nil {
		return err
	}
	r.rooms.BroadcastOthers(room.Name, conn.ID(), joined)

	recent, err := r.log.Recent(ctx, room, 0)
	if err != nil {
		return err
	}
	// The replay is always sent, even when empty, so the client can
	// settle its view.
	past := make([]protocol.PastMessage, 0, len(recent))
	for _, m := range recent {
		past = append(past, protocol.PastMessage{
			User:      m.Author,
			Message:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	frame, err := protocol.Encode(protocol.EventPastMessages, past)
	if err != nil {
		return err
	}
	conn.Send(frame)

	r.logger.Info("user joined", "user", user.Name, "room", room.Name, "conn_id", conn.ID())
	return nil
}

func (r *Router) handleSend(ctx context.Context, conn transport.Conn, p protocol.SendMessage) error {
	user, ok := r.sessionUser(conn.ID())
	if !ok {
		r.logger.Debug("message from unjoined connection dropped", "conn_id", conn.ID())
		return nil
	}

	room, err := r.rooms.Lookup(ctx, p.Room)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Debug("message to unknown room dropped", "room", p.Room, "user", user.Name)
		return nil
	}
	if err != nil {
		return err
	}

	msg, err := r.log.Append(ctx, room, user, p.Message, r.now())
	if errors.Is(err, store.ErrInvalidReference) {
		r.logger.Debug("message with dangling reference dropped", "room", p.Room, "user", user.Name)
		return nil
	}
	if err != nil {
		return err
	}

	frame, err := protocol.Encode(protocol.EventMessage, protocol.Message{
		User:      user.Name,
		Message:   msg.Content,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return err
	}
	r.rooms.Broadcast(room.Name, frame)
	return nil
}

func (r *Router) handleTyping(conn transport.Conn, p protocol.Typing) {
	user, ok := r.sessionUser(conn.ID())
	if !ok {
		return
	}
	// Repeats refresh the idle timer but are re-announced regardless;
	// recipients render the indicator idempotently.
	r.typing.Set(p.Room, user.Name)

	frame, err := protocol.Encode(protocol.EventTyping, protocol.UserTyping{Name: user.Name})
	if err != nil {
		r.logger.Error("encode typing", "error", err)
		return
	}
	r.rooms.BroadcastOthers(p.Room, conn.ID(), frame)
}

func (r *Router) handleStopTyping(conn transport.Conn, p protocol.StopTyping) {
	// The relay is unconditional. The server may not hold an indicator
	// for this sender (restart lost the ephemeral state, or the client
	// drives its own), and peers must still be able to unstick theirs.
	// The tracker clear is best-effort bookkeeping.
	if user, ok := r.sessionUser(conn.ID()); ok {
		r.typing.Clear(p.Room, user.Name)
	}

	frame, err := protocol.Encode(protocol.EventStopTyping, nil)
	if err != nil {
		r.logger.Error("encode stopTyping", "error", err)
		return
	}
	r.rooms.BroadcastOthers(p.Room, conn.ID(), frame)
}

// typingExpired broadcasts the stop notification when an indicator
// lapses on the idle timer. The whole room hears it; the owner's
// client believes it is still typing and tolerates the echo.
func (r *Router) typingExpired(room, user string) {
	frame, err := protocol.Encode(protocol.EventStopTyping, nil)
	if err != nil {
		r.logger.Error("encode stopTyping", "error", err)
		return
	}
	r.rooms.Broadcast(room, frame)
}

func (r *Router) sessionUser(connID string) (model.User, bool) {
	r.mu.RLock()
	sess, ok := r.sessions[connID]
	r.mu.RUnlock()
	if ok {
		return sess.user, true
	}
	// The session map can trail the registry across a reconnect race.
	return r.registry.ByConnection(connID)
}

func (r *Router) decodeData(env protocol.Envelope, dst any, conn transport.Conn) bool {
	if len(env.Data) == 0 {
		r.dropped.Add(1)
		r.logger.Debug("event missing data dropped", "event", env.Event, "conn_id", conn.ID())
		return false
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		r.dropped.Add(1)
		r.logger.Debug("malformed event data dropped", "event", env.Event, "conn_id", conn.ID(), "error", err)
		return false
	}
	return true
}

// Stats returns current counters.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	sessions := len(r.sessions)
	r.mu.RUnlock()
	return Stats{
		Sessions:     sessions,
		TypingActive: r.typing.Stats().Active,
		Routed:       r.routed.Load(),
		Dropped:      r.dropped.Load(),
	}
}
