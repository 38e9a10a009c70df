package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/roomchat/internal/model"
	"github.com/rickgao/roomchat/internal/store"
	"github.com/rickgao/roomchat/internal/transport"
)

// Tracker resolves rooms, maintains durable membership, and owns the
// live subscription groups.
type Tracker struct {
	store  store.RoomStore
	logger *slog.Logger

	mu     sync.RWMutex
	groups map[string]map[string]transport.Conn // room name → conn ID → conn
}

// Stats holds tracker counters.
type Stats struct {
	Rooms         int // rooms with a non-empty live group
	Subscriptions int // total live subscriptions across rooms
}

// NewTracker creates a tracker backed by the given room store.
func NewTracker(rooms store.RoomStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  rooms,
		logger: logger,
		groups: make(map[string]map[string]transport.Conn),
	}
}

// ResolveOrCreate looks up a room by name, creating it on first join.
func (t *Tracker) ResolveOrCreate(ctx context.Context, name string) (model.Room, error) {
	room, err := t.store.UpsertRoom(ctx, name)
	if err != nil {
		return model.Room{}, fmt.Errorf("resolve room %q: %w", name, err)
	}
	return room, nil
}

// Lookup returns an existing room by name without creating it.
func (t *Tracker) Lookup(ctx context.Context, name string) (model.Room, error) {
	return t.store.RoomByName(ctx, name)
}

// EnsureMember idempotently adds a user to a room's durable membership.
func (t *Tracker) EnsureMember(ctx context.Context, room model.Room, user model.User) error {
	if err := t.store.AddMember(ctx, room.ID, user.ID); err != nil {
		return fmt.Errorf("ensure member %q in %q: %w", user.Name, room.Name, err)
	}
	return nil
}

// Containing returns every room whose durable membership includes the
// user — the disconnect notification fan-out list, which may be
// broader than any live group.
func (t *Tracker) Containing(ctx context.Context, user model.User) ([]model.Room, error) {
	rooms, err := t.store.RoomsWithMember(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("rooms containing %q: %w", user.Name, err)
	}
	return rooms, nil
}

// Subscribe adds a connection to a room's live subscription group.
// Joins are additive: subscribing to a new room never removes earlier
// subscriptions.
func (t *Tracker) Subscribe(roomName string, conn transport.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[roomName]
	if !ok {
		group = make(map[string]transport.Conn)
		t.groups[roomName] = group
	}
	group[conn.ID()] = conn
}

// Unsubscribe removes a connection from a room's live group.
func (t *Tracker) Unsubscribe(roomName, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[roomName]
	if !ok {
		return
	}
	delete(group, connID)
	if len(group) == 0 {
		delete(t.groups, roomName)
	}
}

// Broadcast sends a frame to every connection in a room's live group.
func (t *Tracker) Broadcast(roomName string, frame []byte) {
	t.broadcast(roomName, "", frame)
}

// BroadcastOthers sends a frame to a room's live group excluding one
// connection (typically the sender).
func (t *Tracker) BroadcastOthers(roomName, exceptConnID string, frame []byte) {
	t.broadcast(roomName, exceptConnID, frame)
}

func (t *Tracker) broadcast(roomName, exceptConnID string, frame []byte) {
	t.mu.RLock()
	group := t.groups[roomName]
	conns := make([]transport.Conn, 0, len(group))
	for id, conn := range group {
		if id == exceptConnID {
			continue
		}
		conns = append(conns, conn)
	}
	t.mu.RUnlock()

	// Sends are best-effort; a closed peer drops its copy only.
	for _, conn := range conns {
		if !conn.Send(frame) {
			t.logger.Debug("fan-out drop", "room", roomName, "conn_id", conn.ID())
		}
	}
}

// GroupSize returns the live subscription count for a room.
func (t *Tracker) GroupSize(roomName string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.groups[roomName])
}

// Stats returns current counters.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{Rooms: len(t.groups)}
	for _, group := range t.groups {
		s.Subscriptions += len(group)
	}
	return s
}
