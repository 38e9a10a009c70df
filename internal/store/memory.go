package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/roomchat/internal/model"
)

// Memory implements Store with in-process maps. It mirrors the Postgres
// implementation's semantics and backs unit tests.
type Memory struct {
	mu sync.RWMutex

	users map[string]*model.User // name → user
	rooms map[string]*model.Room // name → room

	members  map[uuid.UUID]map[uuid.UUID]struct{} // room ID → member user IDs
	messages []model.Message                      // append order = insertion order
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]*model.User),
		rooms:   make(map[string]*model.Room),
		members: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// UserByName returns the user with the given name, or ErrNotFound.
func (m *Memory) UserByName(ctx context.Context, name string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[name]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return *u, nil
}

// UserByConnection returns the user holding the given handle, or ErrNotFound.
func (m *Memory) UserByConnection(ctx context.Context, connID string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.ConnectionID == connID && connID != "" {
			return *u, nil
		}
	}
	return model.User{}, ErrNotFound
}

// UpsertUserConnection creates or re-binds a user to a connection handle.
func (m *Memory) UpsertUserConnection(ctx context.Context, name, connID string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[name]
	if !ok {
		u = &model.User{ID: uuid.New(), Name: name}
		m.users[name] = u
	}
	u.ConnectionID = connID
	u.Online = true
	return *u, nil
}

// ClearUserConnection marks a user offline only if it still holds connID.
func (m *Memory) ClearUserConnection(ctx context.Context, name, connID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[name]
	if !ok || u.ConnectionID != connID {
		return false, nil
	}
	u.ConnectionID = ""
	u.Online = false
	return true, nil
}

// RoomByName returns the room with the given name, or ErrNotFound.
func (m *Memory) RoomByName(ctx context.Context, name string) (model.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[name]
	if !ok {
		return model.Room{}, ErrNotFound
	}
	return *r, nil
}

// UpsertRoom creates the room on first reference and returns it.
func (m *Memory) UpsertRoom(ctx context.Context, name string) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[name]
	if !ok {
		r = &model.Room{ID: uuid.New(), Name: name}
		m.rooms[name] = r
		m.members[r.ID] = make(map[uuid.UUID]struct{})
	}
	return *r, nil
}

// AddMember idempotently adds a user to a room's membership set.
func (m *Memory) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[roomID]
	if !ok {
		return ErrInvalidReference
	}
	if !m.userExistsLocked(userID) {
		return ErrInvalidReference
	}
	set[userID] = struct{}{}
	return nil
}

// RoomsWithMember returns every room the user has ever joined, in name order.
func (m *Memory) RoomsWithMember(ctx context.Context, userID uuid.UUID) ([]model.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []model.Room
	for _, r := range m.rooms {
		if _, ok := m.members[r.ID][userID]; ok {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// InsertMessage appends a message to the log.
func (m *Memory) InsertMessage(ctx context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[msg.RoomID]; !ok {
		return ErrInvalidReference
	}
	if !m.userExistsLocked(msg.UserID) {
		return ErrInvalidReference
	}
	m.messages = append(m.messages, msg)
	return nil
}

// RecentMessages returns the newest limit messages in ascending order.
func (m *Memory) RecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]AuthoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make(map[uuid.UUID]string, len(m.users))
	for _, u := range m.users {
		names[u.ID] = u.Name
	}

	var all []AuthoredMessage
	for _, msg := range m.messages {
		if msg.RoomID != roomID {
			continue
		}
		all = append(all, AuthoredMessage{Message: msg, Author: names[msg.UserID]})
	}
	// Insertion order already breaks timestamp ties; stable sort keeps it.
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *Memory) userExistsLocked(userID uuid.UUID) bool {
	for _, u := range m.users {
		if u.ID == userID {
			return true
		}
	}
	return false
}
