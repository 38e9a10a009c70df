package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rickgao/roomchat/internal/model"
)

// Errors
var (
	// ErrNotFound signals a lookup miss by unique key.
	ErrNotFound = errors.New("not found")

	// ErrInvalidReference signals a write referencing a missing user or room.
	ErrInvalidReference = errors.New("invalid reference")
)

// AuthoredMessage is a message with its author's display name resolved.
type AuthoredMessage struct {
	model.Message
	Author string
}

// UserStore persists durable user identities.
type UserStore interface {
	// UserByName returns the user with the given name, or ErrNotFound.
	UserByName(ctx context.Context, name string) (model.User, error)

	// UserByConnection returns the user currently holding the given
	// connection handle, or ErrNotFound.
	UserByConnection(ctx context.Context, connID string) (model.User, error)

	// UpsertUserConnection creates the user on first join, or replaces
	// the stored connection handle (last-write-wins) and sets online=true.
	UpsertUserConnection(ctx context.Context, name, connID string) (model.User, error)

	// ClearUserConnection sets online=false and clears the handle, but
	// only if the stored handle still equals connID. Returns true if a
	// row was updated (false = stale disconnect, no-op).
	ClearUserConnection(ctx context.Context, name, connID string) (bool, error)
}

// RoomStore persists rooms and their monotonic membership sets.
type RoomStore interface {
	// RoomByName returns the room with the given name, or ErrNotFound.
	RoomByName(ctx context.Context, name string) (model.Room, error)

	// UpsertRoom creates the room on first reference and returns it.
	UpsertRoom(ctx context.Context, name string) (model.Room, error)

	// AddMember idempotently adds a user to a room's membership set.
	AddMember(ctx context.Context, roomID, userID uuid.UUID) error

	// RoomsWithMember returns every room whose membership set contains
	// the user, in name order.
	RoomsWithMember(ctx context.Context, userID uuid.UUID) ([]model.Room, error)
}

// MessageStore persists the append-only message log.
type MessageStore interface {
	// InsertMessage appends a message. Returns ErrInvalidReference if
	// the room or user does not exist.
	InsertMessage(ctx context.Context, msg model.Message) error

	// RecentMessages returns the most recent limit messages for a room
	// in ascending timestamp order, with author names resolved. The
	// result is a snapshot at call time.
	RecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]AuthoredMessage, error)
}

// Store aggregates all durable storage used by the realtime layer.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
