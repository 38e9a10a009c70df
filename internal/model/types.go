package model

import "github.com/google/uuid"

// User is a durable chat identity, created on first join under a name.
// Users are never deleted.
type User struct {
	ID           uuid.UUID // Primary key
	Name         string    // Unique, case-sensitive display name
	ConnectionID string    // Current live connection handle ("" = offline)
	Online       bool      // True while a connection holds this identity
}

// Room is a named chat room. Durable membership grows monotonically:
// a user who joined once stays in the membership set forever.
type Room struct {
	ID   uuid.UUID // Primary key
	Name string    // Unique room name
}

// Message is one immutable chat message, ordered by Timestamp ascending
// within its room.
type Message struct {
	ID        uuid.UUID // Primary key
	RoomID    uuid.UUID // Owning room
	UserID    uuid.UUID // Author
	Content   string    // Message text
	Timestamp int64     // Server-assigned creation time (µs since epoch)
	Read      bool      // Stored but unused by the realtime protocol
}
