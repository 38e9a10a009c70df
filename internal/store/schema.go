package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the idempotent DDL applied at startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		connection_id TEXT,
		online        BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id   UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS room_members (
		room_id UUID NOT NULL REFERENCES rooms(id),
		user_id UUID NOT NULL REFERENCES users(id),
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id      UUID PRIMARY KEY,
		room_id UUID NOT NULL REFERENCES rooms(id),
		user_id UUID NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		ts      BIGINT NOT NULL,
		read    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages (room_id, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members (user_id)`,
}

// Migrate applies the schema. Safe to run on every startup.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
