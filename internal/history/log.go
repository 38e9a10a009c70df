package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rickgao/roomchat/internal/model"
	"github.com/rickgao/roomchat/internal/store"
)

// Log appends and replays a room's message history.
type Log struct {
	store  store.MessageStore
	limit  int
	logger *slog.Logger
}

// NewLog creates a message log over the given store. limit caps replay
// window size; values <= 0 fall back to 50.
func NewLog(messages store.MessageStore, limit int, logger *slog.Logger) *Log {
	if limit <= 0 {
		limit = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:  messages,
		limit:  limit,
		logger: logger,
	}
}

// Append records a message authored by user in room at timestamp ts
// (microseconds since epoch). The stored record is returned with its
// assigned ID.
func (l *Log) Append(ctx context.Context, room model.Room, user model.User, content string, ts int64) (model.Message, error) {
	msg := model.Message{
		ID:        uuid.New(),
		RoomID:    room.ID,
		UserID:    user.ID,
		Content:   content,
		Timestamp: ts,
	}
	if err := l.store.InsertMessage(ctx, msg); err != nil {
		return model.Message{}, fmt.Errorf("append message to %q: %w", room.Name, err)
	}
	return msg, nil
}

// Recent returns the replay window for a room: at most limit messages
// (clamped to the log's configured cap when limit <= 0 or exceeds it),
// oldest first, with author names resolved.
func (l *Log) Recent(ctx context.Context, room model.Room, limit int) ([]store.AuthoredMessage, error) {
	if limit <= 0 || limit > l.limit {
		limit = l.limit
	}
	msgs, err := l.store.RecentMessages(ctx, room.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages for %q: %w", room.Name, err)
	}
	return msgs, nil
}

// Limit returns the configured replay window cap.
func (l *Log) Limit() int {
	return l.limit
}
