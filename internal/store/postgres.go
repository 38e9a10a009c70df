package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/roomchat/internal/model"
)

// foreignKeyViolation is the Postgres error code for a missing referenced row.
const foreignKeyViolation = "23503"

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}
}

// Ping verifies the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// UserByName returns the user with the given name, or ErrNotFound.
func (p *Postgres) UserByName(ctx context.Context, name string) (model.User, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, name, connection_id, online
		FROM users
		WHERE name = $1
	`, name)
	return scanUser(row)
}

// UserByConnection returns the user holding the given handle, or ErrNotFound.
func (p *Postgres) UserByConnection(ctx context.Context, connID string) (model.User, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, name, connection_id, online
		FROM users
		WHERE connection_id = $1
	`, connID)
	return scanUser(row)
}

// UpsertUserConnection creates or re-binds a user to a connection handle.
// Concurrent identical joins race benignly: last write wins on the handle.
func (p *Postgres) UpsertUserConnection(ctx context.Context, name, connID string) (model.User, error) {
	row := p.db.QueryRow(ctx, `
		INSERT INTO users (id, name, connection_id, online)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (name) DO UPDATE
		SET connection_id = EXCLUDED.connection_id, online = TRUE
		RETURNING id, name, connection_id, online
	`, uuid.New(), name, connID)
	return scanUser(row)
}

// ClearUserConnection marks a user offline only if it still holds connID.
func (p *Postgres) ClearUserConnection(ctx context.Context, name, connID string) (bool, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE users
		SET connection_id = NULL, online = FALSE
		WHERE name = $1 AND connection_id = $2
	`, name, connID)
	if err != nil {
		return false, fmt.Errorf("clear user connection: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RoomByName returns the room with the given name, or ErrNotFound.
func (p *Postgres) RoomByName(ctx context.Context, name string) (model.Room, error) {
	var r model.Room
	err := p.db.QueryRow(ctx, `
		SELECT id, name FROM rooms WHERE name = $1
	`, name).Scan(&r.ID, &r.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Room{}, ErrNotFound
	}
	if err != nil {
		return model.Room{}, fmt.Errorf("room by name: %w", err)
	}
	return r, nil
}

// UpsertRoom creates the room on first reference and returns it.
func (p *Postgres) UpsertRoom(ctx context.Context, name string) (model.Room, error) {
	// The no-op DO UPDATE makes RETURNING yield the existing row.
	var r model.Room
	err := p.db.QueryRow(ctx, `
		INSERT INTO rooms (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`, uuid.New(), name).Scan(&r.ID, &r.Name)
	if err != nil {
		return model.Room{}, fmt.Errorf("upsert room: %w", err)
	}
	return r, nil
}

// AddMember idempotently adds a user to a room's membership set.
func (p *Postgres) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, roomID, userID)
	if isForeignKeyViolation(err) {
		return ErrInvalidReference
	}
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RoomsWithMember returns every room the user has ever joined.
func (p *Postgres) RoomsWithMember(ctx context.Context, userID uuid.UUID) ([]model.Room, error) {
	rows, err := p.db.Query(ctx, `
		SELECT r.id, r.name
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("rooms with member: %w", err)
	}
	defer rows.Close()

	var result []model.Room
	for rows.Next() {
		var r model.Room
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// InsertMessage appends a message to the log.
func (p *Postgres) InsertMessage(ctx context.Context, msg model.Message) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO messages (id, room_id, user_id, content, ts, read)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.RoomID, msg.UserID, msg.Content, msg.Timestamp, msg.Read)
	if isForeignKeyViolation(err) {
		return ErrInvalidReference
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns the newest limit messages in ascending order.
func (p *Postgres) RecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]AuthoredMessage, error) {
	rows, err := p.db.Query(ctx, `
		SELECT m.id, m.room_id, m.user_id, m.content, m.ts, m.read, u.name
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1
		ORDER BY m.ts DESC, m.id DESC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var result []AuthoredMessage
	for rows.Next() {
		var am AuthoredMessage
		if err := rows.Scan(&am.ID, &am.RoomID, &am.UserID, &am.Content, &am.Timestamp, &am.Read, &am.Author); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, am)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; callers want ascending.
	reverse(result)
	return result, nil
}

func reverse(msgs []AuthoredMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	var connID sql.NullString
	err := row.Scan(&u.ID, &u.Name, &connID, &u.Online)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.ConnectionID = connID.String
	return u, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
