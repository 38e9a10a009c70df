// Package store provides durable storage access for users, rooms,
// room membership, and messages.
//
// Two implementations exist:
//   - Postgres: production storage backed by a pgx connection pool
//   - Memory: in-process storage used by unit tests
//
// All write operations are single-record and idempotent or
// last-write-wins at the field level; no multi-step transaction spans
// more than one logical update. Concurrent identical find-or-create
// calls converge via ON CONFLICT upserts.
package store
