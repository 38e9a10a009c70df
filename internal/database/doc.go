// Package database provides connection pool management for PostgreSQL.
//
// The chat service keeps all durable state (users, rooms, membership,
// messages) in a single Postgres database; ephemeral state (live
// subscription groups, typing indicators) never touches it.
package database
