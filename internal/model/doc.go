// Package model defines shared data types used across the chat service.
//
// Conventions:
//   - Timestamps: int64 microseconds since Unix epoch
//   - IDs: uuid.UUID for durable records, ULID strings for connection handles
package model
