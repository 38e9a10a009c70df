// Package history implements the append-only message log.
//
// Appends assign a record ID and timestamp at write time; reads return
// the most recent window for a room in ascending timestamp order, so a
// client can render it top to bottom without re-sorting.
package history
