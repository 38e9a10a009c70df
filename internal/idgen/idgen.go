// Package idgen generates connection handle identifiers.
//
// Handles are ULIDs: lexically sortable by creation time, which makes
// log correlation across a connection's lifetime trivial.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewConnectionID returns a new unique connection handle.
func NewConnectionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}
