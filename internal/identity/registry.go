package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/roomchat/internal/model"
	"github.com/rickgao/roomchat/internal/store"
)

// Registry resolves connections to durable user identities.
type Registry struct {
	users  store.UserStore
	logger *slog.Logger

	mu     sync.RWMutex
	byConn map[string]model.User // connection handle → bound user
	byName map[string]string     // user name → current connection handle
}

// Stats holds registry counters.
type Stats struct {
	Online int // users currently bound to a live connection
}

// NewRegistry creates a registry backed by the given user store.
func NewRegistry(users store.UserStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		users:  users,
		logger: logger,
		byConn: make(map[string]model.User),
		byName: make(map[string]string),
	}
}

// ResolveOrCreate binds a connection handle to the user named name,
// creating the user on first join. A concurrent join under the same
// name races benignly: the last write wins and the earlier handle is
// orphaned (it keeps its transport session but loses disconnect
// bookkeeping).
//
// A connection that rejoins under a different name leaves its previous
// identity stuck online with the dead handle, in the store and in the
// byName index, until that name joins again. Disconnect bookkeeping
// follows the newest binding only; an accepted limitation.
func (r *Registry) ResolveOrCreate(ctx context.Context, name, connID string) (model.User, error) {
	user, err := r.users.UpsertUserConnection(ctx, name, connID)
	if err != nil {
		return model.User{}, fmt.Errorf("resolve user %q: %w", name, err)
	}

	r.mu.Lock()
	if old, ok := r.byName[name]; ok && old != connID {
		delete(r.byConn, old)
		r.logger.Debug("connection superseded",
			"user", name,
			"old_conn", old,
			"new_conn", connID,
		)
	}
	r.byName[name] = connID
	r.byConn[connID] = user
	r.mu.Unlock()

	return user, nil
}

// ByConnection re-derives the identity bound to a handle. Returns
// false for handles that never joined or have been superseded.
func (r *Registry) ByConnection(connID string) (model.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byConn[connID]
	return user, ok
}

// MarkOffline clears a user's binding, but only if connID is still the
// live handle; a stale disconnect from a superseded connection is a
// no-op. Returns the affected user when a binding was cleared.
func (r *Registry) MarkOffline(ctx context.Context, connID string) (model.User, bool, error) {
	r.mu.Lock()
	user, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return model.User{}, false, nil
	}
	delete(r.byConn, connID)
	delete(r.byName, user.Name)
	r.mu.Unlock()

	cleared, err := r.users.ClearUserConnection(ctx, user.Name, connID)
	if err != nil {
		return model.User{}, false, fmt.Errorf("mark offline %q: %w", user.Name, err)
	}
	if !cleared {
		// The store already holds a newer handle; index and store
		// disagree only for the duration of a join/disconnect race.
		r.logger.Debug("offline write superseded in store", "user", user.Name, "conn_id", connID)
	}

	return user, true, nil
}

// Stats returns current counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Online: len(r.byConn)}
}
