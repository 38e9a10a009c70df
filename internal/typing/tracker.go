package typing

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ExpireFunc is called when an indicator lapses on the idle timer
// rather than by an explicit stop. It runs outside the tracker lock.
type ExpireFunc func(room, user string)

type entry struct {
	gen   uint64
	timer *time.Timer
}

// Tracker holds the set of users currently typing per room.
type Tracker struct {
	idle     time.Duration
	onExpire ExpireFunc
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]map[string]*entry // room name → user name → entry
	gen     uint64
}

// Stats holds tracker counters.
type Stats struct {
	Active int // live indicators across all rooms
}

// NewTracker creates a tracker whose indicators lapse after idle
// without a refresh. onExpire may be nil.
func NewTracker(idle time.Duration, onExpire ExpireFunc, logger *slog.Logger) *Tracker {
	if idle <= 0 {
		idle = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		idle:     idle,
		onExpire: onExpire,
		logger:   logger,
		entries:  make(map[string]map[string]*entry),
	}
}

// Set marks user as typing in room. Returns true if the indicator is
// new; a repeat while already typing refreshes the idle timer and
// returns false.
func (t *Tracker) Set(room, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.entries[room]
	if !ok {
		users = make(map[string]*entry)
		t.entries[room] = users
	}

	if e, ok := users[user]; ok {
		t.gen++
		e.gen = t.gen
		e.timer.Reset(t.idle)
		return false
	}

	t.gen++
	e := &entry{gen: t.gen}
	gen := e.gen
	e.timer = time.AfterFunc(t.idle, func() {
		t.expire(room, user, gen)
	})
	users[user] = e
	return true
}

// Clear removes user's indicator in room. Returns true if an indicator
// was live; clearing an absent indicator is a no-op.
func (t *Tracker) Clear(room, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clearLocked(room, user)
}

// ClearUser removes user's indicators in every room, returning the
// rooms that had one. Used on disconnect.
func (t *Tracker) ClearUser(user string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rooms []string
	for room, users := range t.entries {
		if _, ok := users[user]; ok {
			t.clearLocked(room, user)
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)
	return rooms
}

// Active returns the users currently typing in room, in name order.
func (t *Tracker) Active(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.entries[room]
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns current counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats
	for _, users := range t.entries {
		s.Active += len(users)
	}
	return s
}

func (t *Tracker) clearLocked(room, user string) bool {
	users, ok := t.entries[room]
	if !ok {
		return false
	}
	e, ok := users[user]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(users, user)
	if len(users) == 0 {
		delete(t.entries, room)
	}
	return true
}

func (t *Tracker) expire(room, user string, gen uint64) {
	t.mu.Lock()
	users, ok := t.entries[room]
	if !ok {
		t.mu.Unlock()
		return
	}
	e, ok := users[user]
	if !ok || e.gen != gen {
		// Refreshed or cleared after this timer fired.
		t.mu.Unlock()
		return
	}
	delete(users, user)
	if len(users) == 0 {
		delete(t.entries, room)
	}
	t.mu.Unlock()

	t.logger.Debug("typing indicator lapsed", "room", room, "user", user)
	if t.onExpire != nil {
		t.onExpire(room, user)
	}
}
