package rooms

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rickgao/roomchat/internal/store"
)

// fakeConn records frames sent to it.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func TestTracker_ResolveOrCreate_Idempotent(t *testing.T) {
	tr := NewTracker(store.NewMemory(), nil)
	ctx := context.Background()

	r1, err := tr.ResolveOrCreate(ctx, "general")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	r2, err := tr.ResolveOrCreate(ctx, "general")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	if r1.ID != r2.ID {
		t.Error("repeated resolve created a second room")
	}
}

func TestTracker_Lookup_NotFound(t *testing.T) {
	tr := NewTracker(store.NewMemory(), nil)

	_, err := tr.Lookup(context.Background(), "nowhere")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTracker_MembershipAndContaining(t *testing.T) {
	mem := store.NewMemory()
	tr := NewTracker(mem, nil)
	ctx := context.Background()

	alice, _ := mem.UpsertUserConnection(ctx, "alice", "conn-1")
	general, _ := tr.ResolveOrCreate(ctx, "general")
	random, _ := tr.ResolveOrCreate(ctx, "random")

	for i := 0; i < 2; i++ {
		if err := tr.EnsureMember(ctx, general, alice); err != nil {
			t.Fatalf("EnsureMember failed: %v", err)
		}
	}
	if err := tr.EnsureMember(ctx, random, alice); err != nil {
		t.Fatalf("EnsureMember failed: %v", err)
	}

	got, err := tr.Containing(ctx, alice)
	if err != nil {
		t.Fatalf("Containing failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Name != "general" || got[1].Name != "random" {
		t.Errorf("rooms = %v, want [general random]", got)
	}
}

func TestTracker_SubscribeUnsubscribe(t *testing.T) {
	tr := NewTracker(store.NewMemory(), nil)

	c1 := newFakeConn("conn-1")
	c2 := newFakeConn("conn-2")

	tr.Subscribe("general", c1)
	tr.Subscribe("general", c2)
	// Additive joins: c1 also subscribes elsewhere, keeping general.
	tr.Subscribe("random", c1)

	if got := tr.GroupSize("general"); got != 2 {
		t.Errorf("GroupSize(general) = %d, want 2", got)
	}
	if got := tr.GroupSize("random"); got != 1 {
		t.Errorf("GroupSize(random) = %d, want 1", got)
	}

	tr.Unsubscribe("general", "conn-1")
	if got := tr.GroupSize("general"); got != 1 {
		t.Errorf("GroupSize(general) = %d, want 1", got)
	}
	if got := tr.GroupSize("random"); got != 1 {
		t.Errorf("GroupSize(random) = %d after unrelated unsubscribe, want 1", got)
	}

	// Unsubscribing an unknown room or handle is a no-op.
	tr.Unsubscribe("nowhere", "conn-1")
	tr.Unsubscribe("general", "conn-1")
}

func TestTracker_Broadcast(t *testing.T) {
	tr := NewTracker(store.NewMemory(), nil)

	c1 := newFakeConn("conn-1")
	c2 := newFakeConn("conn-2")
	c3 := newFakeConn("conn-3")
	tr.Subscribe("general", c1)
	tr.Subscribe("general", c2)
	tr.Subscribe("random", c3)

	frame := []byte(`{"event":"message"}`)
	tr.Broadcast("general", frame)

	if len(c1.sent()) != 1 || len(c2.sent()) != 1 {
		t.Error("both subscribers should receive the frame")
	}
	if len(c3.sent()) != 0 {
		t.Error("other rooms must not receive the frame")
	}
}

func TestTracker_BroadcastOthers_ExcludesSender(t *testing.T) {
	tr := NewTracker(store.NewMemory(), nil)

	sender := newFakeConn("conn-1")
	peer := newFakeConn("conn-2")
	tr.Subscribe("general", sender)
	tr.Subscribe("general", peer)

	tr.BroadcastOthers("general", "conn-1", []byte(`{"event":"typing"}`))

	if len(sender.sent()) != 0 {
		t.Error("sender must be excluded")
	}
	if len(peer.sent()) != 1 {
		t.Error("peer should receive the frame")
	}
}

func TestTracker_Broadcast_ClosedPeerIgnored(t *testing.T) {
	tr := NewTracker(store.NewMemory(), nil)

	dead := newFakeConn("conn-1")
	dead.Close()
	live := newFakeConn("conn-2")
	tr.Subscribe("general", dead)
	tr.Subscribe("general", live)

	tr.Broadcast("general", []byte(`{"event":"message"}`))

	if len(live.sent()) != 1 {
		t.Error("fan-out must continue past a closed peer")
	}
}

func TestTracker_Stats(t *testing.T) {
	tr := NewTracker(store.NewMemory(), nil)

	tr.Subscribe("general", newFakeConn("conn-1"))
	tr.Subscribe("general", newFakeConn("conn-2"))
	tr.Subscribe("random", newFakeConn("conn-3"))

	s := tr.Stats()
	if s.Rooms != 2 {
		t.Errorf("Rooms = %d, want 2", s.Rooms)
	}
	if s.Subscriptions != 3 {
		t.Errorf("Subscriptions = %d, want 3", s.Subscriptions)
	}
}
