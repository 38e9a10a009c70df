package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/rickgao/roomchat/internal/model"
)

func TestMemory_UpsertUserConnection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	u1, err := m.UpsertUserConnection(ctx, "alice", "conn-1")
	if err != nil {
		t.Fatalf("UpsertUserConnection failed: %v", err)
	}
	if !u1.Online {
		t.Error("expected online after join")
	}
	if u1.ConnectionID != "conn-1" {
		t.Errorf("ConnectionID = %q, want %q", u1.ConnectionID, "conn-1")
	}

	// Rejoin replaces the handle but keeps the identity.
	u2, err := m.UpsertUserConnection(ctx, "alice", "conn-2")
	if err != nil {
		t.Fatalf("UpsertUserConnection failed: %v", err)
	}
	if u2.ID != u1.ID {
		t.Error("rejoin created a second user record")
	}
	if u2.ConnectionID != "conn-2" {
		t.Errorf("ConnectionID = %q, want %q", u2.ConnectionID, "conn-2")
	}
}

func TestMemory_ClearUserConnection_StaleGuard(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.UpsertUserConnection(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("UpsertUserConnection failed: %v", err)
	}
	if _, err := m.UpsertUserConnection(ctx, "alice", "conn-2"); err != nil {
		t.Fatalf("UpsertUserConnection failed: %v", err)
	}

	// Disconnect of the superseded handle must not clobber the newer session.
	cleared, err := m.ClearUserConnection(ctx, "alice", "conn-1")
	if err != nil {
		t.Fatalf("ClearUserConnection failed: %v", err)
	}
	if cleared {
		t.Error("stale disconnect cleared a newer session")
	}

	u, err := m.UserByName(ctx, "alice")
	if err != nil {
		t.Fatalf("UserByName failed: %v", err)
	}
	if !u.Online || u.ConnectionID != "conn-2" {
		t.Errorf("user = %+v, want online with conn-2", u)
	}

	// The live handle clears normally.
	cleared, err = m.ClearUserConnection(ctx, "alice", "conn-2")
	if err != nil {
		t.Fatalf("ClearUserConnection failed: %v", err)
	}
	if !cleared {
		t.Error("expected live handle to clear")
	}

	u, _ = m.UserByName(ctx, "alice")
	if u.Online || u.ConnectionID != "" {
		t.Errorf("user = %+v, want offline with no handle", u)
	}
}

func TestMemory_UserByConnection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.UserByConnection(ctx, "conn-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if _, err := m.UpsertUserConnection(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("UpsertUserConnection failed: %v", err)
	}

	u, err := m.UserByConnection(ctx, "conn-1")
	if err != nil {
		t.Fatalf("UserByConnection failed: %v", err)
	}
	if u.Name != "alice" {
		t.Errorf("Name = %q, want %q", u.Name, "alice")
	}

	// Offline users are not reachable by an empty handle.
	if _, err := m.ClearUserConnection(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("ClearUserConnection failed: %v", err)
	}
	if _, err := m.UserByConnection(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for empty handle", err)
	}
}

func TestMemory_Membership_Monotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	alice, _ := m.UpsertUserConnection(ctx, "alice", "conn-1")
	room, err := m.UpsertRoom(ctx, "general")
	if err != nil {
		t.Fatalf("UpsertRoom failed: %v", err)
	}

	// Repeated joins never duplicate membership.
	for i := 0; i < 3; i++ {
		if err := m.AddMember(ctx, room.ID, alice.ID); err != nil {
			t.Fatalf("AddMember failed: %v", err)
		}
	}

	rooms, err := m.RoomsWithMember(ctx, alice.ID)
	if err != nil {
		t.Fatalf("RoomsWithMember failed: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("len(rooms) = %d, want 1", len(rooms))
	}
	if rooms[0].Name != "general" {
		t.Errorf("room = %q, want %q", rooms[0].Name, "general")
	}
}

func TestMemory_AddMember_InvalidReference(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	alice, _ := m.UpsertUserConnection(ctx, "alice", "conn-1")
	room, _ := m.UpsertRoom(ctx, "general")

	if err := m.AddMember(ctx, uuid.New(), alice.ID); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("err = %v, want ErrInvalidReference for missing room", err)
	}
	if err := m.AddMember(ctx, room.ID, uuid.New()); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("err = %v, want ErrInvalidReference for missing user", err)
	}
}

func TestMemory_RecentMessages_LimitAndOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	alice, _ := m.UpsertUserConnection(ctx, "alice", "conn-1")
	room, _ := m.UpsertRoom(ctx, "general")
	_ = m.AddMember(ctx, room.ID, alice.ID)

	for i := 0; i < 60; i++ {
		msg := model.Message{
			ID:        uuid.New(),
			RoomID:    room.ID,
			UserID:    alice.ID,
			Content:   fmt.Sprintf("msg-%d", i),
			Timestamp: int64(1000 + i),
		}
		if err := m.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}

	got, err := m.RecentMessages(ctx, room.ID, 50)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("len = %d, want 50", len(got))
	}
	// The 50 most recent, oldest first.
	if got[0].Content != "msg-10" {
		t.Errorf("first = %q, want %q", got[0].Content, "msg-10")
	}
	if got[49].Content != "msg-59" {
		t.Errorf("last = %q, want %q", got[49].Content, "msg-59")
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("messages not ascending at index %d", i)
		}
	}
	if got[0].Author != "alice" {
		t.Errorf("Author = %q, want %q", got[0].Author, "alice")
	}
}

func TestMemory_InsertMessage_InvalidReference(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	alice, _ := m.UpsertUserConnection(ctx, "alice", "conn-1")

	msg := model.Message{ID: uuid.New(), RoomID: uuid.New(), UserID: alice.ID, Content: "hi"}
	if err := m.InsertMessage(ctx, msg); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("err = %v, want ErrInvalidReference", err)
	}
}
