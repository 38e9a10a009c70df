package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/roomchat/internal/config"
	"github.com/rickgao/roomchat/internal/history"
	"github.com/rickgao/roomchat/internal/identity"
	"github.com/rickgao/roomchat/internal/protocol"
	"github.com/rickgao/roomchat/internal/rooms"
	"github.com/rickgao/roomchat/internal/router"
	"github.com/rickgao/roomchat/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	registry := identity.NewRegistry(mem, nil)
	tracker := rooms.NewTracker(mem, nil)
	log := history.NewLog(mem, 50, nil)
	rt := router.NewRouter(registry, tracker, log, time.Minute, nil)

	httpCfg := config.HTTPConfig{}
	transportCfg := config.TransportConfig{
		WriteTimeout:  time.Second,
		PingInterval:  time.Minute,
		PongTimeout:   time.Minute,
		SendQueueSize: 16,
		MaxFrameBytes: 64 * 1024,
	}
	s := NewServer(mem, registry, tracker, log, rt, httpCfg, transportCfg, nil)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, mem
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s failed: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := protocol.Encode(event, data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readEvent(t *testing.T, ws *websocket.Conn, want string) protocol.Envelope {
	t.Helper()
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for %s: %v", want, err)
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decode frame %q: %v", frame, err)
		}
		if env.Event == want {
			return env
		}
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestWS_JoinSendReceive(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dialWS(t, ts)
	sendEvent(t, alice, protocol.EventJoin, protocol.Join{Name: "alice", Room: "general"})
	readEvent(t, alice, protocol.EventPastMessages)

	bob := dialWS(t, ts)
	sendEvent(t, bob, protocol.EventJoin, protocol.Join{Name: "bob", Room: "general"})
	readEvent(t, bob, protocol.EventPastMessages)

	var joined protocol.UserJoined
	env := readEvent(t, alice, protocol.EventUserJoined)
	if err := json.Unmarshal(env.Data, &joined); err != nil {
		t.Fatalf("decode userJoined: %v", err)
	}
	if joined.Name != "bob" || joined.Room != "general" {
		t.Errorf("userJoined = %+v, want bob in general", joined)
	}

	sendEvent(t, alice, protocol.EventSendMessage, protocol.SendMessage{Room: "general", Message: "hello"})

	for _, ws := range []*websocket.Conn{alice, bob} {
		env := readEvent(t, ws, protocol.EventMessage)
		var msg protocol.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.User != "alice" || msg.Message != "hello" {
			t.Errorf("message = %+v, want hello from alice", msg)
		}
	}
}

func TestWS_DisconnectNotifiesRoom(t *testing.T) {
	ts, mem := newTestServer(t)

	alice := dialWS(t, ts)
	sendEvent(t, alice, protocol.EventJoin, protocol.Join{Name: "alice", Room: "general"})
	readEvent(t, alice, protocol.EventPastMessages)

	bob := dialWS(t, ts)
	sendEvent(t, bob, protocol.EventJoin, protocol.Join{Name: "bob", Room: "general"})
	readEvent(t, bob, protocol.EventPastMessages)
	readEvent(t, alice, protocol.EventUserJoined)

	bob.Close()

	var left protocol.UserLeft
	env := readEvent(t, alice, protocol.EventUserLeft)
	if err := json.Unmarshal(env.Data, &left); err != nil {
		t.Fatalf("decode userLeft: %v", err)
	}
	if left.User != "bob" || left.Room != "general" {
		t.Errorf("userLeft = %+v, want bob from general", left)
	}

	// The store settles to offline once teardown completes.
	deadline := time.Now().Add(5 * time.Second)
	for {
		stored, err := mem.UserByName(context.Background(), "bob")
		if err == nil && !stored.Online {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("bob never marked offline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dialWS(t, ts)
	sendEvent(t, alice, protocol.EventJoin, protocol.Join{Name: "alice", Room: "general"})
	readEvent(t, alice, protocol.EventPastMessages)
	sendEvent(t, alice, protocol.EventSendMessage, protocol.SendMessage{Room: "general", Message: "hello"})
	readEvent(t, alice, protocol.EventMessage)

	resp, err := http.Get(ts.URL + "/api/v1/rooms/general/history")
	if err != nil {
		t.Fatalf("GET history failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var msgs []protocol.PastMessage
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Message != "hello" || msgs[0].User != "alice" {
		t.Errorf("history = %v, want [hello by alice]", msgs)
	}
}

func TestHistoryEndpoint_UnknownRoom(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/rooms/nowhere/history")
	if err != nil {
		t.Fatalf("GET history failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHistoryEndpoint_BadLimit(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dialWS(t, ts)
	sendEvent(t, alice, protocol.EventJoin, protocol.Join{Name: "alice", Room: "general"})
	readEvent(t, alice, protocol.EventPastMessages)

	resp, err := http.Get(ts.URL + "/api/v1/rooms/general/history?limit=nope")
	if err != nil {
		t.Fatalf("GET history failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dialWS(t, ts)
	sendEvent(t, alice, protocol.EventJoin, protocol.Join{Name: "alice", Room: "general"})
	readEvent(t, alice, protocol.EventPastMessages)

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("GET stats failed: %v", err)
	}
	defer resp.Body.Close()

	var stats struct {
		Online        int `json:"online"`
		Rooms         int `json:"rooms"`
		Subscriptions int `json:"subscriptions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if stats.Online != 1 || stats.Rooms != 1 || stats.Subscriptions != 1 {
		t.Errorf("stats = %+v, want one of each", stats)
	}
}
