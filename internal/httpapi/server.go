package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/rickgao/roomchat/internal/config"
	"github.com/rickgao/roomchat/internal/history"
	"github.com/rickgao/roomchat/internal/identity"
	"github.com/rickgao/roomchat/internal/protocol"
	"github.com/rickgao/roomchat/internal/rooms"
	"github.com/rickgao/roomchat/internal/router"
	"github.com/rickgao/roomchat/internal/store"
	"github.com/rickgao/roomchat/internal/transport"
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	store    store.Store
	registry *identity.Registry
	tracker  *rooms.Tracker
	log      *history.Log
	router   *router.Router
	logger   *slog.Logger

	transportCfg transport.Config
	upgrader     websocket.Upgrader
	allowed      []string
}

// NewServer builds the HTTP surface over the given components.
func NewServer(
	st store.Store,
	registry *identity.Registry,
	tracker *rooms.Tracker,
	log *history.Log,
	rt *router.Router,
	httpCfg config.HTTPConfig,
	transportCfg config.TransportConfig,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:    st,
		registry: registry,
		tracker:  tracker,
		log:      log,
		router:   rt,
		logger:   logger,
		transportCfg: transport.Config{
			WriteTimeout:  transportCfg.WriteTimeout,
			PingInterval:  transportCfg.PingInterval,
			PongTimeout:   transportCfg.PongTimeout,
			SendQueueSize: transportCfg.SendQueueSize,
			MaxFrameBytes: transportCfg.MaxFrameBytes,
		},
		allowed: httpCfg.AllowedOrigins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.handleWS)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/rooms/{room}/history", s.handleHistory)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		http.Error(w, "store unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleWS upgrades the request and pumps inbound frames through the
// event router until the peer goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := transport.NewWSConn(ws, s.transportCfg, s.logger)
	s.logger.Info("connection opened", "conn_id", conn.ID(), "remote", r.RemoteAddr)

	defer func() {
		// Teardown runs against the background context; the request
		// context is already done once the peer drops.
		if err := s.router.Disconnect(context.Background(), conn); err != nil {
			s.logger.Error("disconnect handling failed", "conn_id", conn.ID(), "error", err)
		}
		conn.Close()
		s.logger.Info("connection closed", "conn_id", conn.ID(), "dropped_frames", conn.Dropped())
	}()

	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("read loop ended", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if err := s.router.Dispatch(r.Context(), conn, env); err != nil {
			s.logger.Error("dispatch failed", "conn_id", conn.ID(), "event", env.Event, "error", err)
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "room")

	room, err := s.tracker.Lookup(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("history lookup failed", "room", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	msgs, err := s.log.Recent(r.Context(), room, limit)
	if err != nil {
		s.logger.Error("history read failed", "room", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]protocol.PastMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.PastMessage{
			User:      m.Author,
			Message:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	type stats struct {
		Online        int   `json:"online"`
		Rooms         int   `json:"rooms"`
		Subscriptions int   `json:"subscriptions"`
		Sessions      int   `json:"sessions"`
		TypingActive  int   `json:"typing_active"`
		Routed        int64 `json:"routed"`
		Dropped       int64 `json:"dropped"`
	}
	reg := s.registry.Stats()
	trk := s.tracker.Stats()
	rt := s.router.Stats()
	writeJSON(w, http.StatusOK, stats{
		Online:        reg.Online,
		Rooms:         trk.Rooms,
		Subscriptions: trk.Subscriptions,
		Sessions:      rt.Sessions,
		TypingActive:  rt.TypingActive,
		Routed:        rt.Routed,
		Dropped:       rt.Dropped,
	})
}

func (s *Server) originAllowed(r *http.Request) bool {
	if len(s.allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsOrigins() []string {
	if len(s.allowed) == 0 {
		return []string{"*"}
	}
	return s.allowed
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
