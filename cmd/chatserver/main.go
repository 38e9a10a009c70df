package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/roomchat/internal/config"
	"github.com/rickgao/roomchat/internal/database"
	"github.com/rickgao/roomchat/internal/history"
	"github.com/rickgao/roomchat/internal/httpapi"
	"github.com/rickgao/roomchat/internal/identity"
	"github.com/rickgao/roomchat/internal/rooms"
	"github.com/rickgao/roomchat/internal/router"
	"github.com/rickgao/roomchat/internal/store"
	"github.com/rickgao/roomchat/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/chatserver.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting chatserver",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"addr", cfg.HTTP.Addr,
	)

	// Create context with cancellation on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	logger.Info("database connected")

	// Wire the realtime components
	st := store.NewPostgres(pool, logger)
	registry := identity.NewRegistry(st, logger)
	tracker := rooms.NewTracker(st, logger)
	log := history.NewLog(st, cfg.Chat.HistoryLimit, logger)
	rt := router.NewRouter(registry, tracker, log, cfg.Chat.TypingIdle, logger)

	api := httpapi.NewServer(st, registry, tracker, log, rt, cfg.HTTP, cfg.Transport, logger)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("chatserver stopped")
}
