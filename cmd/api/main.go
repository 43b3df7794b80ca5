package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/narrative-engine/internal/config"
	"github.com/jwebster45206/narrative-engine/internal/handlers"
	"github.com/jwebster45206/narrative-engine/internal/logger"
	"github.com/jwebster45206/narrative-engine/internal/middleware"
	"github.com/jwebster45206/narrative-engine/internal/services/events"
	istorage "github.com/jwebster45206/narrative-engine/internal/storage"
	"github.com/jwebster45206/narrative-engine/pkg/storage"
)

const pruneInterval = 10 * time.Minute

func main() {
	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Narrative Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"storage_backend", cfg.StorageBackend,
		"data_dir", cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store       storage.Storage
		broadcaster *events.Broadcaster
		redisClient *redis.Client
	)

	switch cfg.StorageBackend {
	case config.BackendRedis:
		redisClient, err = istorage.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.WithError(log, err).Error("Invalid Redis configuration")
			os.Exit(1)
		}
		rs := istorage.NewRedisStorage(redisClient, cfg.DataDir, cfg.SessionTTL, log)

		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		err = rs.WaitForConnection(waitCtx)
		cancel()
		if err != nil {
			logger.WithError(log, err).Error("Failed to connect to storage")
			os.Exit(1)
		}
		store = rs
		broadcaster = events.NewBroadcaster(redisClient, log)

	case config.BackendSQLite:
		ss, err := istorage.NewSQLiteStorage(cfg.SQLitePath, cfg.DataDir, cfg.SessionTTL, log)
		if err != nil {
			logger.WithError(log, err).Error("Failed to open SQLite storage", "path", cfg.SQLitePath)
			os.Exit(1)
		}
		store = ss
		go pruneLoop(ctx, ss, pruneInterval, log)

		// Events still need Redis; without it the API runs and SSE answers 503.
		redisClient, broadcaster = optionalBroadcaster(ctx, cfg.RedisURL, log)
	}
	log.Info("Storage connection established successfully")

	mux := http.NewServeMux()

	mux.Handle("/health", handlers.NewHealthHandler(store, log))

	storyHandler := handlers.NewStoryHandler(log, store)
	mux.Handle("/v1/stories", storyHandler)
	mux.Handle("/v1/stories/", storyHandler)

	sessionHandler := handlers.NewSessionHandler(log, store, broadcaster)
	mux.Handle("/v1/sessions", sessionHandler)
	mux.Handle("/v1/sessions/", sessionHandler)

	mux.Handle("/v1/events/sessions/", handlers.NewEventsHandler(broadcaster, log))

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     middleware.Chain(mux, middleware.Recover(log), middleware.RequestID, middleware.Logger(log)),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the events endpoint streams indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}
	// The Redis storage owns its client; only close a client used for events alone.
	if cfg.StorageBackend == config.BackendSQLite && redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis connection", "error", err)
		}
	}

	log.Info("Server exited")
}

// optionalBroadcaster connects to Redis for event streaming, returning nils
// when it is unreachable.
func optionalBroadcaster(ctx context.Context, redisURL string, log *slog.Logger) (*redis.Client, *events.Broadcaster) {
	if redisURL == "" {
		return nil, nil
	}
	client, err := istorage.NewRedisClient(redisURL)
	if err != nil {
		log.Warn("Event streaming disabled", "error", err)
		return nil, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("Event streaming disabled, Redis unreachable", "error", err)
		_ = client.Close()
		return nil, nil
	}
	return client, events.NewBroadcaster(client, log)
}

type pruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

func pruneLoop(ctx context.Context, s pruner, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The storage logs what it removed.
			if _, err := s.PruneExpired(ctx); err != nil {
				log.Error("Failed to prune expired sessions", "error", err)
			}
		}
	}
}
