package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgstorage "github.com/jwebster45206/narrative-engine/pkg/storage"
)

const sessionKeyPrefix = "session:"

// RedisStorage implements the Storage interface using Redis for sessions
// and the filesystem for stories.
type RedisStorage struct {
	*StoryDir
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// Ensure RedisStorage implements Storage interface
var _ pkgstorage.Storage = (*RedisStorage)(nil)

// NewRedisClient parses a redis:// URL and creates a client. Plain host:port
// addresses are accepted too.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("redis url is required")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	return redis.NewClient(opt), nil
}

// NewRedisStorage creates a Redis-backed storage. Sessions expire ttl after
// their last save; a zero ttl keeps them forever.
func NewRedisStorage(client *redis.Client, dataDir string, ttl time.Duration, logger *slog.Logger) *RedisStorage {
	return &RedisStorage{
		StoryDir: NewStoryDir(dataDir, logger),
		client:   client,
		logger:   logger,
		ttl:      ttl,
	}
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

func (r *RedisStorage) SaveSession(ctx context.Context, s *pkgstorage.Session) error {
	if s == nil {
		return errors.New("session cannot be nil")
	}
	s.UpdatedAt = time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}

	data, err := json.Marshal(s)
	if err != nil {
		r.logger.Error("Failed to marshal session", "session_id", s.ID, "error", err)
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, sessionKey(s.ID), data, r.ttl).Err(); err != nil {
		r.logger.Error("Failed to save session", "session_id", s.ID, "error", err)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisStorage) LoadSession(ctx context.Context, id uuid.UUID) (*pkgstorage.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Debug("Session not found", "session_id", id)
			return nil, nil // Return nil for not found
		}
		r.logger.Error("Failed to load session", "session_id", id, "error", err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var s pkgstorage.Session
	if err := json.Unmarshal(data, &s); err != nil {
		r.logger.Error("Failed to unmarshal session", "session_id", id, "error", err)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *RedisStorage) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		r.logger.Error("Failed to delete session", "session_id", id, "error", err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func sessionKey(id uuid.UUID) string {
	return sessionKeyPrefix + id.String()
}
