package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/narrative-engine/internal/storage/sqlite"
	pkgstorage "github.com/jwebster45206/narrative-engine/pkg/storage"
)

// SQLiteStorage implements the Storage interface using a local SQLite file
// for sessions and the filesystem for stories.
type SQLiteStorage struct {
	*StoryDir
	store  *sqlite.Store
	logger *slog.Logger
	ttl    time.Duration
}

// Ensure SQLiteStorage implements Storage interface
var _ pkgstorage.Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (or creates) the database at path.
func NewSQLiteStorage(path string, dataDir string, ttl time.Duration, logger *slog.Logger) (*SQLiteStorage, error) {
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
	}
	return &SQLiteStorage{
		StoryDir: NewStoryDir(dataDir, logger),
		store:    store,
		logger:   logger,
		ttl:      ttl,
	}, nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close SQLite database", "error", err)
		return err
	}
	s.logger.Info("SQLite database closed")
	return nil
}

func (s *SQLiteStorage) SaveSession(ctx context.Context, session *pkgstorage.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	session.UpdatedAt = time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}

	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = session.UpdatedAt.Add(s.ttl)
	}
	if err := s.store.PutSession(ctx, *session, expiresAt); err != nil {
		s.logger.Error("Failed to save session", "session_id", session.ID, "error", err)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) LoadSession(ctx context.Context, id uuid.UUID) (*pkgstorage.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			s.logger.Debug("Session not found", "session_id", id)
			return nil, nil // Return nil for not found
		}
		s.logger.Error("Failed to load session", "session_id", id, "error", err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

func (s *SQLiteStorage) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteSession(ctx, id); err != nil {
		s.logger.Error("Failed to delete session", "session_id", id, "error", err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PruneExpired deletes expired sessions. Redis expires keys on its own; the
// SQLite backend needs this called periodically.
func (s *SQLiteStorage) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("Pruned expired sessions", "count", n)
	}
	return n, nil
}
