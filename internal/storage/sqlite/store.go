// Package sqlite provides a SQLite-backed session store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jwebster45206/narrative-engine/internal/storage/sqlite/migrations"
	"github.com/jwebster45206/narrative-engine/pkg/narrative"
	pkgstorage "github.com/jwebster45206/narrative-engine/pkg/storage"
)

// ErrNotFound is returned when a session row does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Store persists sessions in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite session store and applies embedded migrations.
// Use ":memory:" only with a single connection; tests use a temp file.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.sqlDB.PingContext(ctx)
}

// PutSession inserts or replaces a session. A zero expiresAt never expires.
func (s *Store) PutSession(ctx context.Context, session pkgstorage.Session, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if session.ID == uuid.Nil {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.StoryFile) == "" {
		return fmt.Errorf("story file is required")
	}

	var snapshotJSON sql.NullString
	if session.Snapshot != nil {
		data, err := narrative.MarshalSnapshot(session.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		snapshotJSON = sql.NullString{String: string(data), Valid: true}
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = session.UpdatedAt
	}
	var expires int64
	if !expiresAt.IsZero() {
		expires = toMillis(expiresAt)
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (id, story_file, snapshot_json, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   story_file = excluded.story_file,
		   snapshot_json = excluded.snapshot_json,
		   updated_at = excluded.updated_at,
		   expires_at = excluded.expires_at`,
		session.ID.String(),
		session.StoryFile,
		snapshotJSON,
		toMillis(createdAt),
		toMillis(session.UpdatedAt),
		expires,
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession returns one live session by id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (pkgstorage.Session, error) {
	if err := ctx.Err(); err != nil {
		return pkgstorage.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return pkgstorage.Session{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, story_file, snapshot_json, created_at, updated_at
		   FROM sessions
		  WHERE id = ? AND (expires_at = 0 OR expires_at > ?)`,
		id.String(),
		toMillis(s.now()),
	)

	var (
		rawID        string
		session      pkgstorage.Session
		snapshotJSON sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&rawID, &session.StoryFile, &snapshotJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pkgstorage.Session{}, ErrNotFound
		}
		return pkgstorage.Session{}, fmt.Errorf("get session: %w", err)
	}

	session.ID, err = uuid.Parse(rawID)
	if err != nil {
		return pkgstorage.Session{}, fmt.Errorf("parse session id: %w", err)
	}
	if snapshotJSON.Valid {
		session.Snapshot, err = narrative.UnmarshalSnapshot([]byte(snapshotJSON.String))
		if err != nil {
			return pkgstorage.Session{}, err
		}
	}
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return session, nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions whose expiry has passed and reports how many.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at != 0 AND expires_at <= ?`, toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
