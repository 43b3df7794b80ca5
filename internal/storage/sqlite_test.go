package storage

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/narrative-engine/pkg/narrative"
	pkgstorage "github.com/jwebster45206/narrative-engine/pkg/storage"
)

func setupTestSQLite(t *testing.T, ttl time.Duration) *SQLiteStorage {
	t.Helper()

	ss, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "sessions.db"), setupDataDir(t), ttl, testLogger())
	if err != nil {
		t.Fatalf("Failed to open sqlite storage: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	return ss
}

func TestSQLiteStorage_SessionLifecycle(t *testing.T) {
	ss := setupTestSQLite(t, time.Hour)
	ctx := context.Background()

	if err := ss.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	session := &pkgstorage.Session{ID: uuid.New(), StoryFile: "cellar.yaml"}
	if err := ss.SaveSession(ctx, session); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	loaded, err := ss.LoadSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if loaded == nil || loaded.Snapshot != nil {
		t.Fatalf("Expected unstarted session, got %+v", loaded)
	}

	session.Snapshot = &narrative.Snapshot{
		Version: narrative.SnapshotVersion,
		StoryID: "cellar",
		NodeID:  "bottom",
		Flags:   map[string]bool{},
		Stats:   map[string]float64{},
	}
	if err := ss.SaveSession(ctx, session); err != nil {
		t.Fatalf("Failed to update session: %v", err)
	}
	loaded, err = ss.LoadSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("Failed to reload session: %v", err)
	}
	if loaded.Snapshot == nil || loaded.Snapshot.NodeID != "bottom" {
		t.Errorf("Expected snapshot at bottom, got %+v", loaded.Snapshot)
	}

	if err := ss.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("Failed to delete session: %v", err)
	}
	loaded, err = ss.LoadSession(ctx, session.ID)
	if err != nil || loaded != nil {
		t.Errorf("Expected nil, nil after delete; got %v, %v", loaded, err)
	}
}

func TestSQLiteStorage_PruneExpired(t *testing.T) {
	ss := setupTestSQLite(t, time.Nanosecond)
	ctx := context.Background()

	session := &pkgstorage.Session{ID: uuid.New(), StoryFile: "cellar.yaml"}
	if err := ss.SaveSession(ctx, session); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	loaded, err := ss.LoadSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if loaded != nil {
		t.Error("Expected expired session to be hidden")
	}

	n, err := ss.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 pruned session, got %d", n)
	}
}

func TestSQLiteStorage_PruneExpiredLogsOnce(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	ss, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "sessions.db"), setupDataDir(t), time.Nanosecond, logger)
	if err != nil {
		t.Fatalf("Failed to open sqlite storage: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	ctx := context.Background()

	if err := ss.SaveSession(ctx, &pkgstorage.Session{ID: uuid.New(), StoryFile: "cellar.yaml"}); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := ss.PruneExpired(ctx); err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if _, err := ss.PruneExpired(ctx); err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if got := strings.Count(out.String(), "Pruned expired sessions"); got != 1 {
		t.Errorf("Expected one prune log line, got %d:\n%s", got, out.String())
	}
}
