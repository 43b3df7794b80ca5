package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/narrative-engine/pkg/narrative"
	"github.com/jwebster45206/narrative-engine/pkg/story"
)

// ErrStoryNotFound is returned by GetStory when no story file has the given name.
var ErrStoryNotFound = errors.New("story not found")

// Session is a saved play-through: which story file it plays and where the
// player is in it. Snapshot is nil until the story has been started.
type Session struct {
	ID        uuid.UUID           `json:"id"`
	StoryFile string              `json:"story_file"`
	Snapshot  *narrative.Snapshot `json:"snapshot,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Storage defines a unified interface for all storage operations.
// Sessions live in a database backend; stories are loaded from the filesystem.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Session operations. LoadSession returns nil, nil when the session does
	// not exist or has expired.
	SaveSession(ctx context.Context, s *Session) error
	LoadSession(ctx context.Context, id uuid.UUID) (*Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// Story operations (filesystem-backed). ListStories maps title to filename.
	ListStories(ctx context.Context) (map[string]string, error)
	GetStory(ctx context.Context, filename string) (*story.Story, error)
}
