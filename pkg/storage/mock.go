package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/narrative-engine/pkg/story"
)

// MockStorage is an in-memory implementation of Storage for testing
type MockStorage struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	stories   map[string]*story.Story
	pingError error
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		sessions: make(map[uuid.UUID]*Session),
		stories:  make(map[string]*story.Story),
	}
}

// SetPingError configures the mock to fail on ping with the given error.
// Pass nil to make ping succeed again.
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MockStorage) Close() error {
	return nil
}

// SaveSession stores a copy of the session, stamping UpdatedAt.
func (m *MockStorage) SaveSession(ctx context.Context, s *Session) error {
	if s == nil {
		return errors.New("session cannot be nil")
	}
	s.UpdatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MockStorage) LoadSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, exists := m.sessions[id]
	if !exists {
		return nil, nil // Return nil for not found
	}
	return copySession(s), nil
}

func (m *MockStorage) DeleteSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// ListStories returns a map of story titles to filenames
func (m *MockStorage) ListStories(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string)
	for filename, s := range m.stories {
		result[s.Title] = filename
	}
	return result, nil
}

func (m *MockStorage) GetStory(ctx context.Context, filename string) (*story.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.stories[filename]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, filename)
	}
	return s, nil
}

// AddStory adds a story to the mock storage (for testing)
func (m *MockStorage) AddStory(filename string, s *story.Story) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stories[filename] = s
}

func copySession(s *Session) *Session {
	c := *s
	c.Snapshot = s.Snapshot.Clone()
	return &c
}
