package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	pkgstorage "github.com/jwebster45206/narrative-engine/pkg/storage"
	"github.com/jwebster45206/narrative-engine/pkg/story"
)

// StoryDir loads story files from <dataDir>/stories. Both session backends
// embed it for their story operations.
type StoryDir struct {
	dir    string
	logger *slog.Logger
}

// NewStoryDir creates a story loader rooted at dataDir.
func NewStoryDir(dataDir string, logger *slog.Logger) *StoryDir {
	if dataDir == "" {
		dataDir = "./data"
	}
	return &StoryDir{
		dir:    filepath.Join(dataDir, "stories"),
		logger: logger,
	}
}

// ListStories returns a map of story titles to filenames. Files that fail to
// decode are logged and skipped.
func (d *StoryDir) ListStories(ctx context.Context) (map[string]string, error) {
	stories := make(map[string]string)

	err := filepath.WalkDir(d.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == d.dir {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !story.IsStoryFile(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := d.readFile(path)
		if err != nil {
			d.logger.Warn("Failed to load story file", "path", path, "error", err)
			return nil
		}

		stories[s.Title] = filepath.Base(path)
		return nil
	})
	if err != nil {
		d.logger.Error("Failed to walk stories directory", "error", err)
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}

	return stories, nil
}

// GetStory loads a story by filename. Only bare filenames inside the stories
// directory are accepted.
func (d *StoryDir) GetStory(ctx context.Context, filename string) (*story.Story, error) {
	if filename == "" || filepath.Base(filename) != filename || !story.IsStoryFile(filename) {
		return nil, fmt.Errorf("%w: %s", pkgstorage.ErrStoryNotFound, filename)
	}

	s, err := d.readFile(filepath.Join(d.dir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", pkgstorage.ErrStoryNotFound, filename)
		}
		return nil, err
	}
	return s, nil
}

func (d *StoryDir) readFile(path string) (*story.Story, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := story.Decode(path, f)
	if err != nil {
		return nil, fmt.Errorf("failed to load story %s: %w", filepath.Base(path), err)
	}
	return s, nil
}
