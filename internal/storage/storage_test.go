package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const lanternStoryJSON = `{
	"id": "lantern",
	"title": "The Lantern",
	"start_node_id": "hall",
	"nodes": [
		{"id": "hall", "text": "A dim hall", "choices": [
			{"text": "Take the lantern", "target_node_id": "lit", "condition": {"kind": "not", "conditions": ["has_lantern"]}}
		]},
		{"id": "lit", "text": "Light at last", "choices": []}
	]
}`

const cellarStoryYAML = `
id: cellar
title: The Cellar
start_node_id: stairs
nodes:
  - id: stairs
    text: Stone stairs lead down
    choices:
      - text: Descend
        target_node_id: bottom
  - id: bottom
    text: Damp and dark
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupDataDir writes story fixtures into a temp data dir and returns it.
func setupDataDir(t *testing.T) string {
	t.Helper()

	dataDir := t.TempDir()
	storiesDir := filepath.Join(dataDir, "stories")
	if err := os.MkdirAll(storiesDir, 0o755); err != nil {
		t.Fatalf("Failed to create stories dir: %v", err)
	}

	files := map[string]string{
		"lantern.json": lanternStoryJSON,
		"cellar.yaml":  cellarStoryYAML,
		"broken.json":  `{"id": "broken", "chapters": []}`,
		"notes.txt":    "not a story",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(storiesDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return dataDir
}
