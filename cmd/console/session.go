package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jwebster45206/narrative-engine/pkg/narrative"
	"github.com/jwebster45206/narrative-engine/pkg/story"
)

type entryKind int

const (
	entryNode entryKind = iota
	entryChoice
	entryNotice
)

// entry is one line of the play transcript.
type entry struct {
	kind entryKind
	text string
}

// playSession runs one story in-process and records what the player saw.
type playSession struct {
	engine     *narrative.Engine
	saveDir    string
	transcript []entry
}

func newPlaySession(s *story.Story, saveDir string, logger *slog.Logger) (*playSession, error) {
	ps := &playSession{
		engine:  narrative.NewEngine(narrative.WithLogger(logger)),
		saveDir: saveDir,
	}
	ps.engine.OnNodeChanged(func(t narrative.Transition) {
		ps.transcript = append(ps.transcript, entry{kind: entryNode, text: t.Node.Text})
	})

	if err := ps.engine.LoadStory(s); err != nil {
		return nil, fmt.Errorf("failed to load story: %w", err)
	}
	if err := ps.engine.StartStory(); err != nil {
		return nil, fmt.Errorf("failed to start story: %w", err)
	}
	return ps, nil
}

// choose selects the i-th available choice.
func (ps *playSession) choose(i int) error {
	choices := ps.engine.AvailableChoices()
	if i < 0 || i >= len(choices) {
		return ps.engine.SelectChoice(i)
	}
	ps.transcript = append(ps.transcript, entry{kind: entryChoice, text: choices[i].Text})
	return ps.engine.SelectChoice(i)
}

// restart clears all state and returns to the start node.
func (ps *playSession) restart() error {
	ps.engine.State().ClearAll()
	ps.transcript = append(ps.transcript, entry{kind: entryNotice, text: "Story restarted."})
	return ps.engine.StartStory()
}

func (ps *playSession) savePath() string {
	return filepath.Join(ps.saveDir, ps.engine.Story().ID+".save.json")
}

func (ps *playSession) snapshotJSON() ([]byte, error) {
	return narrative.MarshalSnapshot(ps.engine.CreateSnapshot())
}

// save writes the quick-save slot for the current story.
func (ps *playSession) save() (string, error) {
	data, err := ps.snapshotJSON()
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := os.MkdirAll(ps.saveDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create save directory: %w", err)
	}
	path := ps.savePath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write save: %w", err)
	}
	ps.transcript = append(ps.transcript, entry{kind: entryNotice, text: "Saved to " + path})
	return path, nil
}

// load restores the quick-save slot. A rejected save leaves the session as it was.
func (ps *playSession) load() error {
	data, err := os.ReadFile(ps.savePath())
	if err != nil {
		return fmt.Errorf("failed to read save: %w", err)
	}
	snap, err := narrative.UnmarshalSnapshot(data)
	if err != nil {
		return err
	}

	n := len(ps.transcript)
	ps.transcript = append(ps.transcript, entry{kind: entryNotice, text: "Save loaded."})
	if err := ps.engine.RestoreSnapshot(snap); err != nil {
		ps.transcript = ps.transcript[:n]
		return fmt.Errorf("failed to restore save: %w", err)
	}
	return nil
}
