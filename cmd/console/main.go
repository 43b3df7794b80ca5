package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/jwebster45206/narrative-engine/pkg/story"
)

type ConsoleConfig struct {
	SaveDir string `env:"SAVE_DIR" envDefault:"./data/saves"`
	Debug   bool   `env:"CONSOLE_DEBUG"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <story.json|story.yaml>\n", os.Args[0])
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	var cfg ConsoleConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	s, err := readStory(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	for _, issue := range s.Validate() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", issue)
	}

	// The terminal belongs to the UI; logs go nowhere unless debugging.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Debug {
		f, err := tea.LogToFile("console-debug.log", "console")
		if err == nil {
			defer f.Close()
			logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	}

	ps, err := newPlaySession(s, cfg.SaveDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(NewConsoleUI(ps), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func readStory(path string) (*story.Story, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open story: %w", err)
	}
	defer f.Close()

	s, err := story.Decode(path, f)
	if err != nil {
		return nil, fmt.Errorf("failed to read story %s: %w", path, err)
	}
	return s, nil
}
