package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/narrative-engine/internal/handlers"
	"github.com/jwebster45206/narrative-engine/pkg/narrative"
	"github.com/jwebster45206/narrative-engine/pkg/state"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes playthrough scripts against a running narrative-engine API
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration // Per suite
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
	StoryOverride     string // If set, overrides the story for all test cases
	KeepSessions      bool   // Leave sessions in storage after each suite
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 30 * time.Second},
		Timeout:           30 * time.Second,
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}

	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	return loadWithExpansion(filename, casesDir, map[string]bool{})
}

func loadWithExpansion(filename, casesDir string, visiting map[string]bool) ([]TestJob, error) {
	if visiting[filename] {
		return nil, fmt.Errorf("sequence cycle through %s", filename)
	}
	visiting[filename] = true
	defer delete(visiting, filename)

	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)

		subJobs, err := loadWithExpansion(casePath, casesDir, visiting)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// RunSuite executes a complete test suite in a fresh session
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results: make([]TestResult, 0, len(suite.Steps)),
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	storyFile := suite.Story
	if r.StoryOverride != "" {
		storyFile = r.StoryOverride
	}

	view, err := CreateSession(ctx, r.Client, r.BaseURL, storyFile)
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}
	result.SessionID = view.ID
	if !r.KeepSessions {
		defer func() {
			if err := DeleteSession(context.Background(), r.Client, r.BaseURL, view.ID); err != nil {
				r.Logger("    Warning: failed to delete session %s: %v", view.ID, err)
			}
		}()
	}

	if !suite.Seed.IsEmpty() {
		if _, err := PatchState(ctx, r.Client, r.BaseURL, view.ID, suite.Seed); err != nil {
			result.Error = fmt.Errorf("failed to seed state: %w", err)
			result.Duration = time.Since(start)
			return result, result.Error
		}
	}

	seedSnap, err := GetSnapshot(ctx, r.Client, r.BaseURL, view.ID)
	if err != nil {
		result.Error = fmt.Errorf("failed to snapshot seeded session: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.runStep(ctx, view.ID, step, seedSnap)
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}

		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

// runStep performs the step's action and checks its expectations
func (r *Runner) runStep(ctx context.Context, id uuid.UUID, step TestStep, seedSnap *narrative.Snapshot) TestResult {
	start := time.Now()
	result := TestResult{StepName: step.Name, IsReset: step.Reset}
	fail := func(err error) TestResult {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	var (
		view *handlers.SessionView
		err  error
	)
	switch {
	case step.Reset:
		view, err = PutSnapshot(ctx, r.Client, r.BaseURL, id, seedSnap)
	case step.Choose != nil:
		view, err = SelectChoice(ctx, r.Client, r.BaseURL, id, *step.Choose)
	case step.Set != nil:
		view, err = PatchState(ctx, r.Client, r.BaseURL, id, *step.Set)
	default:
		view, err = GetSession(ctx, r.Client, r.BaseURL, id)
	}

	if step.Expect.Status != nil {
		var apiErr *APIError
		switch {
		case err == nil:
			return fail(fmt.Errorf("expected status %d, but the request succeeded", *step.Expect.Status))
		case !errors.As(err, &apiErr):
			return fail(err)
		case apiErr.Status != *step.Expect.Status:
			return fail(fmt.Errorf("expected status %d, got %d: %s", *step.Expect.Status, apiErr.Status, apiErr.Message))
		}
		// A rejected action must not move the session.
		if view, err = GetSession(ctx, r.Client, r.BaseURL, id); err != nil {
			return fail(err)
		}
	} else if err != nil {
		return fail(err)
	}

	var snap *narrative.Snapshot
	if len(step.Expect.Flags) > 0 || len(step.Expect.Stats) > 0 {
		if snap, err = GetSnapshot(ctx, r.Client, r.BaseURL, id); err != nil {
			return fail(fmt.Errorf("failed to get snapshot for expectations: %w", err))
		}
	}

	if err := CheckExpectations(step.Expect, view, snap); err != nil {
		return fail(fmt.Errorf("expectation failed: %w", err))
	}

	if view.Node != nil {
		result.NodeID = view.Node.ID
	}
	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// CheckExpectations validates a step's expectations against the session view
// and, for state checks, its snapshot.
func CheckExpectations(exp Expectations, view *handlers.SessionView, snap *narrative.Snapshot) error {
	nodeID := ""
	terminal := false
	text := ""
	if view.Node != nil {
		nodeID = view.Node.ID
		terminal = view.Node.Terminal
		text = view.Node.Text
	}

	if exp.NodeID != nil && nodeID != *exp.NodeID {
		return fmt.Errorf("expected node %s, got %s", *exp.NodeID, nodeID)
	}

	if exp.Terminal != nil && terminal != *exp.Terminal {
		return fmt.Errorf("expected terminal to be %t, got %t", *exp.Terminal, terminal)
	}

	if exp.DeadEnd != nil && view.DeadEnd != *exp.DeadEnd {
		return fmt.Errorf("expected dead_end to be %t, got %t", *exp.DeadEnd, view.DeadEnd)
	}

	if exp.Choices != nil {
		actual := make([]string, len(view.Choices))
		for i, c := range view.Choices {
			actual[i] = c.Text
		}
		if strings.Join(actual, "\x00") != strings.Join(exp.Choices, "\x00") {
			return fmt.Errorf("expected choices %q, got %q", exp.Choices, actual)
		}
	}

	if exp.ChoiceCount != nil && len(view.Choices) != *exp.ChoiceCount {
		return fmt.Errorf("expected %d choices, got %d", *exp.ChoiceCount, len(view.Choices))
	}

	lowerText := strings.ToLower(text)
	for _, want := range exp.NodeTextContains {
		if !strings.Contains(lowerText, strings.ToLower(want)) {
			return fmt.Errorf("expected node text to contain '%s', but it didn't", want)
		}
	}

	if len(exp.Flags) > 0 || len(exp.Stats) > 0 {
		if snap == nil {
			return fmt.Errorf("state expectations need a snapshot")
		}
	}
	for key, want := range exp.Flags {
		if got := snap.Flags[key]; got != want {
			return fmt.Errorf("expected flag %s to be %t, got %t", key, want, got)
		}
	}
	for key, want := range exp.Stats {
		if got := snap.Stats[key]; !state.ApproxEqual(got, want) {
			return fmt.Errorf("expected stat %s to be %g, got %g", key, want, got)
		}
	}

	return nil
}
