package runner

import (
	"time"

	"github.com/google/uuid"
)

// TestSuite is one scripted playthrough of a story, or a sequence of other
// case files when Cases is set.
type TestSuite struct {
	Name  string     `json:"name"`
	Story string     `json:"story,omitempty"` // Story file as listed by /v1/stories
	Seed  StateSeed  `json:"seed,omitempty"`  // Applied right after the session starts
	Steps []TestStep `json:"steps,omitempty"`
	Cases []string   `json:"cases,omitempty"` // Used for sequence suites
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// StateSeed is a set of flags and stats written through PATCH /state.
type StateSeed struct {
	Flags map[string]bool    `json:"flags,omitempty"`
	Stats map[string]float64 `json:"stats,omitempty"`
}

func (s StateSeed) IsEmpty() bool {
	return len(s.Flags) == 0 && len(s.Stats) == 0
}

// TestStep performs at most one action and then checks expectations.
// With no action the step only checks the current session.
type TestStep struct {
	Name   string       `json:"name,omitempty"`
	Choose *int         `json:"choose,omitempty"` // Index into the available choices
	Set    *StateSeed   `json:"set,omitempty"`    // External state mutation
	Reset  bool         `json:"reset,omitempty"`  // Restore the snapshot taken right after seeding
	Expect Expectations `json:"expect"`
}

// Expectations defines what to check after a step executes
type Expectations struct {
	NodeID           *string            `json:"node_id,omitempty"`
	Terminal         *bool              `json:"terminal,omitempty"`
	DeadEnd          *bool              `json:"dead_end,omitempty"`
	Choices          []string           `json:"choices,omitempty"` // Exact texts, in order
	ChoiceCount      *int               `json:"choice_count,omitempty"`
	NodeTextContains []string           `json:"node_text_contains,omitempty"`
	Flags            map[string]bool    `json:"flags,omitempty"`
	Stats            map[string]float64 `json:"stats,omitempty"`
	Status           *int               `json:"status,omitempty"` // Expected HTTP status when the action is meant to fail
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	StepName string
	Success  bool
	Error    error
	Duration time.Duration
	NodeID   string
	IsReset  bool // Reset steps do not count toward pass/fail metrics
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job       TestJob
	Results   []TestResult
	SessionID uuid.UUID
	Error     error
	Duration  time.Duration
}
