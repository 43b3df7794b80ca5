package narrative

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/narrative-engine/pkg/conditionals"
	"github.com/jwebster45206/narrative-engine/pkg/story"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(WithLogger(testLogger()), WithClock(func() time.Time { return fixedNow }))
}

// s1: n1 has an open path to n2 and a lantern-gated path to n3.
func forestStory() *story.Story {
	return story.New("s1", "Forest", "n1",
		story.NewNode("n1", "Edge of forest",
			story.NewChoice("Go left", "n2"),
			story.NewConditionalChoice("Use the lantern", "n3", conditionals.FlagEquals("has_lantern", true)),
		),
		story.NewNode("n2", "Dark path"),
		story.NewNode("n3", "Light path").WithBackground("bg/light.png"),
	)
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) record(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions)
}

func (r *recorder) last() Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions[len(r.transitions)-1]
}

func TestEngine_ForestEndToEnd(t *testing.T) {
	s := story.New("s1", "Forest", "n1",
		story.NewNode("n1", "Edge of forest",
			story.NewChoice("left", "n2"),
			story.NewChoice("right", "n3"),
		),
		story.NewNode("n2", "Dark path"),
		story.NewNode("n3", "Light path"),
	)

	tests := []struct {
		name     string
		choice   int
		wantNode string
	}{
		{name: "left", choice: 0, wantNode: "n2"},
		{name: "right", choice: 1, wantNode: "n3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			rec := &recorder{}
			e.OnNodeChanged(rec.record)
			require.NoError(t, e.LoadStory(s))

			require.NoError(t, e.StartStory())
			require.Equal(t, 1, rec.count())
			assert.Equal(t, "n1", rec.last().Node.ID)
			require.Len(t, rec.last().Choices, 2)
			assert.Equal(t, "left", rec.last().Choices[0].Text)
			assert.Equal(t, "right", rec.last().Choices[1].Text)

			require.NoError(t, e.SelectChoice(tt.choice))
			require.Equal(t, 2, rec.count())
			assert.Equal(t, tt.wantNode, rec.last().Node.ID)
			assert.Empty(t, rec.last().Choices)
			assert.True(t, rec.last().Node.IsTerminal())
			assert.True(t, e.IsTerminal())
		})
	}
}

func TestEngine_PlaythroughWithLantern(t *testing.T) {
	e := newTestEngine()
	rec := &recorder{}
	e.OnNodeChanged(rec.record)

	assert.Equal(t, PhaseUnloaded, e.Phase())
	require.NoError(t, e.LoadStory(forestStory()))
	assert.Equal(t, PhaseLoaded, e.Phase())
	assert.Nil(t, e.CurrentNode())

	require.NoError(t, e.StartStory())
	assert.Equal(t, PhasePositioned, e.Phase())
	require.Equal(t, 1, rec.count())
	first := rec.last()
	assert.Equal(t, "n1", first.Node.ID)
	require.Len(t, first.Choices, 1)
	assert.Equal(t, "Go left", first.Choices[0].Text)

	e.SetFlag("has_lantern", true)
	choices := e.AvailableChoices()
	require.Len(t, choices, 2)
	assert.Equal(t, "Use the lantern", choices[1].Text)

	require.NoError(t, e.SelectChoice(1))
	assert.Equal(t, 2, rec.count())
	assert.Equal(t, "n3", e.CurrentNode().ID)
	assert.Equal(t, "bg/light.png", rec.last().Node.BackgroundRef)
	assert.Empty(t, rec.last().Choices)
	assert.True(t, e.IsTerminal())
	assert.False(t, e.IsDeadEnd())
}

func TestEngine_StaleIndexIsRejected(t *testing.T) {
	e := newTestEngine()
	rec := &recorder{}
	e.OnNodeChanged(rec.record)
	require.NoError(t, e.LoadStory(forestStory()))
	e.SetFlag("has_lantern", true)
	require.NoError(t, e.StartStory())
	require.Len(t, rec.last().Choices, 2)

	// The lantern goes out after the choices were displayed.
	e.SetFlag("has_lantern", false)

	err := e.SelectChoice(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChoiceIndexOutOfRange))

	var idxErr *ChoiceIndexError
	require.True(t, errors.As(err, &idxErr))
	assert.Equal(t, 1, idxErr.Index)
	assert.Equal(t, 1, idxErr.Available)
	assert.Equal(t, "n1", idxErr.NodeID)

	assert.Equal(t, "n1", e.CurrentNode().ID)
	assert.Equal(t, 1, rec.count(), "failed selection must not notify")
}

func TestEngine_SelectChoiceErrors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(e *Engine)
		index    int
		expected error
	}{
		{
			name:     "no story",
			setup:    func(e *Engine) {},
			index:    0,
			expected: ErrNoCurrentNode,
		},
		{
			name: "loaded but not started",
			setup: func(e *Engine) {
				_ = e.LoadStory(forestStory())
			},
			index:    0,
			expected: ErrNoCurrentNode,
		},
		{
			name: "negative index",
			setup: func(e *Engine) {
				_ = e.LoadStory(forestStory())
				_ = e.StartStory()
			},
			index:    -1,
			expected: ErrChoiceIndexOutOfRange,
		},
		{
			name: "index past end",
			setup: func(e *Engine) {
				_ = e.LoadStory(forestStory())
				_ = e.StartStory()
			},
			index:    5,
			expected: ErrChoiceIndexOutOfRange,
		},
		{
			name: "terminal node",
			setup: func(e *Engine) {
				_ = e.LoadStory(forestStory())
				_ = e.GoToNode("n2")
			},
			index:    0,
			expected: ErrChoiceIndexOutOfRange,
		},
		{
			name: "dangling target",
			setup: func(e *Engine) {
				_ = e.LoadStory(story.New("s", "S", "a",
					story.NewNode("a", "x", story.NewChoice("void", "nowhere"))))
				_ = e.StartStory()
			},
			index:    0,
			expected: ErrNodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			tt.setup(e)
			before := e.CurrentNode()

			rec := &recorder{}
			e.OnNodeChanged(rec.record)

			err := e.SelectChoice(tt.index)
			assert.ErrorIs(t, err, tt.expected)
			assert.Same(t, before, e.CurrentNode())
			assert.Zero(t, rec.count())
		})
	}
}

func TestEngine_StartStoryErrors(t *testing.T) {
	e := newTestEngine()
	assert.ErrorIs(t, e.StartStory(), ErrNoStoryLoaded)

	require.NoError(t, e.LoadStory(story.New("s", "S", "missing", story.NewNode("a", "x"))))
	err := e.StartStory()
	assert.ErrorIs(t, err, ErrMissingStartNode)
	assert.Contains(t, err.Error(), `"missing"`)
	assert.Nil(t, e.CurrentNode())
}

func TestEngine_LoadStoryNil(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.LoadStory(forestStory()))
	require.NoError(t, e.StartStory())

	assert.ErrorIs(t, e.LoadStory(nil), ErrInvalidArgument)
	assert.Equal(t, "n1", e.CurrentNode().ID, "rejected load keeps the session")
}

func TestEngine_LoadStoryClearsNodeKeepsState(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.LoadStory(forestStory()))
	require.NoError(t, e.StartStory())
	e.SetStat("gold", 3)

	require.NoError(t, e.LoadStory(forestStory()))
	assert.Nil(t, e.CurrentNode())
	assert.Equal(t, PhaseLoaded, e.Phase())
	assert.Equal(t, 3.0, e.State().GetStat("gold"))
}

func TestEngine_GoToNode(t *testing.T) {
	e := newTestEngine()
	rec := &recorder{}
	e.OnNodeChanged(rec.record)

	assert.ErrorIs(t, e.GoToNode("n1"), ErrNoStoryLoaded)

	require.NoError(t, e.LoadStory(forestStory()))
	require.NoError(t, e.GoToNode("n2"))
	assert.Equal(t, "n2", e.CurrentNode().ID)

	err := e.GoToNode("nowhere")
	var nf *NodeNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "nowhere", nf.NodeID)
	assert.Equal(t, "s1", nf.StoryID)
	assert.Equal(t, "n2", e.CurrentNode().ID)

	// Re-entering the same node still notifies.
	require.NoError(t, e.GoToNode("n2"))
	assert.Equal(t, 2, rec.count())
}

func TestEngine_TerminalVersusDeadEnd(t *testing.T) {
	s := story.New("s", "S", "gate",
		story.NewNode("gate", "A locked gate",
			story.NewConditionalChoice("Unlock", "end", conditionals.FlagEquals("has_key", true))),
		story.NewNode("end", "The end"),
	)
	e := newTestEngine()
	require.NoError(t, e.LoadStory(s))
	require.NoError(t, e.StartStory())

	assert.False(t, e.IsTerminal())
	assert.True(t, e.IsDeadEnd())
	assert.Empty(t, e.AvailableChoices())

	e.SetFlag("has_key", true)
	assert.False(t, e.IsDeadEnd())
	require.NoError(t, e.SelectChoice(0))
	assert.True(t, e.IsTerminal())
	assert.False(t, e.IsDeadEnd())
}

func TestEngine_SnapshotRoundTrip(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.LoadStory(forestStory()))
	assert.Nil(t, e.CreateSnapshot(), "no snapshot before positioning")

	require.NoError(t, e.StartStory())
	e.SetFlag("has_lantern", true)
	e.SetStat("hp", 7.5)
	require.NoError(t, e.SelectChoice(1))

	snap := e.CreateSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, "s1", snap.StoryID)
	assert.Equal(t, "n3", snap.NodeID)
	assert.Equal(t, map[string]bool{"has_lantern": true}, snap.Flags)
	assert.Equal(t, map[string]float64{"hp": 7.5}, snap.Stats)
	assert.Equal(t, fixedNow, snap.Timestamp)

	data, err := MarshalSnapshot(snap)
	require.NoError(t, err)
	decoded, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	other := newTestEngine()
	require.NoError(t, other.LoadStory(forestStory()))
	other.SetFlag("stale", true)
	rec := &recorder{}
	other.OnNodeChanged(rec.record)

	require.NoError(t, other.RestoreSnapshot(decoded))
	assert.Equal(t, "n3", other.CurrentNode().ID)
	assert.True(t, other.State().GetFlag("has_lantern"))
	assert.Equal(t, 7.5, other.State().GetStat("hp"))
	assert.False(t, other.State().GetFlag("stale"), "restore replaces the whole state")
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, "n3", rec.last().Node.ID)

	// The snapshot is independent of the session that produced it.
	e.SetStat("hp", 1)
	assert.Equal(t, 7.5, snap.Stats["hp"])
}

func TestEngine_RestoreReplaysThroughSetters(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.LoadStory(forestStory()))

	var flags []string
	var stats []string
	e.State().OnFlagChanged(func(key string, _ bool) { flags = append(flags, key) })
	e.State().OnStatChanged(func(key string, _ float64) { stats = append(stats, key) })

	snap := &Snapshot{
		Version: SnapshotVersion,
		StoryID: "s1",
		NodeID:  "n1",
		Flags:   map[string]bool{"b": true, "a": true, "off": false},
		Stats:   map[string]float64{"z": 1, "y": 2},
	}
	require.NoError(t, e.RestoreSnapshot(snap))

	// false over an absent (false) flag is not a change.
	assert.Equal(t, []string{"a", "b"}, flags)
	assert.Equal(t, []string{"y", "z"}, stats)
}

func TestEngine_RestoreRejections(t *testing.T) {
	tests := []struct {
		name     string
		load     bool
		snap     *Snapshot
		expected error
	}{
		{name: "nil snapshot", load: true, snap: nil, expected: ErrNullSnapshot},
		{name: "no story loaded", load: false, snap: &Snapshot{StoryID: "s1", NodeID: "n1"}, expected: ErrStoryMismatch},
		{name: "other story", load: true, snap: &Snapshot{StoryID: "s2", NodeID: "n1"}, expected: ErrStoryMismatch},
		{name: "node removed", load: true, snap: &Snapshot{StoryID: "s1", NodeID: "gone", Flags: map[string]bool{"x": true}}, expected: ErrNodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			if tt.load {
				require.NoError(t, e.LoadStory(forestStory()))
				require.NoError(t, e.StartStory())
			}
			e.SetFlag("kept", true)
			rec := &recorder{}
			e.OnNodeChanged(rec.record)

			err := e.RestoreSnapshot(tt.snap)
			assert.ErrorIs(t, err, tt.expected)
			assert.True(t, e.State().GetFlag("kept"), "failed restore leaves state alone")
			assert.False(t, e.State().GetFlag("x"))
			assert.Zero(t, rec.count())
			if tt.load {
				assert.Equal(t, "n1", e.CurrentNode().ID)
			}
		})
	}
}

func TestEngine_SubscriberMayReenter(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.LoadStory(forestStory()))

	var seen []string
	e.OnNodeChanged(func(t Transition) {
		seen = append(seen, t.Node.ID)
		// Auto-advance once from the start node.
		if t.Node.ID == "n1" {
			_ = e.SelectChoice(0)
		}
	})

	require.NoError(t, e.StartStory())
	assert.Equal(t, []string{"n1", "n2"}, seen)
	assert.Equal(t, "n2", e.CurrentNode().ID)
}

func TestEngine_StateListenersMayReenter(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.LoadStory(forestStory()))
	require.NoError(t, e.StartStory())

	var counts []int
	var snapped *Snapshot
	e.State().OnFlagChanged(func(string, bool) {
		counts = append(counts, len(e.AvailableChoices()))
	})
	e.State().OnStatChanged(func(string, float64) {
		assert.False(t, e.IsDeadEnd())
		snapped = e.CreateSnapshot()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.SetFlag("has_lantern", true)
		e.SetStat("hp", 3)
		assert.NoError(t, e.RestoreSnapshot(&Snapshot{
			StoryID: "s1",
			NodeID:  "n3",
			Flags:   map[string]bool{"has_lantern": true},
			Stats:   map[string]float64{"hp": 9},
		}))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("state listener blocked on the session lock")
	}

	// The restore listener sees the restored node, which has no choices.
	assert.Equal(t, []int{2, 0}, counts)
	require.NotNil(t, snapped)
	assert.Equal(t, "n3", snapped.NodeID)
	assert.Equal(t, 9.0, snapped.Stats["hp"])
}

func TestEngine_ConcurrentUse(t *testing.T) {
	s := story.New("loop", "Loop", "a",
		story.NewNode("a", "A", story.NewChoice("to b", "b")),
		story.NewNode("b", "B", story.NewChoice("to a", "a")),
	)
	e := newTestEngine()
	rec := &recorder{}
	e.OnNodeChanged(rec.record)
	require.NoError(t, e.LoadStory(s))
	require.NoError(t, e.StartStory())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = e.SelectChoice(0)
				e.SetStat("steps", float64(j))
				_ = e.CreateSnapshot()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1+8*50, rec.count())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "unloaded", PhaseUnloaded.String())
	assert.Equal(t, "positioned", PhasePositioned.String())
	assert.Equal(t, "phase(9)", Phase(9).String())
}
