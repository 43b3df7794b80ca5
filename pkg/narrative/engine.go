// Package narrative runs a branching story: it tracks the loaded story, the
// current node and the player's game state, and moves between nodes in
// response to choices.
//
// An Engine is one play session. All of its methods are safe to call from
// multiple goroutines; each call runs to completion under the session lock.
// Failed operations never change the story position.
package narrative

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jwebster45206/narrative-engine/pkg/state"
	"github.com/jwebster45206/narrative-engine/pkg/story"
)

// Phase is the coarse engine state.
type Phase int

const (
	PhaseUnloaded   Phase = iota // no story
	PhaseLoaded                  // story loaded, no current node
	PhasePositioned              // at some node, terminal or not
)

func (p Phase) String() string {
	switch p {
	case PhaseUnloaded:
		return "unloaded"
	case PhaseLoaded:
		return "loaded"
	case PhasePositioned:
		return "positioned"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Transition is emitted after every successful move to a node.
// Choices is the exact sequence that SelectChoice indexes into.
type Transition struct {
	Node    *story.Node
	Choices []story.Choice
}

// TransitionFunc receives transitions. It runs after the session lock is
// released, so it may call back into the Engine.
type TransitionFunc func(Transition)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for transition tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine is a stateful narrative session.
type Engine struct {
	mu            sync.Mutex
	story         *story.Story
	node          *story.Node
	state         *state.GameState
	onNodeChanged TransitionFunc
	logger        *slog.Logger
	now           func() time.Time
}

// NewEngine creates an engine with an empty game state and no story.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		state:  state.NewGameState(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnNodeChanged sets the single transition subscriber. Pass nil to remove it.
func (e *Engine) OnNodeChanged(fn TransitionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onNodeChanged = fn
}

// State returns the session's game state. Direct mutation through it is not
// synchronised with the engine; use SetFlag and SetStat when sharing the
// engine between goroutines.
func (e *Engine) State() *state.GameState {
	return e.state
}

// SetFlag sets a flag under the session lock. State listeners run after the
// lock is released, so they may call back into the Engine.
func (e *Engine) SetFlag(key string, value bool) {
	e.mu.Lock()
	e.state.Hold()
	e.state.SetFlag(key, value)
	pending := e.state.Release()
	e.mu.Unlock()

	dispatch(pending)
}

// SetStat sets a stat under the session lock. See SetFlag.
func (e *Engine) SetStat(key string, value float64) {
	e.mu.Lock()
	e.state.Hold()
	e.state.SetStat(key, value)
	pending := e.state.Release()
	e.mu.Unlock()

	dispatch(pending)
}

// Story returns the loaded story, or nil.
func (e *Engine) Story() *story.Story {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.story
}

// CurrentNode returns the current node, or nil before the story starts.
func (e *Engine) CurrentNode() *story.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.node
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.story == nil:
		return PhaseUnloaded
	case e.node == nil:
		return PhaseLoaded
	default:
		return PhasePositioned
	}
}

// AvailableChoices re-evaluates the current node's choices against the
// current game state. It returns nil when there is no current node.
func (e *Engine) AvailableChoices() []story.Choice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.node == nil {
		return nil
	}
	return e.node.AvailableChoices(e.state)
}

// IsTerminal reports whether the current node is a story ending.
func (e *Engine) IsTerminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.node != nil && e.node.IsTerminal()
}

// IsDeadEnd reports whether the current node has choices but none of them
// are available right now. It is never true for a terminal node.
func (e *Engine) IsDeadEnd() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.node != nil && !e.node.IsTerminal() && len(e.node.AvailableChoices(e.state)) == 0
}

// LoadStory makes s the session's story and clears the current node.
// The game state is left untouched.
func (e *Engine) LoadStory(s *story.Story) error {
	if s == nil {
		return fmt.Errorf("%w: story is nil", ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.story = s
	e.node = nil
	e.logger.Debug("Story loaded", "story_id", s.ID, "nodes", len(s.Nodes))
	return nil
}

// StartStory moves to the story's start node.
func (e *Engine) StartStory() error {
	e.mu.Lock()
	if e.story == nil {
		e.mu.Unlock()
		return ErrNoStoryLoaded
	}
	start := e.story.StartNode()
	if start == nil {
		id := e.story.StartNodeID
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrMissingStartNode, id)
	}
	t := e.enterLocked(start)
	fn := e.onNodeChanged
	e.mu.Unlock()

	emit(fn, t)
	return nil
}

// GoToNode moves to the node with the given id. Every node change goes
// through here or its locked counterpart.
func (e *Engine) GoToNode(nodeID string) error {
	e.mu.Lock()
	t, err := e.goToNodeLocked(nodeID)
	fn := e.onNodeChanged
	e.mu.Unlock()
	if err != nil {
		return err
	}

	emit(fn, t)
	return nil
}

// SelectChoice follows the choice at index within the currently available
// choices. Availability is re-evaluated at call time, so an index taken from
// a stale list fails instead of following the wrong edge.
func (e *Engine) SelectChoice(index int) error {
	e.mu.Lock()
	if e.node == nil {
		e.mu.Unlock()
		return ErrNoCurrentNode
	}

	available := e.node.AvailableChoices(e.state)
	if index < 0 || index >= len(available) {
		err := &ChoiceIndexError{NodeID: e.node.ID, Index: index, Available: len(available)}
		e.mu.Unlock()
		return err
	}

	t, err := e.goToNodeLocked(available[index].TargetNodeID)
	fn := e.onNodeChanged
	e.mu.Unlock()
	if err != nil {
		return err
	}

	emit(fn, t)
	return nil
}

// CreateSnapshot captures the session, or returns nil if the engine is not
// positioned at a node.
func (e *Engine) CreateSnapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.story == nil || e.node == nil {
		return nil
	}
	return &Snapshot{
		Version:   SnapshotVersion,
		StoryID:   e.story.ID,
		NodeID:    e.node.ID,
		Flags:     e.state.SnapshotFlags(),
		Stats:     e.state.SnapshotStats(),
		Timestamp: e.now().UTC(),
	}
}

// RestoreSnapshot replaces the game state with the snapshot's and moves to
// its node. The loaded story must have the snapshot's story id. Flags and
// stats are replayed through the setters, in key order, so state listeners
// fire as if the values were set one by one. Those listeners run after the
// lock is released and before the node subscriber. If the snapshot's node no
// longer exists the restore fails before anything is changed.
func (e *Engine) RestoreSnapshot(snap *Snapshot) error {
	if snap == nil {
		return ErrNullSnapshot
	}

	e.mu.Lock()
	if e.story == nil || e.story.ID != snap.StoryID {
		err := &StoryMismatchError{Snapshot: snap.StoryID}
		if e.story != nil {
			err.Loaded = e.story.ID
		}
		e.mu.Unlock()
		return err
	}

	node := e.story.GetNode(snap.NodeID)
	if node == nil {
		err := &NodeNotFoundError{StoryID: e.story.ID, NodeID: snap.NodeID}
		e.mu.Unlock()
		return err
	}

	e.state.Hold()
	e.state.ClearAll()
	for _, k := range sortedKeys(snap.Flags) {
		e.state.SetFlag(k, snap.Flags[k])
	}
	for _, k := range sortedKeys(snap.Stats) {
		e.state.SetStat(k, snap.Stats[k])
	}
	pending := e.state.Release()

	t := e.enterLocked(node)
	fn := e.onNodeChanged
	e.mu.Unlock()

	dispatch(pending)
	emit(fn, t)
	return nil
}

func (e *Engine) goToNodeLocked(nodeID string) (Transition, error) {
	if e.story == nil {
		return Transition{}, ErrNoStoryLoaded
	}
	node := e.story.GetNode(nodeID)
	if node == nil {
		return Transition{}, &NodeNotFoundError{StoryID: e.story.ID, NodeID: nodeID}
	}
	return e.enterLocked(node), nil
}

func (e *Engine) enterLocked(node *story.Node) Transition {
	e.node = node
	t := Transition{
		Node:    node,
		Choices: node.AvailableChoices(e.state),
	}
	e.logger.Debug("Node changed",
		"story_id", e.story.ID,
		"node_id", node.ID,
		"available_choices", len(t.Choices),
		"terminal", node.IsTerminal())
	return t
}

func emit(fn TransitionFunc, t Transition) {
	if fn != nil {
		fn(t)
	}
}

func dispatch(pending []func()) {
	for _, fn := range pending {
		fn()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
