package state

import "math"

// StatEpsilon is the smallest stat delta that counts as a change.
const StatEpsilon = 1e-6

// FlagListener is called after a flag changes value.
type FlagListener func(key string, value bool)

// StatListener is called after a stat changes value.
type StatListener func(key string, value float64)

// GameState is the mutable player state of one narrative session:
// boolean flags and numeric stats.
type GameState struct {
	Flags map[string]bool    `json:"flags"`
	Stats map[string]float64 `json:"stats"`

	onFlagChanged FlagListener
	onStatChanged StatListener

	held    bool
	pending []func()
}

func NewGameState() *GameState {
	return &GameState{
		Flags: make(map[string]bool),
		Stats: make(map[string]float64),
	}
}

// OnFlagChanged sets the single flag listener. Pass nil to remove it.
func (gs *GameState) OnFlagChanged(fn FlagListener) {
	gs.onFlagChanged = fn
}

// OnStatChanged sets the single stat listener. Pass nil to remove it.
func (gs *GameState) OnStatChanged(fn StatListener) {
	gs.onStatChanged = fn
}

// GetFlag returns the flag value, or false if it has never been set.
func (gs *GameState) GetFlag(key string) bool {
	if gs == nil {
		return false
	}
	return gs.Flags[key]
}

// SetFlag stores a flag. Empty keys are ignored, and the listener only
// fires when the stored value actually changes.
func (gs *GameState) SetFlag(key string, value bool) {
	if key == "" {
		return
	}
	if gs.Flags == nil {
		gs.Flags = make(map[string]bool)
	}
	// Unset flags read as false, so storing false over nothing is silent too.
	prev := gs.Flags[key]
	gs.Flags[key] = value
	if prev == value {
		return
	}
	if fn := gs.onFlagChanged; fn != nil {
		gs.notify(func() { fn(key, value) })
	}
}

// GetStat returns the stat value, or 0 if it has never been set.
func (gs *GameState) GetStat(key string) float64 {
	if gs == nil {
		return 0
	}
	return gs.Stats[key]
}

// SetStat stores a stat. Empty keys are ignored; the listener fires only
// when the value moves by more than StatEpsilon.
func (gs *GameState) SetStat(key string, value float64) {
	if key == "" {
		return
	}
	if gs.Stats == nil {
		gs.Stats = make(map[string]float64)
	}
	prev := gs.Stats[key]
	gs.Stats[key] = value
	if ApproxEqual(prev, value) {
		return
	}
	if fn := gs.onStatChanged; fn != nil {
		gs.notify(func() { fn(key, value) })
	}
}

// Hold queues change notifications instead of delivering them until Release
// is called. Owners that mutate the state under their own lock use it to
// run listeners after the lock is dropped.
func (gs *GameState) Hold() {
	gs.held = true
}

// Release ends a Hold and returns the queued notifications in the order the
// changes happened. The caller runs them.
func (gs *GameState) Release() []func() {
	gs.held = false
	pending := gs.pending
	gs.pending = nil
	return pending
}

func (gs *GameState) notify(fn func()) {
	if gs.held {
		gs.pending = append(gs.pending, fn)
		return
	}
	fn()
}

// AddStat adds delta to the current stat value.
func (gs *GameState) AddStat(key string, delta float64) {
	gs.SetStat(key, gs.GetStat(key)+delta)
}

// ClearAll drops every flag and stat without notifying listeners.
func (gs *GameState) ClearAll() {
	gs.Flags = make(map[string]bool)
	gs.Stats = make(map[string]float64)
}

// SnapshotFlags returns a copy of the flags that callers may mutate freely.
func (gs *GameState) SnapshotFlags() map[string]bool {
	out := make(map[string]bool, len(gs.Flags))
	for k, v := range gs.Flags {
		out[k] = v
	}
	return out
}

// SnapshotStats returns a copy of the stats that callers may mutate freely.
func (gs *GameState) SnapshotStats() map[string]float64 {
	out := make(map[string]float64, len(gs.Stats))
	for k, v := range gs.Stats {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy of the state. Listeners are not copied.
func (gs *GameState) Clone() *GameState {
	return &GameState{
		Flags: gs.SnapshotFlags(),
		Stats: gs.SnapshotStats(),
	}
}

// ApproxEqual reports whether two stat values are within StatEpsilon.
func ApproxEqual(a, b float64) bool {
	return math.Abs(a-b) <= StatEpsilon
}
