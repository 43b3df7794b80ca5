package state

import (
	"encoding/json"
	"testing"
)

func TestGameState_Defaults(t *testing.T) {
	gs := NewGameState()

	if gs.GetFlag("never_set") {
		t.Error("Expected unset flag to read false")
	}
	if gs.GetStat("never_set") != 0 {
		t.Errorf("Expected unset stat to read 0, got %v", gs.GetStat("never_set"))
	}

	var nilState *GameState
	if nilState.GetFlag("x") || nilState.GetStat("x") != 0 {
		t.Error("Expected nil state getters to return defaults")
	}
}

func TestGameState_SetFlagNotifications(t *testing.T) {
	tests := []struct {
		name          string
		initial       map[string]bool
		writes        []bool
		expectedCalls int
	}{
		{
			name:          "same value twice fires once",
			writes:        []bool{true, true},
			expectedCalls: 1,
		},
		{
			name:          "false over unset is silent",
			writes:        []bool{false, false},
			expectedCalls: 0,
		},
		{
			name:          "toggle fires every time",
			writes:        []bool{true, false, true},
			expectedCalls: 3,
		},
		{
			name:          "matching pre-existing value is silent",
			initial:       map[string]bool{"door_open": true},
			writes:        []bool{true},
			expectedCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gs := NewGameState()
			for k, v := range tt.initial {
				gs.Flags[k] = v
			}

			calls := 0
			gs.OnFlagChanged(func(key string, value bool) {
				if key != "door_open" {
					t.Errorf("Unexpected key %q", key)
				}
				calls++
			})

			for _, v := range tt.writes {
				gs.SetFlag("door_open", v)
			}

			if calls != tt.expectedCalls {
				t.Errorf("Expected %d notifications, got %d", tt.expectedCalls, calls)
			}
			if got := gs.GetFlag("door_open"); got != tt.writes[len(tt.writes)-1] {
				t.Errorf("Expected final flag %v, got %v", tt.writes[len(tt.writes)-1], got)
			}
		})
	}
}

func TestGameState_EmptyKeyIgnored(t *testing.T) {
	gs := NewGameState()
	calls := 0
	gs.OnFlagChanged(func(string, bool) { calls++ })
	gs.OnStatChanged(func(string, float64) { calls++ })

	gs.SetFlag("", true)
	gs.SetStat("", 5)

	if calls != 0 {
		t.Errorf("Expected no notifications for empty keys, got %d", calls)
	}
	if len(gs.Flags) != 0 || len(gs.Stats) != 0 {
		t.Error("Expected empty keys not to be stored")
	}
}

func TestGameState_SetStatEpsilon(t *testing.T) {
	gs := NewGameState()
	var seen []float64
	gs.OnStatChanged(func(key string, value float64) {
		seen = append(seen, value)
	})

	gs.SetStat("gold", 10)
	gs.SetStat("gold", 10+StatEpsilon/10)
	gs.SetStat("gold", 0.1+0.2)
	gs.SetStat("gold", 0.3)
	gs.AddStat("gold", 1)

	if len(seen) != 3 {
		t.Fatalf("Expected 3 notifications, got %d: %v", len(seen), seen)
	}
	if seen[0] != 10 {
		t.Errorf("Expected first notification 10, got %v", seen[0])
	}
	if !ApproxEqual(gs.GetStat("gold"), 1.3) {
		t.Errorf("Expected gold 1.3, got %v", gs.GetStat("gold"))
	}
}

func TestGameState_ClearAllIsSilent(t *testing.T) {
	gs := NewGameState()
	gs.SetFlag("met_witch", true)
	gs.SetStat("courage", 3)

	calls := 0
	gs.OnFlagChanged(func(string, bool) { calls++ })
	gs.OnStatChanged(func(string, float64) { calls++ })

	gs.ClearAll()

	if calls != 0 {
		t.Errorf("Expected ClearAll to be silent, got %d notifications", calls)
	}
	if gs.GetFlag("met_witch") || gs.GetStat("courage") != 0 {
		t.Error("Expected ClearAll to reset flags and stats")
	}

	// Listeners survive the reset.
	gs.SetFlag("met_witch", true)
	if calls != 1 {
		t.Errorf("Expected listener to fire after ClearAll, got %d", calls)
	}
}

func TestGameState_HoldQueuesNotifications(t *testing.T) {
	gs := NewGameState()
	var got []string
	gs.OnFlagChanged(func(key string, value bool) {
		got = append(got, key)
	})
	gs.OnStatChanged(func(key string, value float64) {
		got = append(got, key)
	})

	gs.Hold()
	gs.SetFlag("lit", true)
	gs.SetStat("oil", 2)
	gs.SetFlag("lit", true)
	if len(got) != 0 {
		t.Fatalf("Expected no notifications during a hold, got %v", got)
	}

	pending := gs.Release()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 queued notifications, got %d", len(pending))
	}
	for _, fn := range pending {
		fn()
	}
	if len(got) != 2 || got[0] != "lit" || got[1] != "oil" {
		t.Errorf("Expected [lit oil] in change order, got %v", got)
	}

	gs.SetFlag("lit", false)
	if len(got) != 3 {
		t.Errorf("Expected direct delivery after Release, got %v", got)
	}
	if extra := gs.Release(); len(extra) != 0 {
		t.Errorf("Expected nothing queued outside a hold, got %d", len(extra))
	}
}

func TestGameState_SnapshotsAreIndependent(t *testing.T) {
	gs := NewGameState()
	gs.SetFlag("lamp_lit", true)
	gs.SetStat("oil", 2)

	flags := gs.SnapshotFlags()
	stats := gs.SnapshotStats()
	flags["lamp_lit"] = false
	flags["extra"] = true
	stats["oil"] = 99

	if !gs.GetFlag("lamp_lit") || gs.GetFlag("extra") {
		t.Error("Mutating the flag snapshot changed internal state")
	}
	if gs.GetStat("oil") != 2 {
		t.Error("Mutating the stat snapshot changed internal state")
	}

	clone := gs.Clone()
	clone.SetFlag("lamp_lit", false)
	if !gs.GetFlag("lamp_lit") {
		t.Error("Mutating the clone changed the original")
	}
}

func TestGameState_JSON(t *testing.T) {
	gs := NewGameState()
	gs.SetFlag("has_key", true)
	gs.SetStat("hp", 7.5)
	gs.OnFlagChanged(func(string, bool) {})

	data, err := json.Marshal(gs)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	expected := `{"flags":{"has_key":true},"stats":{"hp":7.5}}`
	if string(data) != expected {
		t.Errorf("Expected %s, got %s", expected, string(data))
	}
}
