package narrative

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is written into every snapshot the engine creates.
const SnapshotVersion = 1

// Snapshot is the persisted form of a session: where the player is and the
// full game state. It carries no behaviour; save collaborators own storage.
type Snapshot struct {
	Version   int                `json:"version"`
	StoryID   string             `json:"story_id"`
	NodeID    string             `json:"node_id"`
	Flags     map[string]bool    `json:"flags"`
	Stats     map[string]float64 `json:"stats"`
	Timestamp time.Time          `json:"timestamp"` // RFC 3339 on the wire
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Flags = make(map[string]bool, len(s.Flags))
	for k, v := range s.Flags {
		c.Flags[k] = v
	}
	c.Stats = make(map[string]float64, len(s.Stats))
	for k, v := range s.Stats {
		c.Stats[k] = v
	}
	return &c
}

// MarshalSnapshot encodes a snapshot as JSON.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, ErrNullSnapshot
	}
	return json.Marshal(s)
}

// UnmarshalSnapshot decodes a snapshot from JSON. Snapshots without a
// version are treated as version 1.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	if s.Flags == nil {
		s.Flags = make(map[string]bool)
	}
	if s.Stats == nil {
		s.Stats = make(map[string]float64)
	}
	return &s, nil
}
