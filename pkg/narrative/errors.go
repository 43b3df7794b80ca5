package narrative

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a required input is nil or empty.
	ErrInvalidArgument = errors.New("narrative: invalid argument")
	// ErrNoStoryLoaded is returned by operations that need a loaded story.
	ErrNoStoryLoaded = errors.New("narrative: no story loaded")
	// ErrMissingStartNode is returned when the story's start node does not resolve.
	ErrMissingStartNode = errors.New("narrative: missing start node")
	// ErrNodeNotFound is returned when a node id does not resolve in the loaded story.
	ErrNodeNotFound = errors.New("narrative: node not found")
	// ErrNoCurrentNode is returned when selecting a choice before the story is positioned.
	ErrNoCurrentNode = errors.New("narrative: no current node")
	// ErrChoiceIndexOutOfRange is returned when a choice index does not address an available choice.
	ErrChoiceIndexOutOfRange = errors.New("narrative: choice index out of range")
	// ErrStoryMismatch is returned when a snapshot belongs to a different story.
	ErrStoryMismatch = errors.New("narrative: story mismatch")
	// ErrNullSnapshot is returned when restoring a nil snapshot.
	ErrNullSnapshot = errors.New("narrative: nil snapshot")
)

// NodeNotFoundError carries the id that failed to resolve.
type NodeNotFoundError struct {
	StoryID string
	NodeID  string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("%v: %q in story %q", ErrNodeNotFound, e.NodeID, e.StoryID)
}

func (e *NodeNotFoundError) Unwrap() error { return ErrNodeNotFound }

// ChoiceIndexError carries the rejected index and how many choices were available.
type ChoiceIndexError struct {
	NodeID    string
	Index     int
	Available int
}

func (e *ChoiceIndexError) Error() string {
	return fmt.Sprintf("%v: index %d at node %q, %d available", ErrChoiceIndexOutOfRange, e.Index, e.NodeID, e.Available)
}

func (e *ChoiceIndexError) Unwrap() error { return ErrChoiceIndexOutOfRange }

// StoryMismatchError carries both story ids when a snapshot is rejected.
type StoryMismatchError struct {
	Loaded   string // empty when no story is loaded
	Snapshot string
}

func (e *StoryMismatchError) Error() string {
	if e.Loaded == "" {
		return fmt.Sprintf("%v: snapshot is for %q but no story is loaded", ErrStoryMismatch, e.Snapshot)
	}
	return fmt.Sprintf("%v: snapshot is for %q, loaded story is %q", ErrStoryMismatch, e.Snapshot, e.Loaded)
}

func (e *StoryMismatchError) Unwrap() error { return ErrStoryMismatch }
