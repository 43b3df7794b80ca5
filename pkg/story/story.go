package story

import "github.com/jwebster45206/narrative-engine/pkg/conditionals"

// Story is a branching narrative graph: a set of nodes joined by choices.
// The engine only reads a Story; authoring tools build and edit it.
type Story struct {
	ID          string  `json:"id" yaml:"id"`                       // Unique key, also checked when restoring snapshots
	Title       string  `json:"title" yaml:"title"`                 // Display only
	StartNodeID string  `json:"start_node_id" yaml:"start_node_id"` // Node the story opens on
	Nodes       []*Node `json:"nodes" yaml:"nodes"`                 // Insertion order is kept for listing and editing
}

// Node is one narrative beat with body text and the choices leading out of it.
type Node struct {
	ID            string   `json:"id" yaml:"id"`
	Text          string   `json:"text" yaml:"text"`                                         // Narrative body, opaque to the engine
	BackgroundRef string   `json:"background_ref,omitempty" yaml:"background_ref,omitempty"` // Presentation handle, passed through untouched
	Choices       []Choice `json:"choices" yaml:"choices"`                                   // Presentation and tie-break order
}

// Choice is an edge to another node in the same story, optionally gated.
type Choice struct {
	Text         string                  `json:"text" yaml:"text"`
	TargetNodeID string                  `json:"target_node_id" yaml:"target_node_id"`         // Self-loops are legal
	Condition    *conditionals.Condition `json:"condition,omitempty" yaml:"condition,omitempty"` // nil means always available
}

// New builds a story from its fields.
func New(id, title, startNodeID string, nodes ...*Node) *Story {
	return &Story{
		ID:          id,
		Title:       title,
		StartNodeID: startNodeID,
		Nodes:       nodes,
	}
}

// NewNode builds a node from its fields.
func NewNode(id, text string, choices ...Choice) *Node {
	return &Node{
		ID:      id,
		Text:    text,
		Choices: choices,
	}
}

// NewChoice builds an unconditional choice.
func NewChoice(text, targetNodeID string) Choice {
	return Choice{Text: text, TargetNodeID: targetNodeID}
}

// NewConditionalChoice builds a choice that is only available while cond is met.
func NewConditionalChoice(text, targetNodeID string, cond conditionals.Condition) Choice {
	return Choice{Text: text, TargetNodeID: targetNodeID, Condition: &cond}
}

// WithBackground sets the node's background handle and returns the node.
func (n *Node) WithBackground(ref string) *Node {
	n.BackgroundRef = ref
	return n
}

// AddNode appends a node. Duplicate ids are not rejected here; Validate reports them.
func (s *Story) AddNode(n *Node) {
	s.Nodes = append(s.Nodes, n)
}

// GetNode returns the first node with the given id, or nil if none matches.
// When ids are duplicated the earliest node wins.
func (s *Story) GetNode(id string) *Node {
	if s == nil {
		return nil
	}
	for _, n := range s.Nodes {
		if n != nil && n.ID == id {
			return n
		}
	}
	return nil
}

// StartNode returns the node named by StartNodeID, or nil.
func (s *Story) StartNode() *Node {
	if s == nil {
		return nil
	}
	return s.GetNode(s.StartNodeID)
}

// NodeIDs lists node ids in insertion order.
func (s *Story) NodeIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n != nil {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// IsAvailable reports whether the choice can be taken in the given state.
func (c *Choice) IsAvailable(v conditionals.StateView) bool {
	return c.Condition == nil || c.Condition.IsMet(v)
}

// IsTerminal reports whether the node is a true ending: it has no choices
// at all. A node whose choices are all currently unavailable is not terminal.
func (n *Node) IsTerminal() bool {
	return len(n.Choices) == 0
}

// AvailableChoices returns the choices currently available, in authored
// order. The returned slice is freshly allocated on every call.
func (n *Node) AvailableChoices(v conditionals.StateView) []Choice {
	available := make([]Choice, 0, len(n.Choices))
	for i := range n.Choices {
		if n.Choices[i].IsAvailable(v) {
			available = append(available, n.Choices[i])
		}
	}
	return available
}
