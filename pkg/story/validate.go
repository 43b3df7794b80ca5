package story

import (
	"fmt"
	"strings"
)

// IssueCode classifies a validation issue.
type IssueCode string

const (
	IssueMissingID          IssueCode = "missing_id"
	IssueMissingTitle       IssueCode = "missing_title"
	IssueMissingStartNode   IssueCode = "missing_start_node_id"
	IssueUnresolvedStart    IssueCode = "unresolved_start_node"
	IssueDuplicateNodeID    IssueCode = "duplicate_node_id"
	IssueEmptyNodeID        IssueCode = "empty_node_id"
	IssueMissingTarget      IssueCode = "missing_choice_target"
	IssueMalformedCondition IssueCode = "malformed_condition"
)

// Issue is a single problem found by Validate.
type Issue struct {
	Code    IssueCode `json:"code"`
	Message string    `json:"message"`
}

func (i Issue) String() string {
	return i.Message
}

// Validate checks the story's integrity and returns every issue found.
// It never stops at the first problem and never panics on partial data.
func (s *Story) Validate() []Issue {
	var issues []Issue
	add := func(code IssueCode, format string, args ...any) {
		issues = append(issues, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(s.ID) == "" {
		add(IssueMissingID, "story id is empty")
	}
	if strings.TrimSpace(s.Title) == "" {
		add(IssueMissingTitle, "story title is empty")
	}
	if strings.TrimSpace(s.StartNodeID) == "" {
		add(IssueMissingStartNode, "start node id is empty")
	} else if s.GetNode(s.StartNodeID) == nil {
		add(IssueUnresolvedStart, "start node %q does not exist", s.StartNodeID)
	}

	seen := make(map[string]int)
	var order []string
	emptyIDs := 0
	for _, n := range s.Nodes {
		if n == nil || strings.TrimSpace(n.ID) == "" {
			emptyIDs++
			continue
		}
		if seen[n.ID] == 0 {
			order = append(order, n.ID)
		}
		seen[n.ID]++
	}
	for _, id := range order {
		if seen[id] > 1 {
			add(IssueDuplicateNodeID, "duplicate node id %q (%d nodes)", id, seen[id])
		}
	}
	if emptyIDs > 0 {
		add(IssueEmptyNodeID, "%d node(s) have an empty id", emptyIDs)
	}

	reported := make(map[string]bool)
	for _, n := range s.Nodes {
		if n == nil {
			continue
		}
		for i := range n.Choices {
			c := &n.Choices[i]
			target := c.TargetNodeID
			if seen[target] == 0 && !reported[target] {
				reported[target] = true
				add(IssueMissingTarget, "choice target %q does not exist (first referenced from node %q)", target, n.ID)
			}
			for _, p := range c.Condition.Problems(fmt.Sprintf("node %q choice %d", n.ID, i)) {
				add(IssueMalformedCondition, "%s", p)
			}
		}
	}

	return issues
}
