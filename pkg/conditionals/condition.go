package conditionals

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/narrative-engine/pkg/state"
)

// SchemaVersion identifies the set of condition kinds below. Adding a
// kind bumps it so stored stories can be checked against the runtime.
const SchemaVersion = 1

// Kind tags the variant held by a Condition.
type Kind string

const (
	KindNone        Kind = "none"
	KindFlagEquals  Kind = "flag_equals"
	KindStatCompare Kind = "stat_compare"
	KindAll         Kind = "all"
	KindAny         Kind = "any"
	KindNot         Kind = "not"
)

// CompareOp is the comparison used by stat_compare conditions.
type CompareOp string

const (
	OpGreater      CompareOp = "gt"
	OpGreaterEqual CompareOp = "gte"
	OpLess         CompareOp = "lt"
	OpLessEqual    CompareOp = "lte"
	OpEqual        CompareOp = "eq"
	OpNotEqual     CompareOp = "neq"
)

// StateView is the read side of game state that conditions evaluate against.
// *state.GameState satisfies it.
type StateView interface {
	GetFlag(key string) bool
	GetStat(key string) float64
}

// Condition gates a choice. Only the fields relevant to Kind are used:
//
//	none          always met
//	flag_equals   Key, Value
//	stat_compare  Key, Op, Threshold
//	all, any      Conditions
//	not           Conditions (exactly one)
type Condition struct {
	Kind       Kind        `json:"kind" yaml:"kind"`
	Key        string      `json:"key,omitempty" yaml:"key,omitempty"`
	Value      bool        `json:"value,omitempty" yaml:"value,omitempty"`
	Op         CompareOp   `json:"op,omitempty" yaml:"op,omitempty"`
	Threshold  float64     `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// FlagEquals is met when the flag at key equals expected.
func FlagEquals(key string, expected bool) Condition {
	return Condition{Kind: KindFlagEquals, Key: key, Value: expected}
}

// StatCompare is met when stat(key) <op> threshold holds.
func StatCompare(key string, op CompareOp, threshold float64) Condition {
	return Condition{Kind: KindStatCompare, Key: key, Op: op, Threshold: threshold}
}

// StatAtLeast is shorthand for StatCompare(key, OpGreaterEqual, threshold).
func StatAtLeast(key string, threshold float64) Condition {
	return StatCompare(key, OpGreaterEqual, threshold)
}

func All(conds ...Condition) Condition {
	return Condition{Kind: KindAll, Conditions: conds}
}

func Any(conds ...Condition) Condition {
	return Condition{Kind: KindAny, Conditions: conds}
}

func Not(cond Condition) Condition {
	return Condition{Kind: KindNot, Conditions: []Condition{cond}}
}

// IsMet evaluates the condition against the given state. A nil condition
// is always met. Evaluation never mutates state; unknown or malformed
// conditions are never met.
func (c *Condition) IsMet(v StateView) bool {
	if c == nil {
		return true
	}

	switch c.Kind {
	case "", KindNone:
		return true

	case KindFlagEquals:
		return v.GetFlag(c.Key) == c.Value

	case KindStatCompare:
		return compare(v.GetStat(c.Key), c.Op, c.Threshold)

	case KindAll:
		for i := range c.Conditions {
			if !c.Conditions[i].IsMet(v) {
				return false
			}
		}
		return true

	case KindAny:
		for i := range c.Conditions {
			if c.Conditions[i].IsMet(v) {
				return true
			}
		}
		return false

	case KindNot:
		if len(c.Conditions) != 1 {
			return false
		}
		return !c.Conditions[0].IsMet(v)

	default:
		return false
	}
}

func compare(actual float64, op CompareOp, threshold float64) bool {
	switch op {
	case OpGreater:
		return actual > threshold && !state.ApproxEqual(actual, threshold)
	case OpGreaterEqual:
		return actual >= threshold || state.ApproxEqual(actual, threshold)
	case OpLess:
		return actual < threshold && !state.ApproxEqual(actual, threshold)
	case OpLessEqual:
		return actual <= threshold || state.ApproxEqual(actual, threshold)
	case OpEqual:
		return state.ApproxEqual(actual, threshold)
	case OpNotEqual:
		return !state.ApproxEqual(actual, threshold)
	default:
		return false
	}
}

// Problems describes everything malformed about the condition tree, with
// path identifying where each problem sits. It returns nil for a valid tree.
func (c *Condition) Problems(path string) []string {
	if c == nil {
		return nil
	}

	var problems []string
	switch c.Kind {
	case "", KindNone:
	case KindFlagEquals:
		if c.Key == "" {
			problems = append(problems, fmt.Sprintf("%s: flag_equals condition has empty key", path))
		}
	case KindStatCompare:
		if c.Key == "" {
			problems = append(problems, fmt.Sprintf("%s: stat_compare condition has empty key", path))
		}
		if !validOp(c.Op) {
			problems = append(problems, fmt.Sprintf("%s: stat_compare condition has unknown op %q", path, c.Op))
		}
	case KindAll, KindAny:
		for i := range c.Conditions {
			problems = append(problems, c.Conditions[i].Problems(fmt.Sprintf("%s.%s[%d]", path, c.Kind, i))...)
		}
	case KindNot:
		if len(c.Conditions) != 1 {
			problems = append(problems, fmt.Sprintf("%s: not condition needs exactly one child, has %d", path, len(c.Conditions)))
		}
		for i := range c.Conditions {
			problems = append(problems, c.Conditions[i].Problems(fmt.Sprintf("%s.not[%d]", path, i))...)
		}
	default:
		problems = append(problems, fmt.Sprintf("%s: unknown condition kind %q", path, c.Kind))
	}
	return problems
}

func validOp(op CompareOp) bool {
	switch op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// UnmarshalJSON accepts the full object form and also a bare flag name
// string as shorthand for {"kind":"flag_equals","key":name,"value":true}.
func (c *Condition) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var flag string
	if err := json.Unmarshal(data, &flag); err == nil {
		*c = FlagEquals(flag, true)
		return nil
	}

	type Alias Condition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode((*Alias)(c))
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML story files.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var flag string
		if err := node.Decode(&flag); err != nil {
			return err
		}
		*c = FlagEquals(flag, true)
		return nil
	}

	if node.Kind == yaml.MappingNode {
		for i := 0; i < len(node.Content); i += 2 {
			key := node.Content[i]
			if !knownFields[key.Value] {
				return fmt.Errorf("line %d: field %s not found in condition", key.Line, key.Value)
			}
		}
	}

	type Alias Condition
	return node.Decode((*Alias)(c))
}

var knownFields = map[string]bool{
	"kind":       true,
	"key":        true,
	"value":      true,
	"op":         true,
	"threshold":  true,
	"conditions": true,
}
