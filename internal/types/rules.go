// internal/types/rules.go
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

/*
 * Domain types for badge eligibility rules.
 *
 * A Rule is a named, versioned boolean expression tree. Leaves are Conditions
 * (field path, operator, literal operand); inner nodes are Groups combining
 * one or more children with AND or OR. internal/rules compiles these into
 * CompiledRule for evaluation.
 *
 * Key types:
 *   - Rule: rule definition as submitted by callers (JSON decode)
 *   - Node: sealed interface over *Condition and *Group
 *   - Operator: closed set of condition operators, wire names are snake_case
 *   - LogicalOp: AND / OR
 *
 * Wire format: nodes carry a "type" discriminator ("condition" | "group").
 * Decoding only checks JSON shape; semantic validation (empty groups, operand
 * shapes, regex syntax) belongs to the compiler so every rejection carries the
 * same path-qualified diagnostic.
 *
 * Rules are never mutated after decode. Updates replace a rule wholesale.
 */

// Operator is a condition operator. The string value is the wire name.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpBetween     Operator = "between"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpContainsAny Operator = "contains_any"
	OpContainsAll Operator = "contains_all"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpRegex       Operator = "regex"
	OpBefore      Operator = "before"
	OpAfter       Operator = "after"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
)

// Operators lists every supported operator in declaration order.
var Operators = []Operator{
	OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpBetween,
	OpIn, OpNotIn, OpContains, OpContainsAny, OpContainsAll,
	OpStartsWith, OpEndsWith, OpRegex, OpBefore, OpAfter,
	OpIsEmpty, OpIsNotEmpty,
}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// RequiresArray reports whether op's operand must be a JSON array.
func (op Operator) RequiresArray() bool {
	switch op {
	case OpBetween, OpIn, OpNotIn, OpContainsAny, OpContainsAll:
		return true
	default:
		return false
	}
}

// IgnoresValue reports whether op ignores its operand entirely.
func (op Operator) IgnoresValue() bool {
	return op == OpIsEmpty || op == OpIsNotEmpty
}

// LogicalOp combines the children of a Group.
type LogicalOp string

const (
	LogicalAnd LogicalOp = "AND"
	LogicalOr  LogicalOp = "OR"
)

// Valid reports whether op is AND or OR.
func (op LogicalOp) Valid() bool {
	return op == LogicalAnd || op == LogicalOr
}

// Node is a rule tree node: *Condition or *Group.
type Node interface {
	node() // sealed
}

// Condition tests one context field with one operator against one operand.
type Condition struct {
	Field    string   // dotted path into the evaluation context
	Operator Operator // comparison operator
	Value    Value    // right-hand operand; Null{} when absent
}

func (*Condition) node() {}

// Group combines child nodes with AND or OR. Compilation rejects empty groups.
type Group struct {
	Operator LogicalOp
	Children []Node
}

func (*Group) node() {}

// Rule is a complete rule definition.
type Rule struct {
	ID        string
	Name      string
	Version   string
	Root      Node
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Node type discriminators on the wire.
const (
	NodeTypeCondition = "condition"
	NodeTypeGroup     = "group"
)

// RootPath labels the root node in diagnostics and match reports.
const RootPath = "root"

// ChildPath returns the diagnostic label of the i-th child of the node at parent.
func ChildPath(parent string, i int) string {
	return fmt.Sprintf("%s.children[%d]", parent, i)
}

type conditionJSON struct {
	Type     string          `json:"type"`
	Field    string          `json:"field"`
	Operator Operator        `json:"operator"`
	Value    json.RawMessage `json:"value,omitempty"`
}

type groupJSON struct {
	Type     string            `json:"type"`
	Operator string            `json:"operator"`
	Children []json.RawMessage `json:"children"`
}

type nodeHeader struct {
	Type string `json:"type"`
}

type ruleJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Version   string          `json:"version"`
	Root      json.RawMessage `json:"root"`
	CreatedAt *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *Condition) MarshalJSON() ([]byte, error) {
	v := c.Value
	if v == nil {
		v = Null{}
	}
	return json.Marshal(struct {
		Type     string   `json:"type"`
		Field    string   `json:"field"`
		Operator Operator `json:"operator"`
		Value    Value    `json:"value"`
	}{NodeTypeCondition, c.Field, c.Operator, v})
}

// MarshalJSON implements json.Marshaler.
func (g *Group) MarshalJSON() ([]byte, error) {
	children := g.Children
	if children == nil {
		children = []Node{}
	}
	return json.Marshal(struct {
		Type     string    `json:"type"`
		Operator LogicalOp `json:"operator"`
		Children []Node    `json:"children"`
	}{NodeTypeGroup, g.Operator, children})
}

// DecodeNode decodes a node and its subtree. path labels the node in errors.
func DecodeNode(data []byte, path string) (Node, error) {
	var header nodeHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("node '%s' is not a JSON object: %w", path, err)
	}

	switch header.Type {
	case NodeTypeCondition:
		var cj conditionJSON
		if err := json.Unmarshal(data, &cj); err != nil {
			return nil, fmt.Errorf("condition '%s': %w", path, err)
		}
		var value Value = Null{}
		if len(cj.Value) > 0 {
			v, err := ParseValue(cj.Value)
			if err != nil {
				return nil, fmt.Errorf("condition '%s' value: %w", path, err)
			}
			value = v
		}
		return &Condition{Field: cj.Field, Operator: cj.Operator, Value: value}, nil

	case NodeTypeGroup:
		var gj groupJSON
		if err := json.Unmarshal(data, &gj); err != nil {
			return nil, fmt.Errorf("group '%s': %w", path, err)
		}
		group := &Group{
			Operator: LogicalOp(strings.ToUpper(gj.Operator)),
			Children: make([]Node, 0, len(gj.Children)),
		}
		for i, raw := range gj.Children {
			child, err := DecodeNode(raw, ChildPath(path, i))
			if err != nil {
				return nil, err
			}
			group.Children = append(group.Children, child)
		}
		return group, nil

	case "":
		return nil, fmt.Errorf("node '%s' is missing its type", path)

	default:
		return nil, fmt.Errorf("node '%s' has unknown type '%s'", path, header.Type)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var rj ruleJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}

	*r = Rule{ID: rj.ID, Name: rj.Name, Version: rj.Version}
	if rj.CreatedAt != nil {
		r.CreatedAt = *rj.CreatedAt
	}
	if rj.UpdatedAt != nil {
		r.UpdatedAt = *rj.UpdatedAt
	}

	// Absent or null root is left nil for the compiler to report
	if len(rj.Root) > 0 && string(rj.Root) != "null" {
		root, err := DecodeNode(rj.Root, RootPath)
		if err != nil {
			return err
		}
		r.Root = root
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r Rule) MarshalJSON() ([]byte, error) {
	out := struct {
		ID        string     `json:"id"`
		Name      string     `json:"name"`
		Version   string     `json:"version"`
		Root      Node       `json:"root"`
		CreatedAt *time.Time `json:"createdAt,omitempty"`
		UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	}{ID: r.ID, Name: r.Name, Version: r.Version, Root: r.Root}
	if !r.CreatedAt.IsZero() {
		out.CreatedAt = &r.CreatedAt
	}
	if !r.UpdatedAt.IsZero() {
		out.UpdatedAt = &r.UpdatedAt
	}
	return json.Marshal(out)
}

// ParseRule decodes a rule from JSON.
func ParseRule(data []byte) (*Rule, error) {
	var r Rule
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Walk visits node and its descendants depth-first in child order.
// fn receives each node with its diagnostic path label. A non-nil error
// from fn stops the walk.
func Walk(node Node, path string, fn func(path string, n Node) error) error {
	if err := fn(path, node); err != nil {
		return err
	}
	if g, ok := node.(*Group); ok {
		for i, child := range g.Children {
			if err := Walk(child, ChildPath(path, i), fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// CloneNode returns a deep copy of node.
func CloneNode(node Node) Node {
	switch n := node.(type) {
	case *Condition:
		return &Condition{Field: n.Field, Operator: n.Operator, Value: Clone(n.Value)}
	case *Group:
		children := make([]Node, len(n.Children))
		for i, child := range n.Children {
			children[i] = CloneNode(child)
		}
		return &Group{Operator: n.Operator, Children: children}
	default:
		return nil
	}
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	out := *r
	out.Root = CloneNode(r.Root)
	return &out
}
