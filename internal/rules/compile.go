// internal/rules/compile.go
package rules

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"

	"go.uber.org/atomic"

	"github.com/solatis/badgekeeper/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compiles types.Rule to CompiledRule: validated structure, parsed field
 * paths, pre-compiled regexes, the sorted set of required fields, and a
 * cost-ordered evaluation plan.
 *
 * Compilation workflow:
 *   1. Reject empty id or name
 *   2. Structural pass: empty fields, empty groups, unknown logical operators,
 *      nesting deeper than MaxRuleDepth
 *   3. Operand pass: unknown operators, array-shaped operands, between bounds,
 *      operand limits, field path parsing, regex compilation
 *   4. Collect required fields; order group children by ascending cost
 *   5. Stamp the next compile version
 *
 * Compilation is all-or-nothing. The first violation (depth-first, child
 * order) is returned as a *types.CompileError; no partial CompiledRule escapes.
 *
 * Root is never reordered. The plan is a separate tree so the Rule a caller
 * gets back is the Rule they submitted.
 *
 * Versioning: each Compiler owns an atomic counter. Two compilations of the
 * same input produce identical content and distinct, increasing versions.
 */

// CompiledRule is a validated rule ready for evaluation. Treat as immutable.
type CompiledRule struct {
	Rule           *types.Rule
	RequiredFields []string // sorted, deduplicated
	CompileVersion uint64
	Cost           int // total static cost of all conditions

	fields map[string]struct{}
	plan   *planNode
}

// planNode mirrors a rule node. Exactly one of cond or children is set.
type planNode struct {
	path     string // diagnostic label in the original tree ("root.children[1]")
	cost     int
	op       types.LogicalOp
	children []*planNode // ordered by ascending cost
	cond     *compiledCondition
}

// compiledCondition is a pre-processed condition.
type compiledCondition struct {
	field    string
	segments []PathSegment
	operator types.Operator
	value    types.Value
	pattern  *regexp.Regexp // regex only
}

// Requires reports whether the rule reads field.
func (r *CompiledRule) Requires(field string) bool {
	_, ok := r.fields[field]
	return ok
}

// ID returns the rule id.
func (r *CompiledRule) ID() string {
	return r.Rule.ID
}

// Clone returns a copy whose Rule and RequiredFields are independent of r.
// The evaluation plan is immutable and shared.
func (r *CompiledRule) Clone() *CompiledRule {
	out := *r
	out.Rule = r.Rule.Clone()
	out.RequiredFields = append([]string(nil), r.RequiredFields...)
	return &out
}

// Compiler compiles rules and stamps them with a per-instance version.
// Safe for concurrent use.
type Compiler struct {
	version *atomic.Uint64
}

// NewCompiler creates a compiler whose first compile version is 1.
func NewCompiler() *Compiler {
	return &Compiler{version: atomic.NewUint64(0)}
}

// Version returns the most recently issued compile version (0 if none).
func (c *Compiler) Version() uint64 {
	return c.version.Load()
}

// CompileJSON decodes and compiles a rule.
func (c *Compiler) CompileJSON(data []byte) (*CompiledRule, error) {
	var rule types.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, types.NewCompileError("", err, "invalid rule JSON: %v", err)
	}
	return c.Compile(&rule)
}

// Compile validates and pre-processes a rule for evaluation. The input is
// deep-copied; later changes to rule do not affect the result.
func (c *Compiler) Compile(rule *types.Rule) (*CompiledRule, error) {
	if rule == nil {
		return nil, types.NewCompileError("", types.ErrEmptyExpression, "rule cannot be nil")
	}
	if rule.ID == "" {
		return nil, types.NewCompileError("", types.ErrEmptyRuleID, "rule id cannot be empty")
	}
	if rule.Name == "" {
		return nil, types.NewCompileError("", types.ErrEmptyRuleName, "rule '%s' name cannot be empty", rule.ID)
	}
	if rule.Root == nil {
		return nil, types.NewCompileError(types.RootPath, types.ErrEmptyExpression, "rule root cannot be empty")
	}

	if err := validateStructure(rule.Root, types.RootPath, 1); err != nil {
		return nil, err
	}

	plan, err := buildPlan(rule.Root, types.RootPath)
	if err != nil {
		return nil, err
	}

	fields := CollectFields(rule.Root)
	required := make([]string, 0, len(fields))
	for f := range fields {
		required = append(required, f)
	}
	sort.Strings(required)

	return &CompiledRule{
		Rule:           rule.Clone(),
		RequiredFields: required,
		CompileVersion: c.version.Inc(),
		Cost:           plan.cost,
		fields:         fields,
		plan:           plan,
	}, nil
}

// validateStructure checks tree shape: non-empty fields, non-empty groups,
// known logical operators, bounded depth.
func validateStructure(node types.Node, path string, depth int) error {
	if depth > types.MaxRuleDepth {
		return types.NewCompileError(path, types.ErrRuleDepthExceeded,
			"node '%s' exceeds maximum nesting depth %d", path, types.MaxRuleDepth)
	}

	switch n := node.(type) {
	case *types.Condition:
		if n.Field == "" {
			return types.NewCompileError(path, types.ErrEmptyField, "condition '%s' field cannot be empty", path)
		}
		return nil

	case *types.Group:
		if !n.Operator.Valid() {
			return types.NewCompileError(path, types.ErrInvalidOperator,
				"group '%s' has unknown logical operator '%s'", path, n.Operator)
		}
		if len(n.Children) == 0 {
			return types.NewCompileError(path, types.ErrEmptyGroup, "group '%s' must have at least one child", path)
		}
		for i, child := range n.Children {
			if child == nil {
				childPath := types.ChildPath(path, i)
				return types.NewCompileError(childPath, types.ErrEmptyExpression, "node '%s' cannot be empty", childPath)
			}
			if err := validateStructure(child, types.ChildPath(path, i), depth+1); err != nil {
				return err
			}
		}
		return nil

	default:
		return types.NewCompileError(path, types.ErrEmptyExpression, "node '%s' cannot be empty", path)
	}
}

// buildPlan validates operands and builds the cost-ordered plan.
// Assumes validateStructure passed.
func buildPlan(node types.Node, path string) (*planNode, error) {
	switch n := node.(type) {
	case *types.Condition:
		cc, err := compileCondition(n, path)
		if err != nil {
			return nil, err
		}
		return &planNode{
			path: path,
			cond: cc,
			cost: CalculateConditionCost(cc.segments, cc.operator, cc.value),
		}, nil

	case *types.Group:
		pn := &planNode{
			path:     path,
			op:       n.Operator,
			children: make([]*planNode, 0, len(n.Children)),
		}
		for i, child := range n.Children {
			cp, err := buildPlan(child, types.ChildPath(path, i))
			if err != nil {
				return nil, err
			}
			pn.children = append(pn.children, cp)
			pn.cost += cp.cost
		}

		// Stable: equal-cost children keep authoring order
		sort.SliceStable(pn.children, func(i, j int) bool {
			return pn.children[i].cost < pn.children[j].cost
		})
		return pn, nil

	default:
		return nil, types.NewCompileError(path, types.ErrEmptyExpression, "node '%s' cannot be empty", path)
	}
}

// compileCondition validates one condition's operator and operand.
func compileCondition(cond *types.Condition, path string) (*compiledCondition, error) {
	op := cond.Operator
	if !op.Valid() {
		return nil, types.NewCompileError(path, types.ErrInvalidOperator,
			"condition '%s' has unknown operator '%s'", path, op)
	}

	segments, err := ParsePath(cond.Field)
	if err != nil {
		sentinel := types.ErrInvalidPath
		if errors.Is(err, types.ErrPathTooDeep) {
			sentinel = types.ErrPathTooDeep
		}
		return nil, types.NewCompileError(path, sentinel,
			"condition '%s' field '%s' is invalid: %v", path, cond.Field, err)
	}

	value := cond.Value
	if value == nil {
		value = types.Null{}
	}

	cc := &compiledCondition{
		field:    cond.Field,
		segments: segments,
		operator: op,
		value:    types.Clone(value),
	}

	if op.IgnoresValue() {
		return cc, nil
	}

	if op.RequiresArray() {
		arr, ok := value.(types.Array)
		if op == types.OpBetween && (!ok || len(arr) != 2) {
			return nil, types.NewCompileError(path, types.ErrInvalidOperand,
				"condition '%s' operator 'between' requires a [min, max] array", path)
		}
		if !ok {
			return nil, types.NewCompileError(path, types.ErrInvalidOperand,
				"condition '%s' operator '%s' requires an array value, got %s", path, op, types.Kind(value))
		}
		if len(arr) > types.MaxSetOperands {
			return nil, types.NewCompileError(path, types.ErrTooManyOperands,
				"condition '%s' operator '%s' has %d values, limit %d", path, op, len(arr), types.MaxSetOperands)
		}
	}

	if op == types.OpRegex {
		pattern, ok := value.(types.String)
		if !ok {
			return nil, types.NewCompileError(path, types.ErrInvalidOperand,
				"condition '%s' operator 'regex' requires a string pattern, got %s", path, types.Kind(value))
		}
		if len(pattern) > types.MaxRegexLength {
			return nil, types.NewCompileError(path, types.ErrInvalidRegex,
				"condition '%s' regular expression exceeds %d bytes", path, types.MaxRegexLength)
		}
		re, err := regexp.Compile(string(pattern))
		if err != nil {
			return nil, types.NewCompileError(path, types.ErrInvalidRegex,
				"condition '%s' has invalid regular expression '%s': %v", path, pattern, err)
		}
		cc.pattern = re
	}

	return cc, nil
}

// CollectFields returns every condition field reachable from node.
func CollectFields(node types.Node) map[string]struct{} {
	fields := make(map[string]struct{})
	_ = types.Walk(node, types.RootPath, func(_ string, n types.Node) error {
		if c, ok := n.(*types.Condition); ok {
			fields[c.Field] = struct{}{}
		}
		return nil
	})
	return fields
}
