// internal/rules/evaluate.go
package rules

import (
	"sort"
	"time"

	"github.com/solatis/badgekeeper/internal/types"
)

/*
 * Rule evaluation.
 *
 * Walks a CompiledRule's plan against a context Value. Leaves resolve their
 * field path and call Compare (or the pre-compiled regex); groups combine
 * children with short-circuit AND/OR in cost order.
 *
 * Evaluation flow:
 *   1. Resolve field path (nil when absent)
 *   2. Apply operator (missing-field policy lives in Compare)
 *   3. AND: stop at first false child; OR: stop at first true child
 *   4. Record matched leaf paths along the decisive branches
 *
 * MatchedPaths: an AND that holds contributes every child's paths; an OR
 * that holds contributes the first true child's paths in plan order; a false
 * node contributes nothing. The final list is sorted for stable reporting.
 *
 * Evaluation never fails. Malformed context data resolves to false at the
 * leaf that reads it.
 */

// EvaluationResult is the outcome of evaluating one rule.
type EvaluationResult struct {
	RuleID         string
	RuleName       string
	Matched        bool
	MatchedPaths   []string // tree paths of true leaf conditions, sorted
	Duration       time.Duration
	CompileVersion uint64
}

// Evaluate checks whether rule matches ctx.
func Evaluate(rule *CompiledRule, ctx types.Value) EvaluationResult {
	start := time.Now()
	result := EvaluationResult{
		RuleID:         rule.Rule.ID,
		RuleName:       rule.Rule.Name,
		CompileVersion: rule.CompileVersion,
	}

	var matched []string
	result.Matched = evaluateNode(rule.plan, ctx, &matched)
	if result.Matched {
		sort.Strings(matched)
		result.MatchedPaths = matched
	}
	result.Duration = time.Since(start)
	return result
}

// EvaluateJSON decodes ctx and evaluates rule against it.
// Returns an error only if ctx is not a JSON object.
func EvaluateJSON(rule *CompiledRule, ctx []byte) (EvaluationResult, error) {
	obj, err := types.ParseContext(ctx)
	if err != nil {
		return EvaluationResult{}, err
	}
	return Evaluate(rule, obj), nil
}

// Matches reports whether the rule matches ctx without collecting diagnostics.
func (r *CompiledRule) Matches(ctx types.Value) bool {
	return evaluateNode(r.plan, ctx, nil)
}

// evaluateNode evaluates one plan node. If matched is non-nil, paths of true
// leaves on decisive branches are appended to it.
func evaluateNode(n *planNode, ctx types.Value, matched *[]string) bool {
	if n.cond != nil {
		ok := evaluateCondition(n.cond, ctx)
		if ok && matched != nil {
			*matched = append(*matched, n.path)
		}
		return ok
	}

	if n.op == types.LogicalOr {
		for _, child := range n.children {
			if evaluateNode(child, ctx, matched) {
				return true
			}
		}
		return false
	}

	// AND: collect into a scratch slice so a failing group leaves matched untouched
	var local []string
	var sink *[]string
	if matched != nil {
		sink = &local
	}
	for _, child := range n.children {
		if !evaluateNode(child, ctx, sink) {
			return false
		}
	}
	if matched != nil {
		*matched = append(*matched, local...)
	}
	return true
}

// evaluateCondition resolves the field and applies the operator.
func evaluateCondition(cc *compiledCondition, ctx types.Value) bool {
	field := Resolve(cc.segments, ctx)
	if cc.pattern != nil {
		if field == nil {
			return false
		}
		return matchRegex(cc.pattern, field)
	}
	return Compare(cc.operator, field, cc.value)
}
