// internal/rules/cost.go
package rules

import "github.com/solatis/badgekeeper/internal/types"

/*
 * Cost model for condition evaluation.
 *
 * Each condition gets a static cost at compile time; a group costs the sum of
 * its children. The compiler orders the children of every group by ascending
 * cost (stable) in the evaluation plan, so AND groups reject and OR groups
 * accept through their cheapest children first.
 *
 * Cost formula: lookup_cost + operator_cost * operand_multiplier
 *
 *   - lookup_cost: CostLookupPerSegment per dotted segment
 *   - operator_cost: base cost per operator family
 *   - operand_multiplier: 1 for scalar operands; for array operands the array
 *     length (linear scans), floored at 1
 *
 * Ordering never changes a rule's result, only which leaves are visited.
 * MatchedPaths is sorted after evaluation so it is independent of plan order.
 */

// Operator base costs.
const (
	CostEmpty    = 1  // is_empty, is_not_empty
	CostEq       = 5  // eq, neq
	CostOrdered  = 7  // gt, gte, lt, lte
	CostBetween  = 8  // two numeric comparisons
	CostMember   = 8  // in, not_in, contains (per operand element)
	CostSet      = 12 // contains_any, contains_all (per operand element)
	CostAffix    = 10 // starts_with, ends_with
	CostTemporal = 20 // before, after (two time parses)
	CostRegex    = 50

	// Field lookup cost per path segment.
	CostLookupPerSegment = 16
)

// CalculateConditionCost computes the static cost of one condition.
func CalculateConditionCost(path []PathSegment, op types.Operator, operand types.Value) int {
	lookupCost := len(path) * CostLookupPerSegment
	return lookupCost + operatorCost(op)*operandMultiplier(op, operand)
}

// operatorCost returns base cost for operator execution.
func operatorCost(op types.Operator) int {
	switch op {
	case types.OpIsEmpty, types.OpIsNotEmpty:
		return CostEmpty
	case types.OpEq, types.OpNeq:
		return CostEq
	case types.OpGt, types.OpGte, types.OpLt, types.OpLte:
		return CostOrdered
	case types.OpBetween:
		return CostBetween
	case types.OpIn, types.OpNotIn, types.OpContains:
		return CostMember
	case types.OpContainsAny, types.OpContainsAll:
		return CostSet
	case types.OpStartsWith, types.OpEndsWith:
		return CostAffix
	case types.OpBefore, types.OpAfter:
		return CostTemporal
	case types.OpRegex:
		return CostRegex
	default:
		return CostEq
	}
}

// operandMultiplier scales array-scanning operators by operand length.
func operandMultiplier(op types.Operator, operand types.Value) int {
	switch op {
	case types.OpIn, types.OpNotIn, types.OpContainsAny, types.OpContainsAll:
		if arr, ok := operand.(types.Array); ok && len(arr) > 1 {
			return len(arr)
		}
	}
	return 1
}
