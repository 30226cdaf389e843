// internal/rules/operators.go
package rules

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/solatis/badgekeeper/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Implements the 19 condition operators over tagged Values. Compare is total:
 * any type mismatch, unparseable literal or missing field yields false rather
 * than an error.
 *
 * Missing-field policy (applied before any operator logic):
 *   - field == nil: is_empty -> true, every other operator -> false
 *
 * Operator families:
 *   - eq/neq: numeric when both sides are Numbers, else structural equality
 *   - gt/gte/lt/lte/between: numeric coercion of both sides (ToNumber)
 *   - in/not_in: membership in an array operand using eq semantics
 *   - contains: substring on strings, element membership on arrays
 *   - contains_any/contains_all: set intersection / subset over arrays
 *   - starts_with/ends_with/regex: text coercion of the field (ToText)
 *   - before/after: temporal coercion of both sides (ToTime), strict order
 *   - is_empty/is_not_empty: null, "" and [] are empty; 0 and false are not
 *
 * Function-based dispatch via switch, same as the rest of the package; the
 * operator set is closed.
 */

// Compare applies op to field and expected. A nil field means the path was
// absent from the context.
func Compare(op types.Operator, field, expected types.Value) bool {
	if field == nil {
		return op == types.OpIsEmpty
	}

	switch op {
	case types.OpEq:
		return compareEqual(field, expected)
	case types.OpNeq:
		return !compareEqual(field, expected)
	case types.OpGt:
		return compareOrdered(field, expected, func(c int) bool { return c > 0 })
	case types.OpGte:
		return compareOrdered(field, expected, func(c int) bool { return c >= 0 })
	case types.OpLt:
		return compareOrdered(field, expected, func(c int) bool { return c < 0 })
	case types.OpLte:
		return compareOrdered(field, expected, func(c int) bool { return c <= 0 })
	case types.OpBetween:
		return compareBetween(field, expected)
	case types.OpIn:
		return compareIn(field, expected)
	case types.OpNotIn:
		return compareNotIn(field, expected)
	case types.OpContains:
		return compareContains(field, expected)
	case types.OpContainsAny:
		return compareContainsAny(field, expected)
	case types.OpContainsAll:
		return compareContainsAll(field, expected)
	case types.OpStartsWith:
		return compareText(field, expected, strings.HasPrefix)
	case types.OpEndsWith:
		return compareText(field, expected, strings.HasSuffix)
	case types.OpRegex:
		pattern, ok := expected.(types.String)
		if !ok {
			return false
		}
		return matchRegex(lookupRegex(string(pattern)), field)
	case types.OpBefore:
		return compareTime(field, expected, time.Time.Before)
	case types.OpAfter:
		return compareTime(field, expected, time.Time.After)
	case types.OpIsEmpty:
		return types.IsEmpty(field)
	case types.OpIsNotEmpty:
		return !types.IsEmpty(field)
	default:
		return false
	}
}

// compareEqual compares numerically when both sides are Numbers,
// otherwise structurally.
func compareEqual(a, b types.Value) bool {
	if na, ok := a.(types.Number); ok {
		if nb, ok := b.(types.Number); ok {
			return float64(na) == float64(nb)
		}
	}
	return types.Equal(a, b)
}

// compareNumeric performs three-way numeric comparison.
// ok is false if either side is not numeric or either is NaN.
func compareNumeric(a, b types.Value) (int, bool) {
	na, oka := ToNumber(a)
	nb, okb := ToNumber(b)
	if !oka || !okb || math.IsNaN(na) || math.IsNaN(nb) {
		return 0, false
	}
	switch {
	case na < nb:
		return -1, true
	case na > nb:
		return 1, true
	default:
		return 0, true
	}
}

func compareOrdered(a, b types.Value, accept func(int) bool) bool {
	c, ok := compareNumeric(a, b)
	return ok && accept(c)
}

// compareBetween checks min <= field <= max. bounds must be a 2-element array.
func compareBetween(field, bounds types.Value) bool {
	arr, ok := bounds.(types.Array)
	if !ok || len(arr) != 2 {
		return false
	}
	lo, ok := compareNumeric(field, arr[0])
	if !ok || lo < 0 {
		return false
	}
	hi, ok := compareNumeric(field, arr[1])
	return ok && hi <= 0
}

// compareIn checks field membership in set using eq semantics.
func compareIn(field, set types.Value) bool {
	arr, ok := set.(types.Array)
	if !ok {
		return false
	}
	return containsElement(arr, field)
}

// compareNotIn is the negation of compareIn. A non-array set is false, not true.
func compareNotIn(field, set types.Value) bool {
	arr, ok := set.(types.Array)
	if !ok {
		return false
	}
	return !containsElement(arr, field)
}

func containsElement(arr types.Array, v types.Value) bool {
	for _, elem := range arr {
		if compareEqual(elem, v) {
			return true
		}
	}
	return false
}

// compareContains is substring for string fields and membership for array fields.
func compareContains(field, expected types.Value) bool {
	switch f := field.(type) {
	case types.String:
		sub, ok := expected.(types.String)
		if !ok {
			return false
		}
		return strings.Contains(string(f), string(sub))
	case types.Array:
		return containsElement(f, expected)
	default:
		return false
	}
}

// compareContainsAny is true iff the arrays share at least one element.
func compareContainsAny(field, expected types.Value) bool {
	have, ok1 := field.(types.Array)
	want, ok2 := expected.(types.Array)
	if !ok1 || !ok2 {
		return false
	}
	for _, w := range want {
		if containsElement(have, w) {
			return true
		}
	}
	return false
}

// compareContainsAll is true iff every expected element is in field.
// An empty expected array is trivially contained.
func compareContainsAll(field, expected types.Value) bool {
	have, ok1 := field.(types.Array)
	want, ok2 := expected.(types.Array)
	if !ok1 || !ok2 {
		return false
	}
	for _, w := range want {
		if !containsElement(have, w) {
			return false
		}
	}
	return true
}

// compareText coerces both sides to text and applies fn(field, expected).
func compareText(field, expected types.Value, fn func(s, affix string) bool) bool {
	fs, ok1 := ToText(field)
	es, ok2 := ToText(expected)
	if !ok1 || !ok2 {
		return false
	}
	return fn(fs, es)
}

// matchRegex reports an unanchored match of re against the text form of field.
// A nil re (invalid pattern) never matches.
func matchRegex(re *regexp.Regexp, field types.Value) bool {
	if re == nil {
		return false
	}
	text, ok := ToText(field)
	if !ok {
		return false
	}
	return re.MatchString(text)
}

// compareTime parses both sides as times and applies accept(field, expected).
func compareTime(field, expected types.Value, accept func(a, b time.Time) bool) bool {
	ft, ok1 := ToTime(field)
	et, ok2 := ToTime(expected)
	if !ok1 || !ok2 {
		return false
	}
	return accept(ft, et)
}
