// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/solatis/badgekeeper/internal/types"
)

/*
 * Operand coercion for rule evaluation.
 *
 * Each operator family needs one view of a Value: a float64, a string, or a
 * point in time. Every coercion here is total and reports failure through a
 * bool, never an error; the caller maps failure to a non-match.
 *
 * Coercions:
 *   - ToNumber: Number as is; String trimmed then parsed. Everything else fails.
 *     Booleans are not numbers (no true == 1).
 *   - ToText: String as is; scalars via cast in shortest form ("600", "1.5",
 *     "true"); null as "null"; arrays and objects as compact JSON.
 *   - ToTime: String parsed as RFC3339, then as YYYY-MM-DD at UTC midnight.
 *
 * Null and missing (nil) are distinct: nil never reaches these functions
 * because the missing-field policy runs first in Compare.
 */

// DateLayout is the plain-date fallback accepted by ToTime.
const DateLayout = "2006-01-02"

// ToNumber coerces v to float64. Numeric strings are trimmed first;
// empty or whitespace-only strings fail.
func ToNumber(v types.Value) (float64, bool) {
	switch t := v.(type) {
	case types.Number:
		return float64(t), true
	case types.String:
		s := strings.TrimSpace(string(t))
		if s == "" {
			return 0, false
		}
		f, err := cast.ToFloat64E(s)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ToText coerces v to its string representation. Always succeeds for
// non-nil values.
func ToText(v types.Value) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case types.String:
		return string(t), true
	case types.Number:
		return cast.ToString(float64(t)), true
	case types.Bool:
		return cast.ToString(bool(t)), true
	case types.Null:
		return "null", true
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}

// ToTime parses v as an RFC3339 timestamp or a plain date.
// Only strings are parsed; numbers are not treated as epoch offsets.
func ToTime(v types.Value) (time.Time, bool) {
	s, ok := v.(types.String)
	if !ok {
		return time.Time{}, false
	}
	text := strings.TrimSpace(string(s))
	if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return ts, true
	}
	if ts, err := time.ParseInLocation(DateLayout, text, time.UTC); err == nil {
		return ts, true
	}
	return time.Time{}, false
}
