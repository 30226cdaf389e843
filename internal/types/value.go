// internal/types/value.go
package types

import (
	"encoding/json"
	"fmt"
	"math"
)

/*
 * Tagged JSON values.
 *
 * Condition operands and evaluation contexts are loosely-typed JSON. Value is a
 * sealed interface over the six JSON kinds so coercion code switches on a
 * closed set instead of probing interface{} with ad hoc casts.
 *
 * Variants:
 *   - Null:   JSON null (present-but-null, distinct from an absent field)
 *   - Bool:   JSON true/false
 *   - Number: JSON number, always float64
 *   - String: JSON string
 *   - Array:  ordered list of Values
 *   - Object: string-keyed map of Values
 *
 * A nil Value (the interface itself) never appears inside an Array or Object;
 * the evaluator uses nil to mean "field absent from context".
 *
 * Values are treated as immutable once constructed. Clone exists for callers
 * that hand data across goroutines and want independent copies.
 */

// Value is a JSON value. Only the types in this file implement it.
type Value interface {
	value() // sealed
}

// Null is the JSON null value.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Bool is a JSON boolean.
type Bool bool

func (Bool) value() {}

// Number is a JSON number.
type Number float64

func (Number) value() {}

// String is a JSON string.
type String string

func (String) value() {}

// Array is a JSON array.
type Array []Value

func (Array) value() {}

// Object is a JSON object.
type Object map[string]Value

func (Object) value() {}

// ParseValue decodes a JSON document into a Value.
func ParseValue(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// FromAny converts the output of encoding/json (and common Go scalars) to a Value.
// Returns an error for types with no JSON equivalent.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []string:
		arr := make(Array, len(t))
		for i, s := range t {
			arr[i] = String(s)
		}
		return arr, nil
	case []any:
		arr := make(Array, len(t))
		for i, elem := range t {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(t))
		for k, elem := range t {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// Kind names the JSON kind of v, used in diagnostics.
func Kind(v Value) string {
	switch v.(type) {
	case nil:
		return "missing"
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}

// Equal reports structural equality. Numbers compare by value; NaN equals nothing.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Number:
		y, ok := b.(Number)
		return ok && !math.IsNaN(float64(x)) && x == y
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Object:
		y, ok := b.(Object)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// IsEmpty reports whether v is null, an empty string, or an empty array.
// Zero, false, and empty objects are not empty.
func IsEmpty(v Value) bool {
	switch t := v.(type) {
	case Null:
		return true
	case String:
		return t == ""
	case Array:
		return len(t) == 0
	default:
		return false
	}
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch t := v.(type) {
	case Array:
		out := make(Array, len(t))
		for i, elem := range t {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		out := make(Object, len(t))
		for k, elem := range t {
			out[k] = Clone(elem)
		}
		return out
	default:
		return v
	}
}
