// Package types provides the rule expression model shared across badgekeeper
// components.
//
// No I/O. ids.go is the only file with a third-party import (uuid). internal/rules builds compilation and evaluation on top of these types;
// internal/core/... packages persist and transport them.
package types

import "fmt"

// Resource limits enforced by the compiler to bound evaluation cost.
const (
	// MaxRuleDepth limits group nesting. Evaluation recurses once per level.
	MaxRuleDepth = 32

	// MaxPathDepth limits dotted segments in a field path.
	MaxPathDepth = 16

	// MaxSetOperands limits array operands of between/in/not_in/contains_any/contains_all.
	MaxSetOperands = 1024

	// MaxRegexLength limits the byte length of a regex operand.
	MaxRegexLength = 1024
)

// ParseContext decodes an evaluation context. The document must be a JSON object.
func ParseContext(data []byte) (Object, error) {
	v, err := ParseValue(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("evaluation context must be a JSON object, got %s", Kind(v))
	}
	return obj, nil
}
