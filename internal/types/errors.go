package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for rule compilation and storage.
var (
	// ErrParse marks every compile failure. CompileError unwraps to it.
	ErrParse = errors.New("parse error")

	// ErrRuleNotFound indicates an update or delete against an absent rule id.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrEmptyRuleID indicates a rule without an id.
	ErrEmptyRuleID = errors.New("rule id cannot be empty")

	// ErrEmptyRuleName indicates a rule without a name.
	ErrEmptyRuleName = errors.New("rule name cannot be empty")

	// ErrEmptyExpression indicates a rule has no root node.
	ErrEmptyExpression = errors.New("rule root cannot be empty")

	// ErrEmptyField indicates a condition with an empty field path.
	ErrEmptyField = errors.New("field cannot be empty")

	// ErrEmptyGroup indicates a group with no children.
	ErrEmptyGroup = errors.New("group must have at least one child")

	// ErrInvalidOperator indicates an unknown condition or group operator.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrInvalidOperand indicates an operand whose shape the operator rejects.
	ErrInvalidOperand = errors.New("invalid operand")

	// ErrInvalidRegex indicates a regex operand that does not compile.
	ErrInvalidRegex = errors.New("invalid regular expression")

	// ErrRuleDepthExceeded indicates nesting deeper than MaxRuleDepth.
	ErrRuleDepthExceeded = errors.New("rule nesting exceeds maximum depth")

	// ErrInvalidPath indicates a field path with an empty segment.
	ErrInvalidPath = errors.New("field path has an empty segment")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrTooManyOperands indicates an array operand exceeds MaxSetOperands.
	ErrTooManyOperands = errors.New("operand array has too many values")
)

// CompileError is a path-qualified compilation failure.
// Error() renders as "parse error: <message>".
type CompileError struct {
	Path    string // node label, "root" or "root.children[i]..."; empty for rule-level errors
	Message string // human-readable, path-qualified description
	Err     error  // specific sentinel, may be nil
}

// NewCompileError builds a CompileError with a formatted message.
func NewCompileError(path string, err error, format string, args ...any) *CompileError {
	return &CompileError{Path: path, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *CompileError) Error() string {
	return ErrParse.Error() + ": " + e.Message
}

// Unwrap exposes ErrParse and the specific sentinel to errors.Is.
func (e *CompileError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

// StoreError reports a store operation against a specific rule id.
type StoreError struct {
	RuleID string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.RuleID)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NotFound returns the StoreError for an absent rule id.
func NotFound(id string) *StoreError {
	return &StoreError{RuleID: id, Err: ErrRuleNotFound}
}
