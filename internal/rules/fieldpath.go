// internal/rules/fieldpath.go
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/badgekeeper/internal/types"
)

/*
 * Field path resolution for evaluation contexts.
 *
 * Condition fields are dotted paths ("order.amount", "items.0.sku"). Paths are
 * parsed once at compile time into PathSegments; evaluation walks the segments
 * through the context Value.
 *
 * Segment semantics:
 *   - Object: segment is a key lookup
 *   - Array: segment must be a non-negative integer index
 *   - Anything else (including null) with segments remaining: missing
 *
 * A numeric segment on an object is a plain key lookup, so {"0": x} resolves
 * "0" as expected. There are no wildcards; every path resolves to at most one
 * value.
 *
 * Resolve returns nil for missing paths. A present JSON null resolves to
 * types.Null{} only when it is the final segment.
 */

// PathSegment is one component of a dotted field path.
type PathSegment struct {
	Key     string // raw segment text
	Index   int    // parsed index, valid only if IsIndex
	IsIndex bool   // segment is a non-negative integer
}

// ParsePath splits a dotted field path into segments.
// Returns ErrInvalidPath for empty segments and ErrPathTooDeep beyond MaxPathDepth.
func ParsePath(field string) ([]PathSegment, error) {
	if field == "" {
		return nil, types.ErrEmptyField
	}

	parts := strings.Split(field, ".")
	if len(parts) > types.MaxPathDepth {
		return nil, fmt.Errorf("%w: %d segments, limit %d", types.ErrPathTooDeep, len(parts), types.MaxPathDepth)
	}

	path := make([]PathSegment, len(parts))
	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w at position %d", types.ErrInvalidPath, i)
		}
		seg := PathSegment{Key: part}
		if idx, err := strconv.Atoi(part); err == nil && idx >= 0 {
			seg.Index = idx
			seg.IsIndex = true
		}
		path[i] = seg
	}
	return path, nil
}

// Resolve walks path through ctx. Returns nil if any segment is missing.
func Resolve(path []PathSegment, ctx types.Value) types.Value {
	current := ctx
	for _, seg := range path {
		switch v := current.(type) {
		case types.Object:
			next, ok := v[seg.Key]
			if !ok {
				return nil
			}
			current = next
		case types.Array:
			if !seg.IsIndex || seg.Index >= len(v) {
				return nil
			}
			current = v[seg.Index]
		default:
			// Scalar or null with segments remaining
			return nil
		}
	}
	return current
}

// ResolveField parses field and resolves it against ctx.
// Invalid paths resolve to nil, same as missing ones.
func ResolveField(field string, ctx types.Value) types.Value {
	path, err := ParsePath(field)
	if err != nil {
		return nil
	}
	return Resolve(path, ctx)
}
