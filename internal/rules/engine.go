// internal/rules/engine.go
package rules

import (
	"sort"

	"go.uber.org/zap"

	"github.com/solatis/badgekeeper/internal/types"
)

/*
 * Batch evaluation over a Store.
 *
 * Engine is what callers (the gRPC service, the CLI) hold: a Store plus
 * evaluation entry points that look rules up by id and evaluate them against
 * one context. Rules are read without cloning; compiled rules are immutable
 * and a concurrent Update swaps the map entry, not the rule.
 */

// Engine evaluates stored rules.
type Engine struct {
	store  *Store
	logger *zap.Logger
}

// NewEngine creates an engine over store. A nil logger disables logging.
func NewEngine(store *Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger}
}

// Store returns the underlying rule store.
func (e *Engine) Store() *Store {
	return e.store
}

// EvaluateRule evaluates one stored rule against ctx.
// Returns a *types.StoreError wrapping ErrRuleNotFound if id is absent.
func (e *Engine) EvaluateRule(id string, ctx types.Value) (EvaluationResult, error) {
	compiled, ok := e.store.snapshot(id)
	if !ok {
		return EvaluationResult{}, types.NotFound(id)
	}
	return Evaluate(compiled, ctx), nil
}

// EvaluateAll evaluates the rules named by ids against ctx, in the order
// given. With no ids every stored rule is evaluated in id order. Ids not in
// the store are returned in missing.
func (e *Engine) EvaluateAll(ctx types.Value, ids ...string) (results []EvaluationResult, missing []string) {
	var targets []*CompiledRule
	if len(ids) == 0 {
		targets = e.store.listShared()
	} else {
		targets = make([]*CompiledRule, 0, len(ids))
		for _, id := range ids {
			compiled, ok := e.store.snapshot(id)
			if !ok {
				missing = append(missing, id)
				continue
			}
			targets = append(targets, compiled)
		}
	}

	results = make([]EvaluationResult, 0, len(targets))
	matched := 0
	for _, compiled := range targets {
		r := Evaluate(compiled, ctx)
		if r.Matched {
			matched++
		}
		results = append(results, r)
	}

	e.logger.Debug("evaluated rules",
		zap.Int("evaluated", len(results)),
		zap.Int("matched", matched),
		zap.Strings("missing", missing))
	return results, missing
}

// RequiredFields returns the sorted union of fields read by the named rules,
// or by every stored rule when ids is empty. Unknown ids are ignored.
func (e *Engine) RequiredFields(ids ...string) []string {
	var targets []*CompiledRule
	if len(ids) == 0 {
		targets = e.store.listShared()
	} else {
		for _, id := range ids {
			if compiled, ok := e.store.snapshot(id); ok {
				targets = append(targets, compiled)
			}
		}
	}

	union := make(map[string]struct{})
	for _, compiled := range targets {
		for _, f := range compiled.RequiredFields {
			union[f] = struct{}{}
		}
	}
	fields := make([]string, 0, len(union))
	for f := range union {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
