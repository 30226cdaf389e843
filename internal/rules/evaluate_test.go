// internal/rules/evaluate_test.go
package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/solatis/badgekeeper/internal/types"
)

const purchaseRuleJSON = `{
	"id": "r1",
	"name": "big purchase or vip",
	"version": "1",
	"root": {
		"type": "group",
		"operator": "AND",
		"children": [
			{"type": "condition", "field": "event.type", "operator": "eq", "value": "PURCHASE"},
			{
				"type": "group",
				"operator": "OR",
				"children": [
					{"type": "condition", "field": "order.amount", "operator": "gte", "value": 500},
					{"type": "condition", "field": "user.is_vip", "operator": "eq", "value": true}
				]
			}
		]
	}
}`

func mustCompileJSON(t *testing.T, data string) *CompiledRule {
	t.Helper()
	compiled, err := NewCompiler().CompileJSON([]byte(data))
	if err != nil {
		t.Fatalf("CompileJSON() error = %v", err)
	}
	return compiled
}

func TestEvaluate_PurchaseScenario(t *testing.T) {
	compiled := mustCompileJSON(t, purchaseRuleJSON)

	tests := []struct {
		name      string
		context   string
		wantMatch bool
		wantPaths []string
	}{
		{
			name:      "large purchase",
			context:   `{"event": {"type": "PURCHASE"}, "order": {"amount": 600}, "user": {"is_vip": false}}`,
			wantMatch: true,
			wantPaths: []string{"root.children[0]", "root.children[1].children[0]"},
		},
		{
			name:      "small purchase",
			context:   `{"event": {"type": "PURCHASE"}, "order": {"amount": 10}, "user": {"is_vip": false}}`,
			wantMatch: false,
		},
		{
			name:      "small purchase by vip",
			context:   `{"event": {"type": "PURCHASE"}, "order": {"amount": 10}, "user": {"is_vip": true}}`,
			wantMatch: true,
			wantPaths: []string{"root.children[0]", "root.children[1].children[1]"},
		},
		{
			name:      "wrong event type",
			context:   `{"event": {"type": "REFUND"}, "order": {"amount": 600}, "user": {"is_vip": true}}`,
			wantMatch: false,
		},
		{
			name:      "empty context",
			context:   `{}`,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := EvaluateJSON(compiled, []byte(tt.context))
			if err != nil {
				t.Fatalf("EvaluateJSON() error = %v", err)
			}
			if result.Matched != tt.wantMatch {
				t.Errorf("Matched = %v, want %v", result.Matched, tt.wantMatch)
			}
			if diff := cmp.Diff(tt.wantPaths, result.MatchedPaths); diff != "" {
				t.Errorf("MatchedPaths mismatch (-want +got):\n%s", diff)
			}
			if result.RuleID != "r1" || result.RuleName != "big purchase or vip" {
				t.Errorf("result identity = %s/%s", result.RuleID, result.RuleName)
			}
			if result.CompileVersion != compiled.CompileVersion {
				t.Errorf("CompileVersion = %d, want %d", result.CompileVersion, compiled.CompileVersion)
			}
			if got := compiled.Matches(mustContext(t, tt.context)); got != tt.wantMatch {
				t.Errorf("Matches() = %v, want %v", got, tt.wantMatch)
			}
		})
	}
}

func TestEvaluate_OrReportsFirstTrueChildOnly(t *testing.T) {
	// Both OR children hold; equal cost keeps authoring order so the first wins
	compiled := mustCompileJSON(t, `{
		"id": "r2", "name": "either tag",
		"root": {"type": "group", "operator": "OR", "children": [
			{"type": "condition", "field": "a", "operator": "eq", "value": 1},
			{"type": "condition", "field": "b", "operator": "eq", "value": 1}
		]}
	}`)

	result := Evaluate(compiled, types.Object{"a": types.Number(1), "b": types.Number(1)})
	if !result.Matched {
		t.Fatalf("Matched = false, want true")
	}
	if diff := cmp.Diff([]string{"root.children[0]"}, result.MatchedPaths); diff != "" {
		t.Errorf("MatchedPaths mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_FailedBranchContributesNothing(t *testing.T) {
	// children[0] is an AND that partially holds, children[1] holds
	compiled := mustCompileJSON(t, `{
		"id": "r3", "name": "partial",
		"root": {"type": "group", "operator": "OR", "children": [
			{"type": "group", "operator": "AND", "children": [
				{"type": "condition", "field": "a", "operator": "eq", "value": 1},
				{"type": "condition", "field": "b", "operator": "eq", "value": 2}
			]},
			{"type": "condition", "field": "c", "operator": "is_not_empty"}
		]}
	}`)

	result := Evaluate(compiled, types.Object{"a": types.Number(1), "b": types.Number(3), "c": types.String("x")})
	if !result.Matched {
		t.Fatalf("Matched = false, want true")
	}
	if diff := cmp.Diff([]string{"root.children[1]"}, result.MatchedPaths); diff != "" {
		t.Errorf("MatchedPaths mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_MissingFieldPolicy(t *testing.T) {
	compiled := mustCompileJSON(t, `{
		"id": "r4", "name": "no coupon",
		"root": {"type": "group", "operator": "AND", "children": [
			{"type": "condition", "field": "order.coupon", "operator": "is_empty"},
			{"type": "condition", "field": "order.coupon", "operator": "neq", "value": "SPRING"}
		]}
	}`)

	// is_empty holds on absence but neq does not
	if Evaluate(compiled, types.Object{}).Matched {
		t.Errorf("Matched = true for missing field, want false")
	}

	ctx := types.Object{"order": types.Object{"coupon": types.String("")}}
	if !Evaluate(compiled, ctx).Matched {
		t.Errorf("Matched = false for empty coupon, want true")
	}
}

func TestEvaluate_CompiledRegex(t *testing.T) {
	compiled := mustCompileJSON(t, `{
		"id": "r5", "name": "corporate email",
		"root": {"type": "condition", "field": "user.email", "operator": "regex", "value": "@corp\\.example$"}
	}`)

	tests := []struct {
		name string
		ctx  types.Value
		want bool
	}{
		{"match", types.Object{"user": types.Object{"email": types.String("kim@corp.example")}}, true},
		{"no match", types.Object{"user": types.Object{"email": types.String("kim@home.example")}}, false},
		{"missing", types.Object{"user": types.Object{}}, false},
		{"non-object context", types.String("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(compiled, tt.ctx).Matched; got != tt.want {
				t.Errorf("Matched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateJSON_RejectsNonObject(t *testing.T) {
	compiled := mustCompileJSON(t, purchaseRuleJSON)
	if _, err := EvaluateJSON(compiled, []byte(`[1, 2]`)); err == nil {
		t.Errorf("EvaluateJSON(array) error = nil, want error")
	}
	if _, err := EvaluateJSON(compiled, []byte(`{`)); err == nil {
		t.Errorf("EvaluateJSON(truncated) error = nil, want error")
	}
}

func BenchmarkEvaluate_PurchaseScenario(b *testing.B) {
	compiled, err := NewCompiler().CompileJSON([]byte(purchaseRuleJSON))
	if err != nil {
		b.Fatalf("CompileJSON() error = %v", err)
	}
	ctx, err := types.ParseContext([]byte(`{"event": {"type": "PURCHASE"}, "order": {"amount": 600}, "user": {"is_vip": false}}`))
	if err != nil {
		b.Fatalf("ParseContext() error = %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = compiled.Matches(ctx)
	}
}
