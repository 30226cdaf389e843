// internal/rules/compile_test.go
package rules

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/badgekeeper/internal/types"
)

func cond(field string, op types.Operator, value types.Value) *types.Condition {
	return &types.Condition{Field: field, Operator: op, Value: value}
}

func and(children ...types.Node) *types.Group {
	return &types.Group{Operator: types.LogicalAnd, Children: children}
}

func or(children ...types.Node) *types.Group {
	return &types.Group{Operator: types.LogicalOr, Children: children}
}

func rule(id string, root types.Node) *types.Rule {
	return &types.Rule{ID: id, Name: id + "-name", Version: "1", Root: root}
}

func TestCompile_SimpleRule(t *testing.T) {
	c := NewCompiler()
	compiled, err := c.Compile(rule("rule-001", cond("event.type", types.OpEq, types.String("PURCHASE"))))
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}

	if compiled.ID() != "rule-001" {
		t.Errorf("ID() = %v, want rule-001", compiled.ID())
	}
	if compiled.CompileVersion != 1 {
		t.Errorf("CompileVersion = %v, want 1", compiled.CompileVersion)
	}
	if diff := cmp.Diff([]string{"event.type"}, compiled.RequiredFields); diff != "" {
		t.Errorf("RequiredFields mismatch (-want +got):\n%s", diff)
	}
	if !compiled.Requires("event.type") || compiled.Requires("order.amount") {
		t.Errorf("Requires() does not match RequiredFields")
	}
}

func TestCompile_RequiredFieldsDeduplicatedAndSorted(t *testing.T) {
	root := and(
		cond("user.tier", types.OpIn, strs("gold", "platinum")),
		or(
			cond("order.amount", types.OpGte, types.Number(500)),
			cond("user.tier", types.OpEq, types.String("vip")),
			and(cond("event.type", types.OpIsNotEmpty, nil)),
		),
	)

	compiled, err := NewCompiler().Compile(rule("rule-002", root))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	want := []string{"event.type", "order.amount", "user.tier"}
	if diff := cmp.Diff(want, compiled.RequiredFields); diff != "" {
		t.Errorf("RequiredFields mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_VersionMonotonic(t *testing.T) {
	c := NewCompiler()
	r := rule("rule-003", cond("a", types.OpEq, types.Number(1)))

	first, err := c.Compile(r)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	second, err := c.Compile(r)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if second.CompileVersion <= first.CompileVersion {
		t.Errorf("CompileVersion %d not greater than %d", second.CompileVersion, first.CompileVersion)
	}
	if c.Version() != second.CompileVersion {
		t.Errorf("Version() = %d, want %d", c.Version(), second.CompileVersion)
	}

	// Independent compilers do not share counters
	other, err := NewCompiler().Compile(r)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if other.CompileVersion != 1 {
		t.Errorf("fresh compiler CompileVersion = %d, want 1", other.CompileVersion)
	}
}

func TestCompile_InputIsCopied(t *testing.T) {
	r := rule("rule-004", cond("a", types.OpEq, types.Number(1)))
	compiled, err := NewCompiler().Compile(r)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	r.Root.(*types.Condition).Field = "mutated"
	r.Name = "mutated"

	if got := compiled.Rule.Root.(*types.Condition).Field; got != "a" {
		t.Errorf("compiled Root field = %q after input mutation, want %q", got, "a")
	}
	if compiled.Rule.Name != "rule-004-name" {
		t.Errorf("compiled Name = %q after input mutation", compiled.Rule.Name)
	}
}

func TestCompile_ChildrenOrderedByCostRootUntouched(t *testing.T) {
	root := and(
		cond("name", types.OpRegex, types.String("^test")),
		cond("user", types.OpIsNotEmpty, nil),
	)

	compiled, err := NewCompiler().Compile(rule("rule-005", root))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	children := compiled.plan.children
	if len(children) != 2 {
		t.Fatalf("len(plan.children) = %d, want 2", len(children))
	}
	// is_not_empty (cost 1) should be ordered before regex (cost 50)
	if children[0].cond.operator != types.OpIsNotEmpty {
		t.Errorf("first plan child = %s, want is_not_empty", children[0].cond.operator)
	}
	if children[0].path != "root.children[1]" {
		t.Errorf("first plan child path = %s, want root.children[1]", children[0].path)
	}
	if children[0].cost >= children[1].cost {
		t.Errorf("plan not ordered by cost: %d >= %d", children[0].cost, children[1].cost)
	}

	// The rule itself keeps authoring order
	first := compiled.Rule.Root.(*types.Group).Children[0].(*types.Condition)
	if first.Operator != types.OpRegex {
		t.Errorf("Rule.Root reordered: first child = %s, want regex", first.Operator)
	}
}

func TestCompile_Errors(t *testing.T) {
	deep := types.Node(cond("a", types.OpEq, types.Number(1)))
	for i := 0; i < types.MaxRuleDepth; i++ {
		deep = and(deep)
	}
	tooMany := make(types.Array, types.MaxSetOperands+1)
	for i := range tooMany {
		tooMany[i] = types.Number(float64(i))
	}

	tests := []struct {
		name    string
		rule    *types.Rule
		wantErr error
		wantMsg string
	}{
		{
			name:    "empty id",
			rule:    &types.Rule{Name: "n", Root: cond("a", types.OpEq, types.Number(1))},
			wantErr: types.ErrEmptyRuleID,
			wantMsg: "rule id cannot be empty",
		},
		{
			name:    "empty name",
			rule:    &types.Rule{ID: "r", Root: cond("a", types.OpEq, types.Number(1))},
			wantErr: types.ErrEmptyRuleName,
			wantMsg: "name cannot be empty",
		},
		{
			name:    "nil root",
			rule:    rule("r", nil),
			wantErr: types.ErrEmptyExpression,
			wantMsg: "rule root cannot be empty",
		},
		{
			name:    "empty field at root",
			rule:    rule("r", cond("", types.OpEq, types.Number(1))),
			wantErr: types.ErrEmptyField,
			wantMsg: "condition 'root' field cannot be empty",
		},
		{
			name: "empty field in child",
			rule: rule("r", and(
				cond("a", types.OpEq, types.Number(1)),
				cond("", types.OpEq, types.Number(1)),
			)),
			wantErr: types.ErrEmptyField,
			wantMsg: "condition 'root.children[1]' field cannot be empty",
		},
		{
			name:    "empty group",
			rule:    rule("r", and()),
			wantErr: types.ErrEmptyGroup,
			wantMsg: "group 'root' must have at least one child",
		},
		{
			name:    "nested empty group",
			rule:    rule("r", or(cond("a", types.OpEq, types.Number(1)), and())),
			wantErr: types.ErrEmptyGroup,
			wantMsg: "group 'root.children[1]' must have at least one child",
		},
		{
			name:    "unknown logical operator",
			rule:    rule("r", &types.Group{Operator: "XOR", Children: []types.Node{cond("a", types.OpEq, types.Number(1))}}),
			wantErr: types.ErrInvalidOperator,
			wantMsg: "unknown logical operator 'XOR'",
		},
		{
			name:    "unknown operator",
			rule:    rule("r", cond("a", "approx", types.Number(1))),
			wantErr: types.ErrInvalidOperator,
			wantMsg: "condition 'root' has unknown operator 'approx'",
		},
		{
			name:    "between scalar",
			rule:    rule("r", cond("a", types.OpBetween, types.Number(1))),
			wantErr: types.ErrInvalidOperand,
			wantMsg: "operator 'between' requires a [min, max] array",
		},
		{
			name:    "between three elements",
			rule:    rule("r", cond("a", types.OpBetween, nums(1, 2, 3))),
			wantErr: types.ErrInvalidOperand,
			wantMsg: "operator 'between' requires a [min, max] array",
		},
		{
			name:    "in scalar",
			rule:    rule("r", cond("a", types.OpIn, types.String("x"))),
			wantErr: types.ErrInvalidOperand,
			wantMsg: "operator 'in' requires an array value, got string",
		},
		{
			name:    "not_in missing value",
			rule:    rule("r", cond("a", types.OpNotIn, nil)),
			wantErr: types.ErrInvalidOperand,
			wantMsg: "operator 'not_in' requires an array value, got null",
		},
		{
			name:    "contains_any object",
			rule:    rule("r", cond("a", types.OpContainsAny, types.Object{})),
			wantErr: types.ErrInvalidOperand,
			wantMsg: "operator 'contains_any' requires an array value",
		},
		{
			name:    "contains_all too many operands",
			rule:    rule("r", cond("a", types.OpContainsAll, tooMany)),
			wantErr: types.ErrTooManyOperands,
			wantMsg: "limit 1024",
		},
		{
			name:    "invalid regex",
			rule:    rule("r", cond("a", types.OpRegex, types.String("[invalid"))),
			wantErr: types.ErrInvalidRegex,
			wantMsg: "condition 'root' has invalid regular expression '[invalid'",
		},
		{
			name:    "regex non-string",
			rule:    rule("r", cond("a", types.OpRegex, types.Number(1))),
			wantErr: types.ErrInvalidOperand,
			wantMsg: "requires a string pattern",
		},
		{
			name:    "regex too long",
			rule:    rule("r", cond("a", types.OpRegex, types.String(strings.Repeat("a", types.MaxRegexLength+1)))),
			wantErr: types.ErrInvalidRegex,
			wantMsg: "exceeds 1024 bytes",
		},
		{
			name:    "field with empty segment",
			rule:    rule("r", cond("order..amount", types.OpGt, types.Number(1))),
			wantErr: types.ErrInvalidPath,
			wantMsg: "field 'order..amount' is invalid",
		},
		{
			name:    "field with trailing dot",
			rule:    rule("r", and(cond("a", types.OpEq, types.Number(1)), cond("order.", types.OpEq, types.Number(1)))),
			wantErr: types.ErrInvalidPath,
			wantMsg: "condition 'root.children[1]' field 'order.' is invalid",
		},
		{
			name:    "field too deep",
			rule:    rule("r", cond(strings.Repeat("a.", types.MaxPathDepth)+"a", types.OpEq, types.Number(1))),
			wantErr: types.ErrPathTooDeep,
			wantMsg: "field path exceeds maximum depth",
		},
		{
			name:    "nesting too deep",
			rule:    rule("r", deep),
			wantErr: types.ErrRuleDepthExceeded,
			wantMsg: "exceeds maximum nesting depth 32",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := NewCompiler().Compile(tt.rule)
			if err == nil {
				t.Fatalf("Compile() error = nil, want %v", tt.wantErr)
			}
			if compiled != nil {
				t.Errorf("Compile() returned partial rule on error")
			}
			if !errors.Is(err, types.ErrParse) {
				t.Errorf("errors.Is(err, ErrParse) = false for %v", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compile() error = %v, want %v", err, tt.wantErr)
			}
			if !strings.HasPrefix(err.Error(), "parse error: ") {
				t.Errorf("Compile() error = %q, want parse error prefix", err.Error())
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Compile() error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestCompile_ValidShapes(t *testing.T) {
	tests := []struct {
		name string
		root types.Node
	}{
		{"single-child group", and(cond("a", types.OpEq, types.Number(1)))},
		{"multi-child group", or(cond("a", types.OpEq, types.Number(1)), cond("b", types.OpEq, types.Number(2)))},
		{"valid regex", cond("email", types.OpRegex, types.String(`^[^@]+@example\.com$`))},
		{"between pair", cond("amount", types.OpBetween, nums(100, 500))},
		{"is_empty without value", cond("coupon", types.OpIsEmpty, nil)},
		{"is_not_empty with ignored value", cond("coupon", types.OpIsNotEmpty, types.Object{"x": types.Number(1)})},
		{"empty in set", cond("tier", types.OpIn, types.Array{})},
		{"max operands", cond("tier", types.OpIn, make(types.Array, types.MaxSetOperands))},
		{"before with date literal", cond("signup", types.OpBefore, types.String("2024-01-01"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCompiler().Compile(rule("r", tt.root)); err != nil {
				t.Errorf("Compile() error = %v, want nil", err)
			}
		})
	}
}

func TestCompileJSON(t *testing.T) {
	c := NewCompiler()

	compiled, err := c.CompileJSON([]byte(`{
		"id": "r1", "name": "big spender", "version": "3",
		"root": {"type": "condition", "field": "order.amount", "operator": "gte", "value": 500},
		"createdAt": "2024-01-01T00:00:00Z", "updatedAt": "2024-02-01T00:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("CompileJSON() error = %v", err)
	}
	if compiled.Rule.Version != "3" || compiled.Rule.CreatedAt.IsZero() || compiled.Rule.UpdatedAt.IsZero() {
		t.Errorf("CompileJSON() lost metadata: %+v", compiled.Rule)
	}

	_, err = c.CompileJSON([]byte(`{"id": "r1", "name": "x", "root": {"type": "condition", "field": "a", "operator": "regex", "value": "[invalid"}}`))
	if !errors.Is(err, types.ErrInvalidRegex) {
		t.Errorf("CompileJSON(invalid regex) error = %v, want ErrInvalidRegex", err)
	}

	_, err = c.CompileJSON([]byte(`{"id": "r1", "name": "x", "root": {"type": "group", "operator": "AND", "children": []}}`))
	if !errors.Is(err, types.ErrEmptyGroup) {
		t.Errorf("CompileJSON(empty group) error = %v, want ErrEmptyGroup", err)
	}

	_, err = c.CompileJSON([]byte(`{"id": "r1", "name": "x", "root": {"field": "a"}}`))
	if !errors.Is(err, types.ErrParse) {
		t.Errorf("CompileJSON(untyped node) error = %v, want ErrParse", err)
	}

	_, err = c.CompileJSON([]byte(`not json`))
	if !errors.Is(err, types.ErrParse) {
		t.Errorf("CompileJSON(garbage) error = %v, want ErrParse", err)
	}
}

// randomTree builds a well-formed rule tree from rng.
func randomTree(rng *rand.Rand, depth int) types.Node {
	if depth <= 0 || rng.Intn(3) == 0 {
		op := types.Operators[rng.Intn(len(types.Operators))]
		var value types.Value = types.Number(float64(rng.Intn(100)))
		switch {
		case op == types.OpBetween:
			value = nums(0, float64(rng.Intn(100)))
		case op.RequiresArray():
			value = strs("a", "b")
		case op == types.OpRegex:
			value = types.String("^a")
		}
		return cond(fmt.Sprintf("f%d.g%d", rng.Intn(6), rng.Intn(3)), op, value)
	}

	n := 1 + rng.Intn(3)
	children := make([]types.Node, n)
	for i := range children {
		children[i] = randomTree(rng, depth-1)
	}
	if rng.Intn(2) == 0 {
		return and(children...)
	}
	return or(children...)
}

// Property-based test: required fields equal the fields found by descent
func TestCompile_PropertyRequiredFieldsRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("required fields match recursive descent", prop.ForAll(
		func(seed int64) bool {
			root := randomTree(rand.New(rand.NewSource(seed)), 4)
			compiled, err := NewCompiler().Compile(rule("prop", root))
			if err != nil {
				t.Logf("Compile() error = %v", err)
				return false
			}

			var descended []string
			seen := make(map[string]bool)
			_ = types.Walk(root, types.RootPath, func(_ string, n types.Node) error {
				if c, ok := n.(*types.Condition); ok && !seen[c.Field] {
					seen[c.Field] = true
					descended = append(descended, c.Field)
				}
				return nil
			})
			sort.Strings(descended)

			return cmp.Equal(descended, compiled.RequiredFields)
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// Property-based test: compilation is deterministic except for the version
func TestCompile_PropertyDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("two compilations differ only in version", prop.ForAll(
		func(seed int64) bool {
			root := randomTree(rand.New(rand.NewSource(seed)), 4)
			data, err := rule("prop", root).MarshalJSON()
			if err != nil {
				t.Logf("MarshalJSON() error = %v", err)
				return false
			}

			c := NewCompiler()
			a, errA := c.CompileJSON(data)
			b, errB := c.CompileJSON(data)
			if errA != nil || errB != nil {
				t.Logf("CompileJSON() errors = %v, %v", errA, errB)
				return false
			}

			return a.CompileVersion < b.CompileVersion &&
				cmp.Equal(a.Rule, b.Rule) &&
				cmp.Equal(a.RequiredFields, b.RequiredFields) &&
				a.Cost == b.Cost
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
