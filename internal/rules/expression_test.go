package rules

import (
	"errors"
	"testing"
)

func row(fields map[string]any) Value {
	return FromAny(fields)
}

func TestExpression_Scenarios(t *testing.T) {
	privileged := MustParse(`{"==": [{"var": "privileged"}, "1"]}`)
	limits := MustParse(`{"missing": ["resource_limits.cpu", "resource_limits.memory", "resource_requests.cpu", "resource_requests.memory"]}`)

	tests := []struct {
		name string
		expr Expression
		data map[string]any
		want bool
	}{
		{"privileged match", privileged, map[string]any{"privileged": "1", "added": true}, true},
		{"privileged no match", privileged, map[string]any{"privileged": "0", "added": true}, false},
		{"privileged numeric coerces", privileged, map[string]any{"privileged": 1.0}, true},
		{"privileged absent", privileged, map[string]any{}, false},
		{
			"nothing missing",
			limits,
			map[string]any{
				"resource_limits":   map[string]any{"cpu": "1", "memory": "2"},
				"resource_requests": map[string]any{"cpu": "1", "memory": "2"},
				"added":             true,
			},
			false,
		},
		{"all missing", limits, map[string]any{"added": true}, true},
		{
			"empty string is missing",
			limits,
			map[string]any{
				"resource_limits":   map[string]any{"cpu": "", "memory": "2"},
				"resource_requests": map[string]any{"cpu": "1", "memory": "2"},
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.expr.Truthy(row(tt.data)); got != tt.want {
				t.Errorf("Truthy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpression_Operators(t *testing.T) {
	data := map[string]any{
		"name":    "nginx",
		"count":   3.0,
		"zero":    0.0,
		"empty":   "",
		"tags":    []any{"web", "prod"},
		"nested":  map[string]any{"list": []any{map[string]any{"id": "a"}}},
		"enabled": true,
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`{"!=": [{"var": "name"}, "redis"]}`, true},
		{`{"===": [{"var": "count"}, 3]}`, true},
		{`{"===": [{"var": "count"}, "3"]}`, false},
		{`{"!==": [{"var": "count"}, "3"]}`, true},
		{`{"<": [{"var": "count"}, 5]}`, true},
		{`{"<": [1, {"var": "count"}, 3]}`, false},
		{`{"<=": [1, {"var": "count"}, 3]}`, true},
		{`{">": [{"var": "count"}, "2"]}`, true},
		{`{">=": [{"var": "count"}, 4]}`, false},
		{`{"<": ["a", "b"]}`, true},
		{`{"in": ["prod", {"var": "tags"}]}`, true},
		{`{"in": ["dev", {"var": "tags"}]}`, false},
		{`{"in": ["gin", {"var": "name"}]}`, true},
		{`{"and": [{"var": "enabled"}, {"==": [{"var": "name"}, "nginx"]}]}`, true},
		{`{"and": [{"var": "enabled"}, {"var": "zero"}]}`, false},
		{`{"or": [{"var": "zero"}, {"var": "empty"}, {"var": "count"}]}`, true},
		{`{"!": {"var": "empty"}}`, true},
		{`{"!!": [{"var": "tags"}]}`, true},
		{`{"!!": [[]]}`, false},
		{`{"if": [{"var": "enabled"}, true, false]}`, true},
		{`{"if": [{"var": "zero"}, true, {"var": "empty"}, true, false]}`, false},
		{`{"?:": [{"var": "zero"}, false, true]}`, true},
		{`{"==": [{"var": "nested.list.0.id"}, "a"]}`, true},
		{`{"==": [{"var": ["nope", "fallback"]}, "fallback"]}`, true},
		{`{"missing_some": [1, ["name", "nope"]]}`, false},
		{`{"missing_some": [2, ["name", "nope"]]}`, true},
		{`{"==": [{"var": "nope"}, null]}`, true},
		{`{"==": [{"var": "zero"}, false]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := MustParse(tt.expr).Truthy(row(data)); got != tt.want {
				t.Errorf("Truthy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpression_AbsentFieldRobustness(t *testing.T) {
	exprs := []string{
		`{"==": [{"var": "a.b.c"}, "1"]}`,
		`{"<": [{"var": "cpu"}, 2]}`,
		`{">": [{"var": "cpu"}, {"var": "memory"}]}`,
		`{"in": [{"var": "x"}, {"var": "y"}]}`,
		`{"and": [{"var": "a"}, {"!": {"var": "b.c"}}]}`,
		`{"missing": {"var": "keys"}}`,
		`{"if": [{"var": "a"}, {"var": "b"}]}`,
		`{"<=": [{"var": "a"}, {"var": "b"}, {"var": "c"}]}`,
	}
	rows := []map[string]any{
		{},
		{"a": ""},
		{"a": map[string]any{"b": ""}, "cpu": "", "x": []any{}},
		{"a": []any{1.0, "2"}, "cpu": "lots", "y": map[string]any{"k": 1.0}},
	}

	for _, src := range exprs {
		expr := MustParse(src)
		for _, r := range rows {
			func() {
				defer func() {
					if p := recover(); p != nil {
						t.Fatalf("%s panicked on %v: %v", src, r, p)
					}
				}()
				_ = expr.Truthy(row(r))
			}()
		}
	}
}

func TestExpression_AbsentComparesLikeEmpty(t *testing.T) {
	lt := MustParse(`{"<": [{"var": "cpu"}, 1]}`)
	if !lt.Truthy(row(map[string]any{})) {
		t.Error("absent cpu should coerce to 0 and compare below 1")
	}
	if !lt.Truthy(row(map[string]any{"cpu": ""})) {
		t.Error("empty cpu should coerce to 0 and compare below 1")
	}
}

func TestParseExpression_Errors(t *testing.T) {
	tests := []struct {
		name    string
		source  any
		wantErr error
	}{
		{"unknown operator", map[string]any{"regex": []any{"a", "b"}}, ErrUnknownOperator},
		{"nested unknown operator", map[string]any{"and": []any{map[string]any{"nope": 1.0}}}, ErrUnknownOperator},
		{"too few args", map[string]any{"==": []any{1.0}}, ErrArity},
		{"too many args", map[string]any{"!": []any{1.0, 2.0}}, ErrArity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExpression(tt.source)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExpression_JSONRoundTrip(t *testing.T) {
	var expr Expression
	src := `{"==":[{"var":"privileged"},"1"]}`
	if err := expr.UnmarshalJSON([]byte(src)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := expr.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != src {
		t.Errorf("expected %s, got %s", src, out)
	}
}

func TestJSONLogic_Match(t *testing.T) {
	var engine Engine = JSONLogic{}
	expr := MustParse(`{"==": [{"var": "privileged"}, "1"]}`)
	if !engine.Match(expr, row(map[string]any{"privileged": "1"})) {
		t.Error("expected match")
	}
	if engine.Match(Expression{}, row(map[string]any{"privileged": "1"})) {
		t.Error("zero expression should never match")
	}
}
