package usecase

import (
	"reflect"
	"testing"
)

func TestNormalizeField(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"json object", `{"a":1}`, map[string]any{"a": 1.0}},
		{"json array", `[1, "two"]`, []any{1.0, "two"}},
		{"padded object", "  {\"cpu\": \"1\"}\n", map[string]any{"cpu": "1"}},
		{"plain string", "not-json", "not-json"},
		{"numeric string", "42", "42"},
		{"broken object kept", `{"a":`, `{"a":`},
		{"brace only", "{", "{"},
		{"mismatched brackets", "{]", "{]"},
		{"empty object", "{}", map[string]any{}},
		{"number", 42.0, 42.0},
		{"bool", true, true},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeField(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeField(%#v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}
