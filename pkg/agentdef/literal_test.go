package agentdef

import (
	"reflect"
	"testing"
)

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected any
	}{
		{"true", "True", true},
		{"false", "False", false},
		{"none", "None", nil},
		{"int", "42", 42},
		{"negative int", "-3", -3},
		{"float", "2.5", 2.5},
		{"single quoted", "'hello there'", "hello there"},
		{"double quoted", `"hi"`, "hi"},
		{"escapes", `'line\nbreak'`, "line\nbreak"},
		{"empty dict", "{}", map[string]any{}},
		{"dict", "{'ready': True, 'speed': 10}", map[string]any{"ready": true, "speed": 10}},
		{"identifier keys", "{ready: False}", map[string]any{"ready": false}},
		{"empty list", "[]", []any{}},
		{"list", "[1, 'two', True]", []any{1, "two", true}},
		{"nested", "{'inner': [1, {'deep': None}]}",
			map[string]any{"inner": []any{1, map[string]any{"deep": nil}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLiteral(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %#v, got %#v", tt.expected, got)
			}
		})
	}
}

func TestParseLiteralRejects(t *testing.T) {
	tests := []string{
		"bare_token",
		"'unterminated",
		"{'key': }",
		"{1x: 2}",
		"[1, ",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			if _, err := ParseLiteral(raw); err == nil {
				t.Fatalf("expected error for %q", raw)
			}
		})
	}
}

func TestTryParseLiteralDefersBareTokens(t *testing.T) {
	for _, raw := range []string{"french", "10mph"} {
		if _, ok, err := tryParseLiteral(raw); err != nil || ok {
			t.Errorf("expected %q to stay deferred, ok=%t err=%v", raw, ok, err)
		}
	}
}
