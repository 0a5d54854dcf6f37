package sqlutil

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"users", `"users"`},
		{"user_data", `"user_data"`},
		{"select", `"select"`},
		{"first name", `"first name"`},
		{`col"with"quotes`, `"col""with""quotes"`},
		{`"already"`, `"""already"""`},
		{"", `""`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestQuoteIdentifier_DoubleApplicationDoubleEscapes(t *testing.T) {
	once := QuoteIdentifier(`a"b`)
	twice := QuoteIdentifier(once)
	if twice == once {
		t.Fatalf("expected double quoting to change the identifier, got %q", twice)
	}
	if twice != `"""a""""b"""` {
		t.Errorf("unexpected double quoted identifier %q", twice)
	}
}

func TestQualifiedName(t *testing.T) {
	if got := QualifiedName("", "posts"); got != `"public"."posts"` {
		t.Errorf("QualifiedName default schema = %q", got)
	}
	if got := QualifiedName("audit", `we"ird`); got != `"audit"."we""ird"` {
		t.Errorf("QualifiedName = %q", got)
	}
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "'hello'"},
		{"it's", "'it''s'"},
		{"a'b'c", "'a''b''c'"},
		{"", "''"},
		{`back\slash`, `E'back\\slash'`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := QuoteLiteral(tt.input); got != tt.expected {
				t.Errorf("QuoteLiteral(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLiteral(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"nil", nil, "NULL"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"uint64", uint64(9), "9"},
		{"float", 1.5, "1.5"},
		{"nan", math.NaN(), "'NaN'"},
		{"json number", json.Number("12.25"), "12.25"},
		{"string", "o'neil", "'o''neil'"},
		{"bytes", []byte("raw"), "'raw'"},
		{"time", stamp, "'2024-03-01T12:00:00Z'"},
		{"map", map[string]any{"a": 1}, `'{"a":1}'`},
		{"slice", []string{"x", "y"}, `'["x","y"]'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Literal(tt.input); got != tt.expected {
				t.Errorf("Literal(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
