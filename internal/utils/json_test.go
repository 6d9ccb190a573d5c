package utils

import (
	"math"
	"strings"
	"testing"
)

func TestToJSON(t *testing.T) {
	got := ToJSON(map[string]any{"b": 1, "a": []string{"x"}})
	if got != `{"a":["x"],"b":1}` {
		t.Fatalf("unexpected json: %s", got)
	}
}

func TestToJSONUnsupportedValue(t *testing.T) {
	if got := ToJSON(math.NaN()); got != "" {
		t.Fatalf("expected empty string for NaN, got %s", got)
	}
}

func TestToPrettyJSON(t *testing.T) {
	got := ToPrettyJSON(map[string]any{"age": 30})
	if !strings.Contains(got, "\n  \"age\": 30") {
		t.Fatalf("expected indented output, got %s", got)
	}
}
