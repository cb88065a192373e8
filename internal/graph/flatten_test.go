package graph

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFlatten(t *testing.T) {
	raw := `{
		"Title": "Bid 42",
		"AssignedTo": {"displayName": "Ann", "email": "ann@example.com"},
		"Client": {"lookupId": 7, "lookupValue": "Acme"},
		"Reviewers": [{"displayName": "Bob"}, {"displayName": "Cid"}],
		"Tags": ["a", "b"],
		"Nested": [[1, 2]],
		"Amount": 1200,
		"Urgent": true,
		"Note": null
	}`

	var fields map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		t.Fatal(err)
	}

	got := Flatten(fields)
	want := map[string]string{
		"Title":      "Bid 42",
		"AssignedTo": "Ann",
		"Client":     "Acme",
		"Reviewers":  "Bob, Cid",
		"Tags":       "a, b",
		"Nested":     "[1,2]",
		"Amount":     "1200",
		"Urgent":     "true",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Flatten()[%q] = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got["Note"]; ok {
		t.Errorf("null field Note should be dropped")
	}
}

func TestShapeOf(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want shape
	}{
		{"string", "x", shapeScalar},
		{"person", map[string]any{"displayName": "A"}, shapePerson},
		{"lookup", map[string]any{"lookupValue": "B"}, shapeLookup},
		{"plain object", map[string]any{"x": 1}, shapeScalar},
		{"list", []any{"a"}, shapeList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shapeOf(tt.in); got != tt.want {
				t.Errorf("shapeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}
