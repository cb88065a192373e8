package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/digitaldrywood/taskpulse/internal/models"
)

// shape is the closed set of field value forms a list item can carry.
type shape int

const (
	shapeScalar shape = iota
	shapePerson       // {"displayName": ...}
	shapeLookup       // {"lookupValue": ...}
	shapeList         // multi-value person, lookup or choice
)

func shapeOf(v any) shape {
	switch t := v.(type) {
	case map[string]any:
		if _, ok := t["displayName"]; ok {
			return shapePerson
		}
		if _, ok := t["lookupValue"]; ok {
			return shapeLookup
		}
	case []any:
		return shapeList
	}
	return shapeScalar
}

// Flatten reduces list item fields to plain strings. Null fields are dropped.
func Flatten(fields map[string]any) models.Record {
	rec := make(models.Record, len(fields))
	for k, v := range fields {
		if s, ok := flattenValue(v, true); ok {
			rec[k] = s
		}
	}
	return rec
}

// flattenValue applies the shape rule; lists recurse one level into their
// elements and are joined with ", ".
func flattenValue(v any, allowList bool) (string, bool) {
	if v == nil {
		return "", false
	}

	switch shapeOf(v) {
	case shapePerson:
		return scalarString(v.(map[string]any)["displayName"]), true
	case shapeLookup:
		return scalarString(v.(map[string]any)["lookupValue"]), true
	case shapeList:
		if !allowList {
			return scalarString(v), true
		}
		var parts []string
		for _, el := range v.([]any) {
			if s, ok := flattenValue(el, false); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), true
	default:
		return scalarString(v), true
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
