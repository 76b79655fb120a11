package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tripdesigner/agent/pkg/itinerary"
)

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func requireString(args map[string]interface{}, key string) (string, error) {
	v, ok := stringArg(args, key)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intArg(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

func boolArg(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func timeArg(args map[string]interface{}, key string) (*time.Time, error) {
	raw, ok := stringArg(args, key)
	if !ok || raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid datetime %q: %w", key, raw, err)
		}
	}
	return &t, nil
}

func locationArg(args map[string]interface{}, key string) itinerary.Location {
	raw, ok := args[key].(map[string]interface{})
	if !ok {
		return itinerary.Location{}
	}
	loc := itinerary.Location{}
	if s, ok := raw["name"].(string); ok {
		loc.Name = s
	}
	if s, ok := raw["code"].(string); ok {
		loc.Code = s
	}
	if s, ok := raw["city"].(string); ok {
		loc.City = s
	}
	if s, ok := raw["country"].(string); ok {
		loc.Country = s
	}
	if s, ok := raw["address"].(string); ok {
		loc.Address = s
	}
	if s, ok := raw["type"].(string); ok {
		loc.Type = s
	}
	if f, ok := raw["latitude"].(float64); ok {
		loc.Latitude = f
	}
	if f, ok := raw["longitude"].(float64); ok {
		loc.Longitude = f
	}
	return loc
}

// toJSON marshals v for use as a handler's result string; handlers never
// return malformed JSON, so the error path here is unreachable in practice
// but kept defensive for types added later.
func toJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(b), nil
}

// hasKey reports whether args contains key at all, distinguishing "field
// omitted" from "field explicitly null" — the wire-level signal
// MergePreferences's clearedFields map needs.
func hasKey(args map[string]interface{}, key string) bool {
	_, ok := args[key]
	return ok
}

func isExplicitNull(args map[string]interface{}, key string) bool {
	v, ok := args[key]
	return ok && v == nil
}
