package models

import "encoding/json"

// NormalizeNumbers returns a copy of payload with json.Number leaves
// converted to int64 where exact, float64 otherwise. Nested maps and slices
// are converted recursively. A nil payload yields an empty map.
func NormalizeNumbers(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		return NormalizeNumbers(t)
	case []interface{}:
		items := make([]interface{}, len(t))
		for i, item := range t {
			items[i] = normalizeValue(item)
		}
		return items
	default:
		return v
	}
}
