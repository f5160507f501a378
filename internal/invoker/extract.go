package invoker

import (
	"encoding/json"
	"strings"
)

// parseStructured finds the JSON object carrying the agent's result in raw
// output. It accepts a whole-document object, an object embedded in other
// text, or JSON lines where the last object holding a handle wins.
func parseStructured(raw string, handleFields []string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if obj := decodeObject(raw); obj != nil {
		return obj
	}

	lines := strings.Split(raw, "\n")
	var fallback map[string]any
	for i := len(lines) - 1; i >= 0; i-- {
		obj := decodeObject(strings.TrimSpace(lines[i]))
		if obj == nil {
			continue
		}
		if _, ok := stringField(obj, handleFields); ok {
			return obj
		}
		if fallback == nil {
			fallback = obj
		}
	}
	if fallback != nil {
		return fallback
	}

	start, end := strings.IndexByte(raw, '{'), strings.LastIndexByte(raw, '}')
	if start >= 0 && end > start {
		return decodeObject(raw[start : end+1])
	}
	return nil
}

func decodeObject(s string) map[string]any {
	if !strings.HasPrefix(s, "{") {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}
	return obj
}

// stringField returns the first non-empty string value among fields.
func stringField(obj map[string]any, fields []string) (string, bool) {
	for _, f := range fields {
		switch v := obj[f].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
		case float64:
			return formatNumber(v), true
		}
	}
	return "", false
}

func formatNumber(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
