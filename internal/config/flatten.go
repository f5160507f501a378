package config

import (
	"strings"
)

var secretKeys = map[string]bool{
	"telegram.token": true,
	"http.token":     true,
}

// IsSecretKey reports whether the dot-separated key holds a credential.
// Agent environment lists count, since they typically carry API keys.
func IsSecretKey(key string) bool {
	if secretKeys[key] {
		return true
	}
	parts := strings.Split(key, ".")
	return len(parts) == 3 && parts[0] == "agents" && parts[2] == "env"
}

// Flatten turns nested maps into dot-separated keys, so
// {"host": {"enabled": true}} becomes {"host.enabled": true}. Empty
// nested maps produce no keys; slices are leaves.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A leaf found where a nested key needs
// a map is replaced by the map.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets returns a copy of flat with credentials hidden. Strings longer
// than four characters keep their last four ("***Ijkl"); shorter strings and
// non-string secrets become "***". Empty values stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if !IsSecretKey(k) || isEmpty(v) {
			continue
		}
		if s, ok := v.(string); ok && len(s) > 4 {
			out[k] = "***" + s[len(s)-4:]
		} else {
			out[k] = "***"
		}
	}
	return out
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	}
	return false
}
