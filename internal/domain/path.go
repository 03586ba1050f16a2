package domain

import "strings"

// LookupPath retrieves a value from nested maps using dot notation.
func LookupPath(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	if v, ok := data[path]; ok {
		return v, true
	}

	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, exists := m[part]
		if !exists {
			return nil, false
		}
		current = val
	}
	return current, true
}
