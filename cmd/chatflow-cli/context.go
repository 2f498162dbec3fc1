package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseContext turns key=value pairs into context variables. Values that parse as JSON
// (numbers, booleans, objects) keep their type; anything else is a string.
func parseContext(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context %q: expected key=value", pair)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		vars[key] = value
	}
	return vars, nil
}
