package utils

import (
	"regexp"
	"strings"
)

// placeholderPattern matches ${path} and {{path}}
var placeholderPattern = regexp.MustCompile(`\$\{([^{}]+)\}|\{\{([^{}]+)\}\}`)

// Interpolate replaces ${var} and {{var}} placeholders with values from variables.
// Paths may use dot notation and [n] indexing. Unresolved placeholders are left verbatim.
func Interpolate(template string, variables map[string]any) string {
	if !strings.Contains(template, "${") && !strings.Contains(template, "{{") {
		return template
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		path := groups[1]
		if path == "" {
			path = groups[2]
		}

		value, ok := LookupPath(variables, path)
		if !ok || value == nil {
			return match
		}
		return ToString(value)
	})
}

// InterpolateValue interpolates strings and recurses into maps and slices
func InterpolateValue(v any, variables map[string]any) any {
	switch val := v.(type) {
	case string:
		return Interpolate(val, variables)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = InterpolateValue(item, variables)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = InterpolateValue(item, variables)
		}
		return out
	}
	return v
}
