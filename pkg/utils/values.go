// Package utils provides helpers for the loosely typed config and context maps used by flows.
package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// GetString returns m[key] as a string. Scalars are formatted; other types yield def.
func GetString(m map[string]any, key string, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case string:
		return val
	case bool, int, int32, int64, float32, float64:
		return ToString(val)
	}
	return def
}

// GetBool returns m[key] as a bool, accepting "true"/"false" strings
func GetBool(m map[string]any, key string, def bool) bool {
	switch val := m[key].(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return def
}

// GetInt returns m[key] as an int, accepting any numeric type or a numeric string
func GetInt(m map[string]any, key string, def int) int {
	if f, ok := ToFloat(m[key]); ok {
		return int(f)
	}
	return def
}

// GetFloat returns m[key] as a float64
func GetFloat(m map[string]any, key string, def float64) float64 {
	if f, ok := ToFloat(m[key]); ok {
		return f
	}
	return def
}

// GetStringSlice returns m[key] as a string slice. A single string is split on commas.
func GetStringSlice(m map[string]any, key string) []string {
	switch val := m[key].(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			if _, isMap := item.(map[string]any); isMap {
				continue
			}
			out = append(out, ToString(item))
		}
		return out
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// GetMap returns m[key] as a map or nil
func GetMap(m map[string]any, key string) map[string]any {
	if val, ok := m[key].(map[string]any); ok {
		return val
	}
	return nil
}

// GetMapSlice returns m[key] as a slice of maps, skipping other elements
func GetMapSlice(m map[string]any, key string) []map[string]any {
	switch val := m[key].(type) {
	case []map[string]any:
		return val
	case []any:
		out := make([]map[string]any, 0, len(val))
		for _, item := range val {
			if im, ok := item.(map[string]any); ok {
				out = append(out, im)
			}
		}
		return out
	}
	return nil
}

// ToString renders a context value the way conditions and templates compare it
func ToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return ToString(float64(val))
	case map[string]any, []any, []string:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

// ToFloat converts numeric values and numeric strings
func ToFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// IsTruthy follows script truthiness: nil, false, 0 and "" are false, everything else true
func IsTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	if f, ok := ToFloat(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// CopyMap returns a deep copy of m. Nested maps and slices are copied, other values shared.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	}
	return v
}

var indexPattern = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// LookupPath resolves a dot separated path such as "userData.email" or "items[0].name"
func LookupPath(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	if v, ok := data[path]; ok {
		return v, true
	}

	var current any = data
	for _, part := range strings.Split(path, ".") {
		name, index := part, -1
		if match := indexPattern.FindStringSubmatch(part); match != nil {
			name = match[1]
			index, _ = strconv.Atoi(match[2])
		}

		currentMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = currentMap[name]
		if !ok {
			return nil, false
		}

		if index >= 0 {
			switch arr := current.(type) {
			case []any:
				if index >= len(arr) {
					return nil, false
				}
				current = arr[index]
			case []string:
				if index >= len(arr) {
					return nil, false
				}
				current = arr[index]
			default:
				return nil, false
			}
		}
	}
	return current, true
}
