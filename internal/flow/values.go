package flow

import (
	"math"
	"strconv"
)

// Clone returns a deep copy of d. Nested maps and lists are copied so the
// clone never shares mutable state with the original.
func (d FormData) Clone() FormData {
	if d == nil {
		return FormData{}
	}
	out := make(FormData, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case FormData:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Int reads key as an integer. JSON numbers arrive as float64.
func (d FormData) Int(key string) (int, bool) {
	f, ok := toFloat(d[key])
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

// String reads key as a string.
func (d FormData) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Strings reads key as a list of strings.
func (d FormData) Strings(key string) []string {
	return toStrings(d[key])
}

// Bool reads key as a boolean.
func (d FormData) Bool(key string) bool {
	b, _ := toBool(d[key])
	return b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	default:
		return false, false
	}
}

func toStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
