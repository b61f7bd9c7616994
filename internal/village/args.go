package village

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// coerce repairs the argument encodings LLM clients commonly get wrong:
// JSON arrays sent as quoted strings, and TTLs sent as duration strings.
// Values that do not parse are left untouched for the handler to judge.
func coerce(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, key := range []string{"paths", "deps", "tags"} {
		raw, ok := out[key].(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(raw)
		if !strings.HasPrefix(trimmed, "[") {
			continue
		}
		var arr []any
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
			out[key] = arr
		}
	}
	if raw, ok := out["ttl"].(string); ok {
		if n, ok := parseTTL(raw); ok {
			out["ttl"] = n
		}
	}
	return out
}

// parseTTL reads "600", "30s", "10m" or "1h" as seconds.
func parseTTL(s string) (int, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(t); err == nil {
		return n, true
	}
	mult := 0
	switch t[len(t)-1] {
	case 'h':
		mult = 3600
	case 'm':
		mult = 60
	case 's':
		mult = 1
	default:
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(t[:len(t)-1]))
	if err != nil {
		return 0, false
	}
	return n * mult, true
}

// strArg reads a string argument, falling back to def when the key is
// absent or not a string. An explicit empty string stays empty.
func strArg(args map[string]any, key, def string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// intValue is intArg restricted to integer-valued numbers; strings and
// fractional numbers do not count. The boolean reports validity.
func intValue(args map[string]any, key string, def int) (int, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, true
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// strsArg reads a list argument, accepting a bare string as a singleton.
func strsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// summary is clip plus an ellipsis marker when truncation happened.
func summary(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// strField reads a string out of a decoded JSON object, tolerating nil maps.
func strField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// anyField reads a raw value out of a decoded JSON object with a default.
func anyField(m map[string]any, key string, def any) any {
	if m == nil {
		return def
	}
	if v, ok := m[key]; ok {
		return v
	}
	return def
}
