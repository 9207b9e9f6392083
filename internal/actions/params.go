package actions

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Param helpers shared by the built-in actions. Params arrive from JSON, YAML
// or the property editor, so numbers may be any numeric type or a string.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return defaultVal
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// listParam accepts a list or a single scalar. Nil entries are dropped.
func listParam(m map[string]any, key string) []any {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	var items []any
	switch val := v.(type) {
	case []any:
		items = val
	case []string:
		items = make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
	default:
		items = []any{val}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, item)
		}
	}
	return out
}

func mapParam(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func requireString(action string, m map[string]any, key string) (string, error) {
	s := strings.TrimSpace(stringParam(m, key, ""))
	if s == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: %s is required", action, key)
	}
	return s, nil
}

func stepFailed(action string, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeStepFailed, "%s: %s", action, fmt.Sprintf(format, args...))
}
