package expressions

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Interpolate renders every embedded {{path}} in tmpl against data. Missing
// paths render as the empty string; maps and slices render as JSON.
func Interpolate(tmpl string, data map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	var b strings.Builder
	b.Grow(len(tmpl))
	rest := tmpl
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[open+2:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += open + 2

		b.WriteString(rest[:open])
		token := rest[open : end+2]
		ref := ParseRef(token)
		if ref.IsPath() {
			if res := ref.Resolve(data); res.Found {
				b.WriteString(stringify(res.Value))
			}
		} else {
			b.WriteString(token)
		}
		rest = rest[end+2:]
	}
	return b.String()
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

// ResolveParams resolves every string inside params: an exact {{path}} or
// entity.<path> yields the typed value, embedded templates are interpolated,
// other strings are kept. The input is not modified.
func ResolveParams(params map[string]any, data map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveParam(v, data)
	}
	return out
}

func resolveParam(v any, data map[string]any) any {
	switch val := v.(type) {
	case string:
		ref := ParseRef(val)
		if ref.IsPath() {
			return ref.Resolve(data).Value
		}
		return Interpolate(val, data)
	case map[string]any:
		return ResolveParams(val, data)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveParam(item, data)
		}
		return out
	default:
		return v
	}
}
