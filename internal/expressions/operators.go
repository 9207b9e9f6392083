package expressions

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cast"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Operator names a condition comparison.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpLt         Operator = "lt"
	OpGte        Operator = "gte"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpNotEmpty   Operator = "not_empty"
)

type compareFunc func(field, compare any) bool

var operators = map[Operator]compareFunc{
	OpEq:         looseEqual,
	OpNe:         func(a, b any) bool { return !looseEqual(a, b) },
	OpGt:         numeric(func(a, b float64) bool { return a > b }),
	OpLt:         numeric(func(a, b float64) bool { return a < b }),
	OpGte:        numeric(func(a, b float64) bool { return a >= b }),
	OpLte:        numeric(func(a, b float64) bool { return a <= b }),
	OpIn:         inList,
	OpNotIn:      notInList,
	OpContains:   contains,
	OpStartsWith: startsWith,
	OpNotEmpty:   func(a, _ any) bool { return !isEmpty(a) },
}

var operatorOrder = []Operator{
	OpEq, OpNe, OpGt, OpLt, OpGte, OpLte, OpIn, OpNotIn, OpContains, OpStartsWith, OpNotEmpty,
}

// OperatorNames returns every supported operator name.
func OperatorNames() []string {
	out := make([]string, len(operatorOrder))
	for i, op := range operatorOrder {
		out[i] = string(op)
	}
	return out
}

// ParseOperator validates an operator name.
func ParseOperator(name string) (Operator, error) {
	op := Operator(name)
	if _, ok := operators[op]; !ok {
		return "", schema.NewErrorf(schema.ErrCodeUnknownOperator, "unknown operator %q", name)
	}
	return op, nil
}

// Compare applies op to already-resolved values.
func Compare(op Operator, field, compare any) (bool, error) {
	fn, ok := operators[op]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeUnknownOperator, "unknown operator %q", op)
	}
	return fn(field, compare), nil
}

// toNumber coerces v to float64. nil, booleans and blank strings are not
// numbers.
func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		if strings.TrimSpace(val) == "" {
			return 0, false
		}
		f, err := cast.ToFloat64E(strings.TrimSpace(val))
		return f, err == nil
	}
	f, err := cast.ToFloat64E(v)
	return f, err == nil
}

func numeric(cmp func(a, b float64) bool) compareFunc {
	return func(field, compare any) bool {
		a, ok := toNumber(field)
		if !ok {
			return false
		}
		b, ok := toNumber(compare)
		if !ok {
			return false
		}
		return cmp(a, b)
	}
}

func isNumberType(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// looseEqual compares numerically when either side is a number and both
// coerce, and falls back to string or deep equality otherwise.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumberType(a) || isNumberType(b) {
		fa, okA := toNumber(a)
		fb, okB := toNumber(b)
		if okA && okB {
			return fa == fb
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return sa == sb
		}
	}
	if isScalar(a) && isScalar(b) {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return reflect.DeepEqual(a, b)
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool:
		return true
	}
	return isNumberType(v)
}

// asList returns v as a slice of values when it is array-typed.
func asList(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(val))
		for i, f := range val {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]any, len(val))
		for i, n := range val {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func inList(field, compare any) bool {
	list, ok := asList(compare)
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEqual(field, item) {
			return true
		}
	}
	return false
}

// notInList fails closed like inList: a non-array compare value yields false.
func notInList(field, compare any) bool {
	if _, ok := asList(compare); !ok {
		return false
	}
	return !inList(field, compare)
}

func contains(field, compare any) bool {
	if list, ok := asList(field); ok {
		for _, item := range list {
			if looseEqual(item, compare) {
				return true
			}
		}
		return false
	}
	switch f := field.(type) {
	case string:
		if compare == nil {
			return false
		}
		return strings.Contains(f, fmt.Sprint(compare))
	case map[string]any:
		key, ok := compare.(string)
		if !ok {
			return false
		}
		_, exists := f[key]
		return exists
	}
	return false
}

func startsWith(field, compare any) bool {
	if field == nil || compare == nil || !isScalar(field) || !isScalar(compare) {
		return false
	}
	return strings.HasPrefix(fmt.Sprint(field), fmt.Sprint(compare))
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
