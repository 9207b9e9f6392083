package expressions

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"
)

// jqVariables are bound from the execution context on every run, so
// `.entity.status` and `$entity_id` both work.
var jqVariables = []string{KeyEntityType, KeyEntityID, KeyNow}

// GoJQEngine runs jq programs with the execution context as input.
type GoJQEngine struct {
	cache *programCache[*gojq.Code]
}

// NewGoJQEngine creates a jq engine. $ENV is always empty.
func NewGoJQEngine() *GoJQEngine {
	names := make([]string, len(jqVariables))
	for i, v := range jqVariables {
		names[i] = "$" + v
	}
	return &GoJQEngine{cache: newProgramCache(func(src string) (*gojq.Code, error) {
		query, err := gojq.Parse(src)
		if err != nil {
			return nil, compileError("jq", src, err)
		}
		code, err := gojq.Compile(query,
			gojq.WithVariables(names),
			gojq.WithEnvironLoader(func() []string { return nil }))
		if err != nil {
			return nil, compileError("jq", src, err)
		}
		return code, nil
	})}
}

func (e *GoJQEngine) Name() string { return "jq" }

func (e *GoJQEngine) Check(expression string) error {
	if expression == "" {
		return emptySource("jq")
	}
	_, err := e.cache.get(expression)
	return err
}

// Evaluate runs expression. No output is nil, one output is returned as is
// and several are collected into a slice.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptySource("jq")
	}
	code, err := e.cache.get(expression)
	if err != nil {
		return nil, err
	}
	input, err := jsonValue(data)
	if err != nil {
		return nil, evalError("jq", expression, err)
	}
	vars := make([]any, len(jqVariables))
	for i, k := range jqVariables {
		s, _ := data[k].(string)
		vars[i] = s
	}

	var results []any
	iter := code.RunWithContext(ctx, input, vars...)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, evalError("jq", expression, err)
		}
		results = append(results, v)
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// jsonValue maps data into the value space gojq accepts: float64 numbers,
// []any and map[string]any. Entities loaded from the store carry ints and
// typed slices, which gojq would reject.
func jsonValue(data map[string]any) (any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(raw, &out)
	return out, err
}

var _ Engine = (*GoJQEngine)(nil)
