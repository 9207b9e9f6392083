package expressions

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

func TestEngines_Registry(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)
	assert.Equal(t, []string{"cel", "expr", "jq"}, engines.Names())

	_, err = engines.Get("lua")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.ErrorContains(t, err, "[cel expr jq]")
}

func TestEngines_Check(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	tests := []struct {
		language, source string
		ok               bool
	}{
		{"expr", "entity.amount > 1000", true},
		{"expr", "entity.amount >", false},
		{"expr", "", false},
		{"cel", `entity.status == "open"`, true},
		{"cel", "no_such_var == 1", false},
		{"jq", ".entity.tags | length", true},
		{"jq", ".[", false},
		{"lua", "return 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.language+" "+tt.source, func(t *testing.T) {
			err := engines.Check(tt.language, tt.source)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "got %v", err)
		})
	}
}

func TestProgramCache(t *testing.T) {
	compiled := 0
	c := newProgramCache(func(src string) (int, error) {
		compiled++
		if src == "bad" {
			return 0, errors.New("nope")
		}
		return len(src), nil
	})

	for range 3 {
		v, err := c.get("abc")
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	}
	assert.Equal(t, 1, compiled)

	_, err := c.get("bad")
	require.Error(t, err)
	_, _ = c.get("bad")
	assert.Equal(t, 3, compiled, "failures are not cached")

	for i := range maxPrograms {
		_, _ = c.get(strconv.Itoa(i))
	}
	assert.Equal(t, 1, c.size(), "a full cache starts over")
}

func TestExprEngine_Context(t *testing.T) {
	e := NewExprEngine()
	ctx := testContext()

	out, err := e.Evaluate(context.Background(), `entity.amount > 1000 && trigger_data.source == "api"`, ctx)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `len(entity.tags)`, ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, out)

	out, err = e.Evaluate(context.Background(), `step_0_output.result`, ctx)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprEngine_Errors(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "1 +", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCELEngine_Context(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	ctx := testContext()

	out, err := e.Evaluate(context.Background(), `entity.status == "open" && size(entity.tags) == 2`, ctx)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `ctx.step_0_output.result`, ctx)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `entity_type == ""`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `unknown_var > 1`, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestGoJQEngine_Context(t *testing.T) {
	e := NewGoJQEngine()
	ctx := testContext()
	ctx["count"] = 3
	ctx[KeyEntityType] = "deal"
	ctx[KeyEntityID] = "d-1"

	out, err := e.Evaluate(context.Background(), `[.entity.lines[].qty] | add`, ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(7), out)

	out, err = e.Evaluate(context.Background(), `.count + 1`, ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(4), out)

	out, err = e.Evaluate(context.Background(), `.entity.tags[]`, ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"urgent", "finance"}, out)

	out, err = e.Evaluate(context.Background(), `empty`, ctx)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = e.Evaluate(context.Background(), `"\($entity_type)/\($entity_id)"`, ctx)
	require.NoError(t, err)
	assert.Equal(t, "deal/d-1", out)
}

func TestGoJQEngine_Errors(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.[`, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `error("boom")`, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStepFailed))

	out, err := e.Evaluate(context.Background(), `$ENV | length`, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestEngines_ConcurrentCache(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	exprs := map[string]string{"expr": "entity.amount * 2", "cel": "entity.status", "jq": ".entity.status"}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for lang, src := range exprs {
			wg.Add(1)
			go func(lang, src string) {
				defer wg.Done()
				eng, err := engines.Get(lang)
				if !assert.NoError(t, err) {
					return
				}
				_, err = eng.Evaluate(context.Background(), src, testContext())
				assert.NoError(t, err)
			}(lang, src)
		}
	}
	wg.Wait()
}
