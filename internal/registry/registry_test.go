package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

func TestRegistry_Exhaustive(t *testing.T) {
	for _, nt := range schema.AllNodeTypes() {
		s, ok := Lookup(nt)
		require.True(t, ok, "missing spec for %s", nt)
		assert.Equal(t, nt, s.Type)
		assert.NotEmpty(t, s.Icon, nt)
		assert.NotEmpty(t, s.ColorClass, nt)
		assert.NotEmpty(t, s.Category, nt)
		assert.NotNil(t, s.DefaultConfig, nt)
	}
	assert.Len(t, All(), len(schema.AllNodeTypes()))
}

func TestRegistry_Lookup_Unknown(t *testing.T) {
	_, ok := Lookup("teleport")
	assert.False(t, ok)
	assert.Panics(t, func() { MustLookup("teleport") })
}

func TestRegistry_Handles(t *testing.T) {
	trigger := MustLookup(schema.NodeTrigger)
	assert.False(t, trigger.HasInput)
	assert.True(t, trigger.HasOutput(schema.HandleOutput))

	cond := MustLookup(schema.NodeCondition)
	assert.True(t, cond.HasOutput(schema.HandleTrue))
	assert.True(t, cond.HasOutput(schema.HandleFalse))
	assert.False(t, cond.HasOutput(schema.HandleOutput))

	end := MustLookup(schema.NodeEnd)
	assert.Empty(t, end.Outputs)
	assert.True(t, end.HasInput)
}

func TestRegistry_DefaultConfigIsCopy(t *testing.T) {
	cfg := DefaultConfig(schema.NodeHTTP)
	cfg["method"] = "POST"
	cfg["headers"].(map[string]any)["X-Test"] = "1"

	fresh := DefaultConfig(schema.NodeHTTP)
	assert.Equal(t, "GET", fresh["method"])
	assert.Empty(t, fresh["headers"])

	assert.Empty(t, DefaultConfig("teleport"))
}

func TestRegistry_ByCategory(t *testing.T) {
	groups := ByCategory()
	require.Len(t, groups[CategoryTrigger], 1)
	assert.Equal(t, schema.NodeTrigger, groups[CategoryTrigger][0].Type)
	assert.NotEmpty(t, Categories())
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		nodeType schema.CanvasNodeType
		config   map[string]any
		want     []string
	}{
		{"http ok", schema.NodeHTTP, map[string]any{"url": "https://example.com", "method": "POST"}, nil},
		{"http missing url", schema.NodeHTTP, map[string]any{"method": "GET"}, []string{"url is required"}},
		{"http empty url", schema.NodeHTTP, map[string]any{"url": "", "method": "GET"}, []string{"url is required"}},
		{"approval defaults invalid", schema.NodeApproval, DefaultConfig(schema.NodeApproval), []string{"approvers is required"}},
		{"approval ok", schema.NodeApproval, map[string]any{"approvers": []any{"assigned_to"}, "requiredApprovals": 2}, nil},
		{"delay ok", schema.NodeDelay, map[string]any{"duration": 2.5, "unit": "minutes"}, nil},
		{"condition with field", schema.NodeCondition, map[string]any{"field": "{{entity.amount}}", "operator": "gt", "value": 10}, nil},
		{"condition with expression", schema.NodeCondition, map[string]any{"expression": "entity.amount > 10", "operator": "eq"}, nil},
		{"condition empty", schema.NodeCondition, DefaultConfig(schema.NodeCondition), []string{"field or expression is required"}},
		{"trigger manual", schema.NodeTrigger, map[string]any{"event": "manual"}, nil},
		{"trigger schedule missing cron", schema.NodeTrigger, map[string]any{"event": "schedule"}, []string{"cron is required for schedule triggers"}},
		{"trigger schedule ok", schema.NodeTrigger, map[string]any{"event": "schedule", "cron": "*/5 * * * *"}, nil},
		{"branch no fields", schema.NodeBranch, nil, nil},
		{"end no fields", schema.NodeEnd, map[string]any{}, nil},
		{"unknown type", "teleport", nil, []string{`unknown node type "teleport"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateConfig(tt.nodeType, tt.config))
		})
	}
}

func TestValidateConfig_TypeMismatch(t *testing.T) {
	msgs := ValidateConfig(schema.NodeDelay, map[string]any{"duration": "soon", "unit": "hours"})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "duration")

	msgs = ValidateConfig(schema.NodeHTTP, map[string]any{"url": "https://x", "method": "TRACE"})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "method")

	msgs = ValidateConfig(schema.NodeTrigger, map[string]any{"event": "schedule", "cron": "not a cron"})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "cron:")
}

func TestConfigSchema_RequiredFields(t *testing.T) {
	doc := MustLookup(schema.NodeHTTP).ConfigSchema()
	assert.ElementsMatch(t, []any{"url", "method"}, doc["required"])

	doc = MustLookup(schema.NodeBranch).ConfigSchema()
	_, hasRequired := doc["required"]
	assert.False(t, hasRequired)
}
