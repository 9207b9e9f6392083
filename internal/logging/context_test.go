package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ExecutionID(ctx))
	assert.Empty(t, WorkflowID(ctx))
	_, ok := StepIndex(ctx)
	assert.False(t, ok)

	run := WithIDs(ctx, "exec-123", "wf-1")
	step := WithStepIndex(run, 0)

	assert.Equal(t, "exec-123", ExecutionID(step))
	assert.Equal(t, "wf-1", WorkflowID(step))
	idx, ok := StepIndex(step)
	assert.True(t, ok)
	assert.Zero(t, idx)

	_, ok = StepIndex(run)
	assert.False(t, ok, "the parent context is not changed")

	other := WithExecutionID(step, "exec-456")
	assert.Equal(t, "exec-456", ExecutionID(other))
	assert.Equal(t, "wf-1", WorkflowID(other), "other ids are kept")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner)).With("component", "engine")

	ctx := WithStepIndex(WithIDs(context.Background(), "exec-9", "wf-2"), 1)
	logger.InfoContext(ctx, "step done")

	out := buf.String()
	assert.Contains(t, out, `"execution_id":"exec-9"`)
	assert.Contains(t, out, `"workflow_id":"wf-2"`)
	assert.Contains(t, out, `"step_index":1`)
	assert.Contains(t, out, `"component":"engine"`)

	buf.Reset()
	logger.WithGroup("http").InfoContext(WithExecutionID(context.Background(), "exec-only"), "partial")
	out = buf.String()
	assert.Contains(t, out, `"execution_id":"exec-only"`)
	assert.NotContains(t, out, "workflow_id")
	assert.NotContains(t, out, "step_index")

	buf.Reset()
	logger.Info("no context")
	assert.NotContains(t, buf.String(), "execution_id")
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, FormatText, slog.LevelInfo, true)
	require.NoError(t, err)
	logger.InfoContext(WithExecutionID(context.Background(), "exec-1"), "hello")
	logger.Debug("hidden")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "execution_id=exec-1")
	assert.NotContains(t, buf.String(), "hidden")

	buf.Reset()
	logger, err = New(&buf, FormatJSON, slog.LevelDebug, false)
	require.NoError(t, err)
	logger.Debug("visible")
	assert.Contains(t, buf.String(), `"msg":"visible"`)

	_, err = New(&buf, "xml", slog.LevelInfo, false)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
