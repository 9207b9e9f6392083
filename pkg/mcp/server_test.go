package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghxstship/orangeseadragon-sub009/internal/streaming"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.HTTPHandler("/mcp"))
}

func TestToolRegistration(t *testing.T) {
	s := NewServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 6)
	for _, name := range []string{
		"list_node_types",
		"validate_workflow",
		"trigger_workflow",
		"resume_execution",
		"get_execution",
		"diagram_workflow",
	} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestSessionRegistry(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("agent-1", "session-a")
	r.Register("agent-2", "session-a")
	r.Register("agent-3", "session-b")
	r.Register("agent-3", "session-c")

	sid, ok := r.SessionFor("agent-3")
	require.True(t, ok)
	assert.Equal(t, "session-c", sid, "reconnect replaces the session")

	r.Remove("session-a")
	_, ok = r.SessionFor("agent-1")
	assert.False(t, ok)
	_, ok = r.SessionFor("agent-2")
	assert.False(t, ok)
	_, ok = r.SessionFor("agent-3")
	assert.True(t, ok)
	_, ok = r.SessionFor("nobody")
	assert.False(t, ok)
}

func TestSessionRegistry_Watches(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("agent-1", "session-a")
	r.Watch("exec-1", "agent-1")
	r.Watch("exec-2", "agent-1")
	r.Watch("exec-2", "agent-2")
	assert.Equal(t, 2, r.Watching())

	aid, ok := r.Watcher("exec-2", false)
	require.True(t, ok)
	assert.Equal(t, "agent-2", aid, "a later watcher takes over")

	r.Remove("session-a")
	aid, ok = r.Watcher("exec-1", true)
	require.True(t, ok, "watches survive a disconnect")
	assert.Equal(t, "agent-1", aid)

	_, ok = r.Watcher("exec-1", false)
	assert.False(t, ok, "release drops the watch")
	assert.Equal(t, 1, r.Watching())
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]map[string]any
}

func (n *recordingNotifier) Notify(_ context.Context, agentID string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[string][]map[string]any{}
	}
	n.sent[agentID] = append(n.sent[agentID], payload)
	return nil
}

func (n *recordingNotifier) count(agentID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[agentID])
}

func TestForward_RoutesEventsToWatchingAgent(t *testing.T) {
	s := NewServer(ServerDeps{})
	rec := &recordingNotifier{}
	s.notifier = rec
	ctx := context.Background()

	s.watch(ctx, "agent-1", &schema.WorkflowExecution{ID: "exec-1", Status: schema.ExecutionWaiting})
	s.watch(ctx, "agent-2", &schema.WorkflowExecution{ID: "exec-2", Status: schema.ExecutionCompleted})

	ev := func(exec, typ string) streaming.StreamEvent {
		return streaming.StreamEvent{WorkflowID: "wf", Event: schema.ExecutionEvent{ExecutionID: exec, Type: typ}}
	}
	s.forward(ctx, ev("exec-1", schema.EventExecutionResumed))
	s.forward(ctx, ev("exec-2", schema.EventExecutionResumed))
	s.forward(ctx, ev("exec-1", schema.EventExecutionCompleted))
	s.forward(ctx, ev("exec-1", schema.EventStepCompleted))

	assert.Equal(t, 2, rec.count("agent-1"), "the terminal event is the last one forwarded")
	assert.Zero(t, rec.count("agent-2"), "finished executions are not watched")
	assert.Zero(t, s.sessions.Watching())

	data := rec.sent["agent-1"][1]["data"].(map[string]any)
	assert.Equal(t, "exec-1", data["executionId"])
	assert.Equal(t, schema.EventExecutionCompleted, data["type"])
}

func TestForwardEvents_FromHub(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := NewServer(ServerDeps{Hub: hub})
	rec := &recordingNotifier{}
	s.notifier = rec
	s.watch(context.Background(), "agent-1", &schema.WorkflowExecution{ID: "exec-1", Status: schema.ExecutionRunning})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.ForwardEvents(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), streaming.StreamEvent{
		Event: schema.ExecutionEvent{ExecutionID: "exec-1", Type: schema.EventExecutionWaiting},
	}))
	require.Eventually(t, func() bool { return rec.count("agent-1") == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestMCPNotifier_UnknownAgentIsNoop(t *testing.T) {
	s := NewServer(ServerDeps{})
	n := NewMCPNotifier(s.mcpServer, NewSessionRegistry())
	assert.NoError(t, n.Notify(context.Background(), "agent-x", map[string]any{"a": 1}))
}
