package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/store"
	"github.com/ghxstship/orangeseadragon-sub009/internal/streaming"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

const (
	assignee = "6f1c2a3e-4b5d-4e6f-8a9b-0c1d2e3f4a5b"
	dealType = "deal"
)

// memStore is an in-memory Store with the same version check as the SQL
// store. Values are deep-copied through JSON on the way in and out.
type memStore struct {
	mu         sync.Mutex
	defs       map[string][]*schema.WorkflowDefinition
	execs      map[string]*schema.WorkflowExecution
	onceKeys   map[string]bool
	events     []*schema.ExecutionEvent
	updateErr  error
	createErr  error
	updates    int
	failUpdate int // fail the nth update when > 0
}

func newMemStore() *memStore {
	return &memStore{
		defs:     map[string][]*schema.WorkflowDefinition{},
		execs:    map[string]*schema.WorkflowExecution{},
		onceKeys: map[string]bool{},
	}
}

func clone[T any](t *T) *T {
	raw, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func (m *memStore) put(def *schema.WorkflowDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def.Version = len(m.defs[def.ID]) + 1
	m.defs[def.ID] = append(m.defs[def.ID], clone(def))
}

func (m *memStore) GetDefinition(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.defs[id]
	if len(versions) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return clone(versions[len(versions)-1]), nil
}

func (m *memStore) GetDefinitionVersion(_ context.Context, id string, version int) (*schema.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.defs[id]
	if version < 1 || version > len(versions) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q version %d not found", id, version)
	}
	return clone(versions[version-1]), nil
}

func (m *memStore) CreateExecution(_ context.Context, exec *schema.WorkflowExecution, onceKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if onceKey != "" {
		if m.onceKeys[onceKey] {
			return schema.NewErrorf(schema.ErrCodeConflict, "workflow already ran for this entity")
		}
		m.onceKeys[onceKey] = true
	}
	exec.Version = 1
	exec.UpdatedAt = exec.StartedAt
	m.execs[exec.ID] = clone(exec)
	return nil
}

func (m *memStore) GetExecution(_ context.Context, id string) (*schema.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	return clone(e), nil
}

func (m *memStore) UpdateExecution(_ context.Context, exec *schema.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.updateErr != nil && (m.failUpdate == 0 || m.updates == m.failUpdate) {
		return m.updateErr
	}
	cur, ok := m.execs[exec.ID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", exec.ID)
	}
	if cur.Version != exec.Version {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q was modified concurrently", exec.ID)
	}
	exec.Version++
	m.execs[exec.ID] = clone(exec)
	return nil
}

func (m *memStore) ListExecutions(_ context.Context, f store.ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.WorkflowExecution
	for _, e := range m.execs {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.ResumeBefore != nil && (e.ResumeAt == nil || e.ResumeAt.After(*f.ResumeBefore)) {
			continue
		}
		out = append(out, clone(e))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) AppendEvent(_ context.Context, event *schema.ExecutionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, clone(event))
	return nil
}

func (m *memStore) ListEvents(_ context.Context, executionID string, sinceID int64) ([]*schema.ExecutionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.ExecutionEvent
	for _, e := range m.events {
		if e.ExecutionID == executionID && e.ID > sinceID {
			out = append(out, clone(e))
		}
	}
	return out, nil
}

func (m *memStore) eventTypes(executionID string) []string {
	events, _ := m.ListEvents(context.Background(), executionID, 0)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

type memEntities struct {
	mu      sync.Mutex
	records map[string]map[string]any
	getErr  error
}

func (e *memEntities) Get(_ context.Context, entityType, id string) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.getErr != nil {
		return nil, e.getErr
	}
	rec, ok := e.records[entityType+"/"+id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "%s %s not found", entityType, id)
	}
	return schema.CloneMap(rec), nil
}

func (e *memEntities) Patch(_ context.Context, entityType, id string, fields map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[entityType+"/"+id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "%s %s not found", entityType, id)
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

type memSink struct {
	mu   sync.Mutex
	sent []actions.Notification
}

func (s *memSink) Insert(_ context.Context, batch []actions.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, batch...)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type memApprovals struct {
	mu       sync.Mutex
	requests []actions.ApprovalRequest
}

func (a *memApprovals) Create(_ context.Context, req actions.ApprovalRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	return "approval-1", nil
}

// funcAction is a test action backed by a function.
type funcAction struct {
	name string
	fn   func(ctx context.Context, in actions.ActionInput) (*actions.ActionOutput, error)
}

func (a *funcAction) Name() string                  { return a.name }
func (a *funcAction) Schema() actions.ActionSchema  { return actions.ActionSchema{} }
func (a *funcAction) Validate(map[string]any) error { return nil }
func (a *funcAction) Execute(ctx context.Context, in actions.ActionInput) (*actions.ActionOutput, error) {
	return a.fn(ctx, in)
}

type harness struct {
	store     *memStore
	entities  *memEntities
	sink      *memSink
	approvals *memApprovals
	registry  *actions.Registry
	hub       *streaming.MemoryHub
	now       time.Time
	interp    *Interpreter
}

func newHarness(t *testing.T, cfg Config, extra ...actions.Action) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		entities:  &memEntities{records: map[string]map[string]any{}},
		sink:      &memSink{},
		approvals: &memApprovals{},
		registry:  actions.NewRegistry(),
		hub:       streaming.NewMemoryHub(),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	require.NoError(t, actions.RegisterBuiltins(h.registry, actions.Dependencies{
		Entities:      h.entities,
		Notifications: h.sink,
		Approvals:     h.approvals,
		Now:           clock,
	}))
	for _, a := range extra {
		require.NoError(t, h.registry.Register(a))
	}
	if cfg.Now == nil {
		cfg.Now = clock
	}
	interp, err := New(Deps{
		Store:    h.store,
		Actions:  h.registry,
		Entities: h.entities,
		Hub:      h.hub,
	}, cfg)
	require.NoError(t, err)
	require.NoError(t, interp.CheckHandlers())
	h.interp = interp
	return h
}

func (h *harness) deal(id string, amount float64) {
	h.entities.mu.Lock()
	defer h.entities.mu.Unlock()
	h.entities.records[dealType+"/"+id] = map[string]any{"amount": amount, "assigned_to": assignee, "status": "open"}
}

func (h *harness) define(def *schema.WorkflowDefinition) *schema.WorkflowDefinition {
	if def.ID == "" {
		def.ID = "wf-1"
	}
	def.IsActive = true
	h.store.put(def)
	return def
}

func (h *harness) trigger(t *testing.T, wfID, entityID string) *schema.WorkflowExecution {
	t.Helper()
	req := TriggerRequest{WorkflowID: wfID}
	if entityID != "" {
		req.EntityType, req.EntityID = dealType, entityID
	}
	exec, err := h.interp.Trigger(context.Background(), req)
	require.NoError(t, err)
	return exec
}

func approvalGraph() *schema.Graph {
	node := func(id string, typ schema.CanvasNodeType, cfg map[string]any) schema.CanvasNode {
		return schema.CanvasNode{ID: id, Type: typ, Config: cfg}
	}
	edge := func(src, dst string, h schema.Handle) schema.CanvasEdge {
		return schema.CanvasEdge{ID: src + "-" + dst, Source: src, Target: dst, SourceHandle: h}
	}
	return &schema.Graph{
		Nodes: []schema.CanvasNode{
			node("t", schema.NodeTrigger, map[string]any{"event": "manual"}),
			node("c", schema.NodeCondition, map[string]any{"field": "entity.amount", "operator": "gt", "value": 1000}),
			node("a", schema.NodeApproval, map[string]any{"approvers": []any{"assigned_to"}, "requiredApprovals": 1, "rule": "any"}),
			node("n", schema.NodeNotification, map[string]any{"recipients": []any{"assigned_to"}, "title": "Deal update"}),
			node("e", schema.NodeEnd, nil),
		},
		Edges: []schema.CanvasEdge{
			edge("t", "c", ""),
			edge("c", "a", schema.HandleTrue),
			edge("c", "n", schema.HandleFalse),
			edge("a", "n", ""),
			edge("n", "e", ""),
		},
	}
}

func steps(list ...schema.Step) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{Name: "test", EntityType: dealType, Steps: list}
}

func actionStep(name string, params map[string]any) schema.Step {
	return schema.Step{Type: schema.StepAction, Config: map[string]any{"action": name, "params": params}}
}

func TestTrigger_LargeDealWaitsForApproval(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(&schema.WorkflowDefinition{Name: "approval", EntityType: dealType, Graph: approvalGraph()})
	h.deal("d1", 1500)

	exec := h.trigger(t, "wf-1", "d1")
	assert.Equal(t, schema.ExecutionWaiting, exec.Status)
	assert.Equal(t, "approval", exec.WaitingFor)
	assert.Equal(t, 3, exec.CurrentStep)
	require.Len(t, exec.StepResults, 3)
	assert.Equal(t, true, exec.StepResults[0].Output.(map[string]any)["result"])
	assert.Equal(t, "approval-1", exec.StepResults[1].Output.(map[string]any)["approvalId"])

	require.Len(t, h.approvals.requests, 1)
	assert.Equal(t, []string{assignee}, h.approvals.requests[0].Approvers)
	assert.Zero(t, h.sink.count())

	body, waiting := Summarize(exec)
	assert.True(t, waiting)
	assert.Equal(t, "approval", body.(WaitingResponse).WaitingFor)

	stored, err := h.interp.Status(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionWaiting, stored.Status)

	assert.Equal(t, []string{
		schema.EventExecutionStarted,
		schema.EventStepCompleted, schema.EventStepCompleted, schema.EventStepCompleted,
		schema.EventExecutionWaiting,
	}, h.store.eventTypes(exec.ID))
}

func TestTrigger_SmallDealCompletes(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(&schema.WorkflowDefinition{Name: "approval", EntityType: dealType, Graph: approvalGraph()})
	h.deal("d1", 500)

	exec := h.trigger(t, "wf-1", "d1")
	assert.Equal(t, schema.ExecutionCompleted, exec.Status)
	require.Len(t, exec.StepResults, 2)
	assert.Equal(t, schema.StepCondition, exec.StepResults[0].Type)
	assert.Equal(t, 3, exec.StepResults[1].StepIndex)
	assert.Equal(t, 1, h.sink.count())
	assert.Empty(t, h.approvals.requests)
	require.NotNil(t, exec.CompletedAt)

	body, waiting := Summarize(exec)
	assert.False(t, waiting)
	assert.Equal(t, 2, body.(FinishedResponse).StepsExecuted)
}

func TestResume_CompletesAfterApproval(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(&schema.WorkflowDefinition{Name: "approval", EntityType: dealType, Graph: approvalGraph()})
	h.deal("d1", 1500)
	exec := h.trigger(t, "wf-1", "d1")

	resumed, err := h.interp.Resume(context.Background(), ResumeRequest{
		ExecutionID: exec.ID,
		WaitingFor:  "approval",
		Data:        map[string]any{"approved": true},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, resumed.Status)
	require.Len(t, resumed.StepResults, 4)
	assert.Equal(t, 1, h.sink.count())

	wait := resumed.StepResults[2].Output.(map[string]any)
	assert.Equal(t, map[string]any{"approved": true}, wait["resumeData"])

	types := h.store.eventTypes(exec.ID)
	assert.Contains(t, types, schema.EventExecutionResumed)
	assert.Equal(t, schema.EventExecutionCompleted, types[len(types)-1])

	_, err = h.interp.Resume(context.Background(), ResumeRequest{ExecutionID: exec.ID})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict), "a finished execution cannot resume")
}

func TestResume_WrongWaitKind(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(&schema.WorkflowDefinition{Name: "approval", EntityType: dealType, Graph: approvalGraph()})
	h.deal("d1", 1500)
	exec := h.trigger(t, "wf-1", "d1")

	_, err := h.interp.Resume(context.Background(), ResumeRequest{ExecutionID: exec.ID, WaitingFor: "delay"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	_, err = h.interp.Resume(context.Background(), ResumeRequest{ExecutionID: "missing"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestResume_ConcurrentResumesHaveOneWinner(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(&schema.WorkflowDefinition{Name: "approval", EntityType: dealType, Graph: approvalGraph()})
	h.deal("d1", 1500)
	exec := h.trigger(t, "wf-1", "d1")

	const n = 8
	var (
		wg        sync.WaitGroup
		ok        atomic.Int32
		conflicts atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.interp.Resume(context.Background(), ResumeRequest{ExecutionID: exec.ID})
			switch {
			case err == nil:
				ok.Add(1)
			case schema.IsCode(err, schema.ErrCodeConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, n-1, conflicts.Load())
	assert.Equal(t, 1, h.sink.count(), "the tail ran exactly once")
}

func TestTrigger_StepTimeout(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, actions.ActionInput) (*actions.ActionOutput, error)
	}{
		{"honours cancellation", func(ctx context.Context, _ actions.ActionInput) (*actions.ActionOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		{"never returns", func(context.Context, actions.ActionInput) (*actions.ActionOutput, error) {
			select {}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, &funcAction{name: "slow", fn: tt.fn})
			st := actionStep("slow", nil)
			st.TimeoutMs = 20
			h.define(steps(st))
			h.deal("d1", 1)

			began := time.Now()
			exec := h.trigger(t, "wf-1", "d1")
			assert.Less(t, time.Since(began), 5*time.Second)
			assert.Equal(t, schema.ExecutionFailed, exec.Status)
			require.Len(t, exec.StepResults, 1)
			assert.Equal(t, schema.ErrCodeTimeout, exec.StepResults[0].ErrorCode)
			assert.Contains(t, exec.Error, "timed out")
		})
	}
}

func TestTrigger_StoreFailureIsReturned(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(steps(actionStep("send_notification", map[string]any{"recipients": []any{"assigned_to"}, "title": "hi"})))
	h.deal("d1", 1)
	boom := errors.New("disk full")
	h.store.updateErr = boom

	exec, err := h.interp.Trigger(context.Background(), TriggerRequest{WorkflowID: "wf-1", EntityType: dealType, EntityID: "d1"})
	assert.Nil(t, exec)
	assert.Same(t, boom, err)

	h.store.updateErr = nil
	h.store.createErr = boom
	_, err = h.interp.Trigger(context.Background(), TriggerRequest{WorkflowID: "wf-1"})
	assert.Same(t, boom, err)
}

func TestTrigger_WaitingWriteFailureIsReturned(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(&schema.WorkflowDefinition{Name: "approval", EntityType: dealType, Graph: approvalGraph()})
	h.deal("d1", 1500)
	boom := errors.New("disk full")
	h.store.updateErr, h.store.failUpdate = boom, 1

	exec, err := h.interp.Trigger(context.Background(), TriggerRequest{WorkflowID: "wf-1", EntityType: dealType, EntityID: "d1"})
	assert.Nil(t, exec)
	assert.Same(t, boom, err)
	assert.Len(t, h.approvals.requests, 1, "the approval step ran before the write")
}

func TestResume_FinalWriteFailureIsReturned(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(&schema.WorkflowDefinition{Name: "approval", EntityType: dealType, Graph: approvalGraph()})
	h.deal("d1", 1500)
	waiting := h.trigger(t, "wf-1", "d1")
	require.Equal(t, schema.ExecutionWaiting, waiting.Status)

	boom := errors.New("connection reset")
	// The resume claim is the next update; the terminal write follows it.
	h.store.updateErr, h.store.failUpdate = boom, h.store.updates+2

	exec, err := h.interp.Resume(context.Background(), ResumeRequest{
		ExecutionID: waiting.ID,
		WaitingFor:  "approval",
		Data:        map[string]any{"approved": true},
	})
	assert.Nil(t, exec)
	assert.Same(t, boom, err)
	assert.Equal(t, 1, h.sink.count())

	stored, err := h.interp.Status(context.Background(), waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionRunning, stored.Status, "only the claim was persisted")
}

func TestTrigger_UnknownStepType(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(steps(schema.Step{Type: "teleport"}))

	exec := h.trigger(t, "wf-1", "d1")
	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeUnknownStepType, exec.StepResults[0].ErrorCode)
}

func TestTrigger_UnknownOperator(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(steps(schema.Step{Type: schema.StepCondition, Config: map[string]any{
		"field": "entity.amount", "operator": "approx", "value": 3,
	}}))
	h.deal("d1", 3)

	exec := h.trigger(t, "wf-1", "d1")
	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeUnknownOperator, exec.StepResults[0].ErrorCode)
}

func TestTrigger_InOperatorFailsClosed(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(steps(
		schema.Step{Type: schema.StepCondition, OnTrue: 1, OnFalse: schema.StepEnd, Config: map[string]any{
			"field": "entity.status", "operator": "in", "value": "open",
		}},
		actionStep("update_field", map[string]any{"field": "status", "value": "seen"}),
	))
	h.deal("d1", 3)

	exec := h.trigger(t, "wf-1", "d1")
	assert.Equal(t, schema.ExecutionCompleted, exec.Status)
	require.Len(t, exec.StepResults, 1)
	assert.Equal(t, false, exec.StepResults[0].Output.(map[string]any)["result"])
}

func TestTrigger_UnknownAction(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(steps(actionStep("launch_rocket", nil)))

	exec := h.trigger(t, "wf-1", "d1")
	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeUnknownAction, exec.StepResults[0].ErrorCode)
	assert.Equal(t, 1, exec.StepResults[0].Attempts)
}

func TestTrigger_UpdateFieldPatchesEntity(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(steps(
		actionStep("update_field", map[string]any{"field": "status", "value": "won"}),
		schema.Step{Type: schema.StepCondition, OnTrue: 2, OnFalse: schema.StepEnd, Config: map[string]any{
			"field": "entity.status", "operator": "eq", "value": "won",
		}},
		actionStep("send_notification", map[string]any{"recipients": []any{"assigned_to"}, "title": "Won {{entity.amount}}"}),
	))
	h.deal("d1", 42)

	exec := h.trigger(t, "wf-1", "d1")
	require.Equal(t, schema.ExecutionCompleted, exec.Status, exec.Error)
	assert.Len(t, exec.StepResults, 3)

	rec, err := h.entities.Get(context.Background(), dealType, "d1")
	require.NoError(t, err)
	assert.Equal(t, "won", rec["status"])
	assert.Equal(t, 1, h.sink.count())
}

func TestTrigger_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	flaky := &funcAction{name: "flaky", fn: func(context.Context, actions.ActionInput) (*actions.ActionOutput, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection reset")
		}
		return &actions.ActionOutput{Data: map[string]any{"ok": true}}, nil
	}}
	h := newHarness(t, Config{}, flaky)
	st := actionStep("flaky", nil)
	st.Retry = &schema.RetryPolicy{MaxAttempts: 3, Backoff: schema.BackoffFixed, InitialDelayMs: 1}
	h.define(steps(st))

	exec := h.trigger(t, "wf-1", "")
	assert.Equal(t, schema.ExecutionCompleted, exec.Status)
	assert.Equal(t, 3, exec.StepResults[0].Attempts)

	retrying := 0
	for _, typ := range h.store.eventTypes(exec.ID) {
		if typ == schema.EventStepRetrying {
			retrying++
		}
	}
	assert.Equal(t, 2, retrying)
}

func TestTrigger_RetryExhausted(t *testing.T) {
	broken := &funcAction{name: "broken", fn: func(context.Context, actions.ActionInput) (*actions.ActionOutput, error) {
		return nil, errors.New("503 from upstream")
	}}
	h := newHarness(t, Config{}, broken)
	st := actionStep("broken", nil)
	st.Retry = &schema.RetryPolicy{MaxAttempts: 2, Backoff: schema.BackoffLinear, InitialDelayMs: 1}
	h.define(steps(st))

	exec := h.trigger(t, "wf-1", "")
	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	res := exec.StepResults[0]
	assert.Equal(t, schema.ErrCodeRetryExhausted, res.ErrorCode)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, res.Error, "503 from upstream")
}

func TestTrigger_CircuitOpens(t *testing.T) {
	broken := &funcAction{name: "broken", fn: func(context.Context, actions.ActionInput) (*actions.ActionOutput, error) {
		return nil, schema.NewError(schema.ErrCodeStepFailed, "refused").WithCause(actions.ErrUnavailable)
	}}
	h := newHarness(t, Config{CircuitBreaker: &CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}}, broken)
	h.define(steps(actionStep("broken", nil)))

	first := h.trigger(t, "wf-1", "")
	assert.Equal(t, schema.ErrCodeStepFailed, first.StepResults[0].ErrorCode)

	second := h.trigger(t, "wf-1", "")
	assert.Equal(t, schema.ErrCodeCircuitOpen, second.StepResults[0].ErrorCode)
	assert.Equal(t, CircuitOpen, h.interp.Breakers().State("broken"))
}

func TestTrigger_DataFailuresDoNotTripCircuit(t *testing.T) {
	h := newHarness(t, Config{CircuitBreaker: &CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}})
	h.define(steps(actionStep("send_notification", map[string]any{"recipients": []any{"assigned_to"}, "title": "Deal update"})))

	h.entities.mu.Lock()
	for _, id := range []string{"o1", "o2", "o3", "o4", "o5"} {
		h.entities.records[dealType+"/"+id] = map[string]any{"amount": 10, "status": "open"}
	}
	h.entities.mu.Unlock()
	for _, id := range []string{"o1", "o2", "o3", "o4", "o5"} {
		exec := h.trigger(t, "wf-1", id)
		require.Equal(t, schema.ExecutionFailed, exec.Status, id)
		assert.NotEqual(t, schema.ErrCodeCircuitOpen, exec.StepResults[0].ErrorCode, id)
	}

	h.deal("d1", 10)
	exec := h.trigger(t, "wf-1", "d1")
	assert.Equal(t, schema.ExecutionCompleted, exec.Status)
	assert.Equal(t, CircuitClosed, h.interp.Breakers().State("send_notification"))
	assert.Equal(t, 1, h.sink.count())
}

func TestTrigger_CircuitOffByDefault(t *testing.T) {
	broken := &funcAction{name: "broken", fn: func(context.Context, actions.ActionInput) (*actions.ActionOutput, error) {
		return nil, schema.NewError(schema.ErrCodeStepFailed, "refused").WithCause(actions.ErrUnavailable)
	}}
	h := newHarness(t, Config{}, broken)
	h.define(steps(actionStep("broken", nil)))

	for range 10 {
		exec := h.trigger(t, "wf-1", "")
		require.Equal(t, schema.ErrCodeStepFailed, exec.StepResults[0].ErrorCode)
	}
	assert.Equal(t, CircuitClosed, h.interp.Breakers().State("broken"))
}

func TestDelay_ResumedBySweep(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(steps(
		schema.Step{Type: schema.StepWait, Config: map[string]any{"for": "delay", "durationMs": 60000}},
		actionStep("update_field", map[string]any{"field": "status", "value": "followed_up"}),
	))
	h.deal("d1", 1)

	exec := h.trigger(t, "wf-1", "d1")
	require.Equal(t, schema.ExecutionWaiting, exec.Status)
	require.NotNil(t, exec.ResumeAt)
	assert.Equal(t, h.now.Add(time.Minute), *exec.ResumeAt)

	report, err := h.interp.ResumeDue(context.Background(), h.now)
	require.NoError(t, err)
	assert.Empty(t, report.Resumed)

	h.now = h.now.Add(61 * time.Second)
	report, err = h.interp.ResumeDue(context.Background(), h.now)
	require.NoError(t, err)
	assert.Equal(t, []string{exec.ID}, report.Resumed)

	done, err := h.interp.Status(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, done.Status)
	rec, _ := h.entities.Get(context.Background(), dealType, "d1")
	assert.Equal(t, "followed_up", rec["status"])
}

func TestForceFail(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(&schema.WorkflowDefinition{Name: "approval", EntityType: dealType, Graph: approvalGraph()})
	h.deal("d1", 1500)
	exec := h.trigger(t, "wf-1", "d1")

	failed, err := h.interp.ForceFail(context.Background(), exec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionFailed, failed.Status)
	assert.Equal(t, "failed by operator", failed.Error)

	_, err = h.interp.ForceFail(context.Background(), exec.ID, "again")
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
}

func TestTrigger_RunOncePerEntity(t *testing.T) {
	h := newHarness(t, Config{})
	def := steps(actionStep("update_field", map[string]any{"field": "status", "value": "tagged"}))
	def.RunOncePerEntity = true
	h.define(def)
	h.deal("d1", 1)

	h.trigger(t, "wf-1", "d1")
	_, err := h.interp.Trigger(context.Background(), TriggerRequest{WorkflowID: "wf-1", EntityType: dealType, EntityID: "d1"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	h.deal("d2", 1)
	h.trigger(t, "wf-1", "d2")
}

func TestTrigger_RejectsBadRequests(t *testing.T) {
	h := newHarness(t, Config{})
	def := steps(actionStep("update_field", nil))
	h.define(def)

	_, err := h.interp.Trigger(context.Background(), TriggerRequest{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = h.interp.Trigger(context.Background(), TriggerRequest{WorkflowID: "wf-1", EntityType: dealType})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = h.interp.Trigger(context.Background(), TriggerRequest{WorkflowID: "nope"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	inactive := steps(actionStep("update_field", nil))
	inactive.ID = "wf-off"
	h.store.put(inactive)
	_, err = h.interp.Trigger(context.Background(), TriggerRequest{WorkflowID: "wf-off"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "not active")
}

func TestTrigger_EntityLoadFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(steps(actionStep("update_field", map[string]any{"field": "status", "value": "x"})))
	h.entities.getErr = errors.New("entity backend down")

	exec := h.trigger(t, "wf-1", "d1")
	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Empty(t, exec.StepResults)
	assert.Contains(t, exec.Error, "entity backend down")
}

func TestTrigger_PublishesToHub(t *testing.T) {
	h := newHarness(t, Config{})
	h.define(&schema.WorkflowDefinition{Name: "approval", EntityType: dealType, Graph: approvalGraph()})
	h.deal("d1", 500)

	ch, cancel, err := h.hub.Subscribe(context.Background(), streaming.EventFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	defer cancel()

	exec := h.trigger(t, "wf-1", "d1")
	var got []string
	for len(got) < 4 {
		select {
		case ev := <-ch:
			assert.Equal(t, exec.ID, ev.Event.ExecutionID)
			got = append(got, ev.Event.Type)
		case <-time.After(time.Second):
			t.Fatalf("only received %v", got)
		}
	}
	assert.Equal(t, []string{
		schema.EventExecutionStarted, schema.EventStepCompleted,
		schema.EventStepCompleted, schema.EventExecutionCompleted,
	}, got)
}
