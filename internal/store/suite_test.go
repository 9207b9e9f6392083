package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// runStoreSuite exercises a migrated store. Every case uses fresh IDs so
// the suite can share one database.
func runStoreSuite(t *testing.T, s *SQLStore) {
	t.Run("DefinitionVersions", func(t *testing.T) { testDefinitionVersions(t, s) })
	t.Run("ListDefinitions", func(t *testing.T) { testListDefinitions(t, s) })
	t.Run("ExecutionRoundTrip", func(t *testing.T) { testExecutionRoundTrip(t, s) })
	t.Run("ExecutionCAS", func(t *testing.T) { testExecutionCAS(t, s) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, s) })
	t.Run("OnceKey", func(t *testing.T) { testOnceKey(t, s) })
	t.Run("ListExecutions", func(t *testing.T) { testListExecutions(t, s) })
	t.Run("Events", func(t *testing.T) { testEvents(t, s) })
	t.Run("Entities", func(t *testing.T) { testEntities(t, s) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, s) })
	t.Run("Approvals", func(t *testing.T) { testApprovals(t, s) })
}

func sampleDefinition(org string) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:             uuid.NewString(),
		OrganizationID: org,
		Name:           "expense approval",
		EntityType:     "expense",
		Graph: &schema.Graph{
			Nodes: []schema.CanvasNode{
				{ID: "t", Type: schema.NodeTrigger},
				{ID: "n", Type: schema.NodeNotification, Config: map[string]any{"title": "hi"}},
			},
			Edges: []schema.CanvasEdge{{ID: "e1", Source: "t", Target: "n"}},
		},
	}
}

func newExecution(workflowID string) *schema.WorkflowExecution {
	return &schema.WorkflowExecution{
		ID:              uuid.NewString(),
		WorkflowID:      workflowID,
		WorkflowVersion: 1,
		EntityType:      "expense",
		EntityID:        uuid.NewString(),
		Status:          schema.ExecutionRunning,
		TriggerData:     map[string]any{"amount": float64(1500)},
	}
}

func testDefinitionVersions(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	def := sampleDefinition("org-" + uuid.NewString())
	require.NoError(t, s.CreateDefinition(ctx, def))
	assert.Equal(t, 1, def.Version)

	err := s.CreateDefinition(ctx, def)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	def.Name = "expense approval v2"
	require.NoError(t, s.SaveDefinitionVersion(ctx, def))
	assert.Equal(t, 2, def.Version)

	latest, err := s.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "expense approval v2", latest.Name)
	require.NotNil(t, latest.Graph)
	assert.Len(t, latest.Graph.Nodes, 2)

	v1, err := s.GetDefinitionVersion(ctx, def.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "expense approval", v1.Name)

	versions, err := s.ListDefinitionVersions(ctx, def.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)

	_, err = s.GetDefinitionVersion(ctx, def.ID, 9)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	_, err = s.GetDefinition(ctx, "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	missing := sampleDefinition("")
	err = s.SaveDefinitionVersion(ctx, missing)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func testListDefinitions(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	org := "org-" + uuid.NewString()
	a := sampleDefinition(org)
	a.Name = "a"
	a.IsActive = true
	b := sampleDefinition(org)
	b.Name = "b"
	require.NoError(t, s.CreateDefinition(ctx, a))
	require.NoError(t, s.CreateDefinition(ctx, b))
	require.NoError(t, s.SaveDefinitionVersion(ctx, b))

	all, err := s.ListDefinitions(ctx, DefinitionFilter{OrganizationID: org})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, 2, all[1].Version, "only the latest version is listed")

	active, err := s.ListDefinitions(ctx, DefinitionFilter{OrganizationID: org, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	require.NoError(t, s.SetDefinitionActive(ctx, b.ID, true))
	active, err = s.ListDefinitions(ctx, DefinitionFilter{OrganizationID: org, ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	err = s.SetDefinitionActive(ctx, "missing", true)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func testExecutionRoundTrip(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	exec := newExecution(uuid.NewString())
	require.NoError(t, s.CreateExecution(ctx, exec, ""))
	assert.Equal(t, 1, exec.Version)

	exec.Status = schema.ExecutionWaiting
	exec.CurrentStep = 2
	exec.WaitingFor = "approval"
	exec.StepResults = []schema.StepResult{{
		StepIndex: 0, NodeID: "c", Type: schema.StepCondition, Status: schema.StepStatusCompleted,
		Output: map[string]any{"result": true}, CompletedAt: time.Now().UTC(),
	}}
	require.NoError(t, s.UpdateExecution(ctx, exec))
	assert.Equal(t, 2, exec.Version)

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionWaiting, got.Status)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Equal(t, "approval", got.WaitingFor)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, float64(1500), got.TriggerData["amount"])
	require.Len(t, got.StepResults, 1)
	assert.Equal(t, map[string]any{"result": true}, got.StepResults[0].Output)
	assert.Nil(t, got.CompletedAt)

	_, err = s.GetExecution(ctx, "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func testExecutionCAS(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	exec := newExecution(uuid.NewString())
	require.NoError(t, s.CreateExecution(ctx, exec, ""))

	stale := *exec
	exec.Status = schema.ExecutionCompleted
	require.NoError(t, s.UpdateExecution(ctx, exec))

	stale.Status = schema.ExecutionFailed
	err := s.UpdateExecution(ctx, &stale)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
	assert.Equal(t, 1, stale.Version, "a rejected write keeps its version")

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, got.Status)

	ghost := newExecution("wf")
	ghost.Version = 1
	err = s.UpdateExecution(ctx, ghost)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func testConcurrentWriters(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	exec := newExecution(uuid.NewString())
	exec.Status = schema.ExecutionWaiting
	require.NoError(t, s.CreateExecution(ctx, exec, ""))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, clash int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mine := *exec
			mine.Status = schema.ExecutionRunning
			err := s.UpdateExecution(ctx, &mine)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case schema.IsCode(err, schema.ErrCodeConflict):
				clash++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, clash)
}

func testOnceKey(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	first := newExecution(uuid.NewString())
	key := schema.OnceKey(first.WorkflowID, first.EntityType, first.EntityID)
	require.NoError(t, s.CreateExecution(ctx, first, key))

	second := newExecution(first.WorkflowID)
	second.EntityID = first.EntityID
	err := s.CreateExecution(ctx, second, key)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	// Without a key the same entity may run again.
	require.NoError(t, s.CreateExecution(ctx, second, ""))
}

func testListExecutions(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	wf := uuid.NewString()
	now := time.Now().UTC()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	due := newExecution(wf)
	due.Status = schema.ExecutionWaiting
	due.ResumeAt = &past
	later := newExecution(wf)
	later.Status = schema.ExecutionWaiting
	later.ResumeAt = &future
	done := newExecution(wf)
	done.Status = schema.ExecutionCompleted
	for _, e := range []*schema.WorkflowExecution{due, later, done} {
		require.NoError(t, s.CreateExecution(ctx, e, ""))
	}

	got, err := s.ListExecutions(ctx, ExecutionFilter{
		WorkflowID: wf, Status: schema.ExecutionWaiting, ResumeBefore: &now,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
	require.NotNil(t, got[0].ResumeAt)
	assert.WithinDuration(t, past, *got[0].ResumeAt, time.Microsecond)

	all, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: wf})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: wf, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byEntity, err := s.ListExecutions(ctx, ExecutionFilter{EntityType: "expense", EntityID: done.EntityID})
	require.NoError(t, err)
	require.Len(t, byEntity, 1)
	assert.Equal(t, done.ID, byEntity[0].ID)
}

func testEvents(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	execID := uuid.NewString()
	step := 1
	events := []*schema.ExecutionEvent{
		{ExecutionID: execID, Type: schema.EventExecutionStarted},
		{ExecutionID: execID, Type: schema.EventStepCompleted, StepIndex: &step, Payload: json.RawMessage(`{"ok":true}`)},
		{ExecutionID: execID, Type: schema.EventExecutionCompleted},
	}
	for _, ev := range events {
		require.NoError(t, s.AppendEvent(ctx, ev))
		assert.NotZero(t, ev.ID)
	}
	assert.Less(t, events[0].ID, events[1].ID)

	got, err := s.ListEvents(ctx, execID, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, schema.EventStepCompleted, got[1].Type)
	require.NotNil(t, got[1].StepIndex)
	assert.Equal(t, 1, *got[1].StepIndex)
	assert.JSONEq(t, `{"ok":true}`, string(got[1].Payload))
	assert.Nil(t, got[0].StepIndex)

	tail, err := s.ListEvents(ctx, execID, events[1].ID)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, schema.EventExecutionCompleted, tail[0].Type)
}

func testEntities(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	ents := s.Entities()
	id := uuid.NewString()

	_, err := ents.Get(ctx, "expense", id)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	err = ents.Patch(ctx, "expense", id, map[string]any{"status": "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	require.NoError(t, ents.Put(ctx, "expense", id, map[string]any{"amount": 1500, "status": "submitted"}))
	require.NoError(t, ents.Patch(ctx, "expense", id, map[string]any{"status": "approved"}))

	got, err := ents.Get(ctx, "expense", id)
	require.NoError(t, err)
	assert.Equal(t, "approved", got["status"])
	assert.Equal(t, float64(1500), got["amount"])

	require.NoError(t, ents.Put(ctx, "expense", id, map[string]any{"amount": 10}))
	got, err = ents.Get(ctx, "expense", id)
	require.NoError(t, err)
	assert.NotContains(t, got, "status")
}

func testNotifications(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	sink := s.Notifications()
	recipient := uuid.NewString()
	dup := uuid.NewString()

	require.NoError(t, sink.Insert(ctx, []actions.Notification{
		{ID: uuid.NewString(), RecipientID: recipient, Title: "first", CreatedAt: time.Now().Add(-time.Second)},
		{ID: uuid.NewString(), RecipientID: recipient, Title: "second", Message: "body", ExecutionID: "e1"},
	}))
	got, err := sink.ListForRecipient(ctx, recipient, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Title)
	assert.Equal(t, "body", got[0].Message)
	assert.Equal(t, "e1", got[0].ExecutionID)

	// A failing row rolls back the whole batch.
	other := uuid.NewString()
	err = sink.Insert(ctx, []actions.Notification{
		{ID: dup, RecipientID: other, Title: "a"},
		{ID: dup, RecipientID: other, Title: "b"},
	})
	require.Error(t, err)
	got, err = sink.ListForRecipient(ctx, other, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testApprovals(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	approvals := s.Approvals()
	execID := uuid.NewString()

	anyID, err := approvals.Create(ctx, actions.ApprovalRequest{
		ExecutionID: execID, WorkflowID: "wf", StepIndex: 1, Title: "Approve expense",
		Approvers: []string{"u1", "u2"}, RequiredApprovals: 1, Rule: actions.ApprovalRuleAny,
	})
	require.NoError(t, err)
	allID, err := approvals.Create(ctx, actions.ApprovalRequest{
		ExecutionID: execID, WorkflowID: "wf", StepIndex: 1,
		Approvers: []string{"u1", "u2"}, RequiredApprovals: 1, Rule: actions.ApprovalRuleAll,
	})
	require.NoError(t, err)

	a, err := approvals.Get(ctx, anyID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalPending, a.Status)
	assert.Equal(t, []string{"u1", "u2"}, a.Approvers)

	_, err = approvals.Decide(ctx, anyID, Decision{ApproverID: "stranger", Approved: true})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	a, err = approvals.Decide(ctx, anyID, Decision{ApproverID: "u1", Approved: true})
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, a.Status)
	assert.NotNil(t, a.ResolvedAt)

	_, err = approvals.Decide(ctx, anyID, Decision{ApproverID: "u2", Approved: false})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	b, err := approvals.Decide(ctx, allID, Decision{ApproverID: "u1", Approved: true})
	require.NoError(t, err)
	assert.Equal(t, ApprovalPending, b.Status)
	b, err = approvals.Decide(ctx, allID, Decision{ApproverID: "u2", Approved: false})
	require.NoError(t, err)
	assert.Equal(t, ApprovalRejected, b.Status)
	assert.Len(t, b.Decisions, 2)

	list, err := approvals.ListForExecution(ctx, execID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = approvals.Get(ctx, "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}
