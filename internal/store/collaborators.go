package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// The same database backs reference implementations of the action
// collaborators, so a single-node deployment needs nothing else.

// Entities returns the entity table as an actions.EntityStore.
func (s *SQLStore) Entities() *EntityTable { return &EntityTable{s: s} }

// Notifications returns the notification table as an actions.NotificationSink.
func (s *SQLStore) Notifications() *NotificationTable { return &NotificationTable{s: s} }

// Approvals returns the approval table as an actions.ApprovalService.
func (s *SQLStore) Approvals() *ApprovalTable { return &ApprovalTable{s: s} }

var (
	_ actions.EntityStore      = (*EntityTable)(nil)
	_ actions.NotificationSink = (*NotificationTable)(nil)
	_ actions.ApprovalService  = (*ApprovalTable)(nil)
)

// --- Entities ---

// EntityTable stores business records as JSON documents keyed by type and id.
type EntityTable struct{ s *SQLStore }

func (t *EntityTable) Get(ctx context.Context, entityType, entityID string) (map[string]any, error) {
	return t.get(ctx, t.s.db, entityType, entityID)
}

func (t *EntityTable) get(ctx context.Context, q execer, entityType, entityID string) (map[string]any, error) {
	var data string
	err := t.s.queryRow(ctx, q, `SELECT data FROM entities WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound(entityType, entityID)
	}
	if err != nil {
		return nil, storeErr("get entity", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, storeErr("decode entity", err)
	}
	return out, nil
}

// Put creates or replaces an entity document.
func (t *EntityTable) Put(ctx context.Context, entityType, entityID string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "encode entity: %s", err.Error())
	}
	_, err = t.s.exec(ctx, t.s.db,
		`INSERT INTO entities (entity_type, entity_id, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (entity_type, entity_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		entityType, entityID, string(raw), fmtTime(t.s.now()))
	if err != nil {
		return storeErr("put entity", err)
	}
	return nil
}

// Patch merges fields into an existing entity.
func (t *EntityTable) Patch(ctx context.Context, entityType, entityID string, fields map[string]any) error {
	return t.s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := t.get(ctx, tx, entityType, entityID)
		if err != nil {
			return err
		}
		for k, v := range fields {
			current[k] = v
		}
		raw, err := json.Marshal(current)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "encode entity: %s", err.Error())
		}
		_, err = t.s.exec(ctx, tx,
			`UPDATE entities SET data = ?, updated_at = ? WHERE entity_type = ? AND entity_id = ?`,
			string(raw), fmtTime(t.s.now()), entityType, entityID)
		if err != nil {
			return storeErr("patch entity", err)
		}
		return nil
	})
}

// --- Notifications ---

// NotificationTable persists in-app notifications.
type NotificationTable struct{ s *SQLStore }

// Insert writes all notifications in one transaction.
func (t *NotificationTable) Insert(ctx context.Context, notifications []actions.Notification) error {
	return t.s.inTx(ctx, func(tx *sql.Tx) error {
		for _, n := range notifications {
			created := n.CreatedAt
			if created.IsZero() {
				created = t.s.now()
			}
			_, err := t.s.exec(ctx, tx,
				`INSERT INTO notifications (id, recipient_id, title, message, entity_type, entity_id, execution_id, workflow_id, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				n.ID, n.RecipientID, n.Title, nullStr(n.Message), nullStr(n.EntityType), nullStr(n.EntityID),
				nullStr(n.ExecutionID), nullStr(n.WorkflowID), fmtTime(created))
			if err != nil {
				return storeErr("insert notification", err)
			}
		}
		return nil
	})
}

// ListForRecipient returns a recipient's notifications, newest first.
func (t *NotificationTable) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]actions.Notification, error) {
	query := `SELECT id, recipient_id, title, message, entity_type, entity_id, execution_id, workflow_id, created_at
		 FROM notifications WHERE recipient_id = ? ORDER BY created_at DESC, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := t.s.query(ctx, t.s.db, query, recipientID)
	if err != nil {
		return nil, storeErr("list notifications", err)
	}
	defer rows.Close()

	var out []actions.Notification
	for rows.Next() {
		var (
			n                                                 actions.Notification
			message, entityType, entityID, execID, workflowID sql.NullString
			createdAt                                         string
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &message, &entityType, &entityID,
			&execID, &workflowID, &createdAt); err != nil {
			return nil, storeErr("scan notification", err)
		}
		n.Message, n.EntityType, n.EntityID = message.String, entityType.String, entityID.String
		n.ExecutionID, n.WorkflowID = execID.String, workflowID.String
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storeErr("scan notification", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list notifications", err)
	}
	return out, nil
}

// --- Approvals ---

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Decision is one approver's vote.
type Decision struct {
	ApproverID string    `json:"approverId"`
	Approved   bool      `json:"approved"`
	Comment    string    `json:"comment,omitempty"`
	DecidedAt  time.Time `json:"decidedAt"`
}

// Approval is a persisted approval request and its votes.
type Approval struct {
	ID string `json:"id"`
	actions.ApprovalRequest
	Status     string     `json:"status"`
	Decisions  []Decision `json:"decisions"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// ApprovalTable persists approval requests.
type ApprovalTable struct{ s *SQLStore }

func (t *ApprovalTable) Create(ctx context.Context, req actions.ApprovalRequest) (string, error) {
	id := uuid.NewString()
	approvers, err := json.Marshal(req.Approvers)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "encode approvers: %s", err.Error())
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = t.s.now()
	}
	rule := req.Rule
	if rule == "" {
		rule = actions.ApprovalRuleAny
	}
	_, err = t.s.exec(ctx, t.s.db,
		`INSERT INTO approvals (id, execution_id, workflow_id, step_index, entity_type, entity_id, title, approvers, required_approvals, rule, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.ExecutionID, nullStr(req.WorkflowID), req.StepIndex, nullStr(req.EntityType), nullStr(req.EntityID),
		nullStr(req.Title), string(approvers), req.RequiredApprovals, rule, ApprovalPending, fmtTime(created))
	if err != nil {
		return "", storeErr("insert approval", err)
	}
	return id, nil
}

const approvalColumns = `id, execution_id, workflow_id, step_index, entity_type, entity_id, title, approvers,
	required_approvals, rule, status, decisions, created_at, resolved_at`

func (t *ApprovalTable) Get(ctx context.Context, id string) (*Approval, error) {
	return t.get(ctx, t.s.db, id)
}

func (t *ApprovalTable) get(ctx context.Context, q execer, id string) (*Approval, error) {
	a, err := scanApproval(t.s.queryRow(ctx, q, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("approval", id)
	}
	if err != nil {
		return nil, storeErr("get approval", err)
	}
	return a, nil
}

// ListForExecution returns the approvals an execution opened.
func (t *ApprovalTable) ListForExecution(ctx context.Context, executionID string) ([]*Approval, error) {
	rows, err := t.s.query(ctx, t.s.db,
		`SELECT `+approvalColumns+` FROM approvals WHERE execution_id = ? ORDER BY created_at, id`, executionID)
	if err != nil {
		return nil, storeErr("list approvals", err)
	}
	defer rows.Close()
	var out []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, storeErr("scan approval", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list approvals", err)
	}
	return out, nil
}

// Decide records an approver's vote and resolves the request once the rule
// is satisfied or can no longer be. A later vote by the same approver
// replaces the earlier one.
func (t *ApprovalTable) Decide(ctx context.Context, id string, d Decision) (*Approval, error) {
	var out *Approval
	err := t.s.inTx(ctx, func(tx *sql.Tx) error {
		a, err := t.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status != ApprovalPending {
			return schema.NewErrorf(schema.ErrCodeConflict, "approval %q is already %s", id, a.Status)
		}
		if !slices.Contains(a.Approvers, d.ApproverID) {
			return schema.NewErrorf(schema.ErrCodeValidation, "%q is not an approver of %q", d.ApproverID, id)
		}
		if d.DecidedAt.IsZero() {
			d.DecidedAt = t.s.now()
		}
		a.Decisions = slices.DeleteFunc(a.Decisions, func(x Decision) bool { return x.ApproverID == d.ApproverID })
		a.Decisions = append(a.Decisions, d)
		a.Status = a.outcome()
		if a.Status != ApprovalPending {
			now := t.s.now()
			a.ResolvedAt = &now
		}

		decisions, err := json.Marshal(a.Decisions)
		if err != nil {
			return storeErr("encode decisions", err)
		}
		res, err := t.s.exec(ctx, tx,
			`UPDATE approvals SET decisions = ?, status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
			string(decisions), a.Status, nullTime(a.ResolvedAt), id, ApprovalPending)
		if err != nil {
			return storeErr("update approval", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return schema.NewErrorf(schema.ErrCodeConflict, "approval %q was resolved concurrently", id)
		}
		out = a
		return nil
	})
	return out, err
}

// outcome applies the approval rule to the recorded votes.
func (a *Approval) outcome() string {
	approved, rejected := 0, 0
	for _, d := range a.Decisions {
		if d.Approved {
			approved++
		} else {
			rejected++
		}
	}
	required := a.RequiredApprovals
	if a.Rule == actions.ApprovalRuleAll {
		required = len(a.Approvers)
	}
	if required < 1 {
		required = 1
	}
	switch {
	case approved >= required:
		return ApprovalApproved
	case len(a.Approvers)-rejected < required:
		return ApprovalRejected
	default:
		return ApprovalPending
	}
}

func scanApproval(row scanner) (*Approval, error) {
	a := &Approval{}
	var (
		workflowID, entityType, entityID, title, resolvedAt sql.NullString
		approvers, decisions, createdAt                     string
	)
	if err := row.Scan(&a.ID, &a.ExecutionID, &workflowID, &a.StepIndex, &entityType, &entityID, &title,
		&approvers, &a.RequiredApprovals, &a.Rule, &a.Status, &decisions, &createdAt, &resolvedAt); err != nil {
		return nil, err
	}
	a.WorkflowID, a.EntityType, a.EntityID, a.Title = workflowID.String, entityType.String, entityID.String, title.String
	if err := json.Unmarshal([]byte(approvers), &a.Approvers); err != nil {
		return nil, fmt.Errorf("decode approvers: %w", err)
	}
	if err := json.Unmarshal([]byte(decisions), &a.Decisions); err != nil {
		return nil, fmt.Errorf("decode decisions: %w", err)
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	return a, nil
}
