package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

const executionColumns = `id, workflow_id, workflow_version, organization_id, entity_type, entity_id,
	status, current_step, step_results, trigger_data, waiting_for, resume_at, error, version,
	started_at, updated_at, completed_at`

func (s *SQLStore) CreateExecution(ctx context.Context, exec *schema.WorkflowExecution, onceKey string) error {
	now := s.now()
	if exec.StartedAt.IsZero() {
		exec.StartedAt = now
	}
	exec.UpdatedAt = now
	exec.Version = 1

	results, trigger, err := encodeExecution(exec)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db,
		`INSERT INTO workflow_executions (`+executionColumns+`, once_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.WorkflowVersion, nullStr(exec.OrganizationID),
		nullStr(exec.EntityType), nullStr(exec.EntityID), string(exec.Status), exec.CurrentStep,
		results, trigger, nullStr(exec.WaitingFor), nullTime(exec.ResumeAt), nullStr(exec.Error),
		exec.Version, fmtTime(exec.StartedAt), fmtTime(exec.UpdatedAt), nullTime(exec.CompletedAt),
		nullStr(onceKey))
	if s.d.isUniqueViolation(err) {
		if onceKey != "" {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"workflow %q already ran for %s %q", exec.WorkflowID, exec.EntityType, exec.EntityID).
				WithDetails(map[string]any{"once_key": onceKey})
		}
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already exists", exec.ID)
	}
	if err != nil {
		return storeErr("insert execution", err)
	}
	return nil
}

func (s *SQLStore) GetExecution(ctx context.Context, id string) (*schema.WorkflowExecution, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, storeErr("get execution", err)
	}
	return exec, nil
}

func (s *SQLStore) UpdateExecution(ctx context.Context, exec *schema.WorkflowExecution) error {
	results, trigger, err := encodeExecution(exec)
	if err != nil {
		return err
	}
	now := s.now()
	res, err := s.exec(ctx, s.db,
		`UPDATE workflow_executions
		 SET status = ?, current_step = ?, step_results = ?, trigger_data = ?, waiting_for = ?,
		     resume_at = ?, error = ?, completed_at = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(exec.Status), exec.CurrentStep, results, trigger, nullStr(exec.WaitingFor),
		nullTime(exec.ResumeAt), nullStr(exec.Error), nullTime(exec.CompletedAt), fmtTime(now),
		exec.ID, exec.Version)
	if err != nil {
		return storeErr("update execution", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update execution", err)
	}
	if n == 0 {
		// Distinguish a missing row from a stale version.
		var current int
		err := s.queryRow(ctx, s.db, `SELECT version FROM workflow_executions WHERE id = ?`, exec.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return storeNotFound("execution", exec.ID)
		}
		return schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q was modified concurrently (version %d, stored %d)", exec.ID, exec.Version, current)
	}
	exec.Version++
	exec.UpdatedAt = now
	return nil
}

func (s *SQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	w := &where{}
	if filter.WorkflowID != "" {
		w.add("workflow_id = ?", filter.WorkflowID)
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	if filter.EntityType != "" {
		w.add("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		w.add("entity_id = ?", filter.EntityID)
	}
	if filter.ResumeBefore != nil {
		w.add("resume_at IS NOT NULL AND resume_at <= ?", fmtTime(*filter.ResumeBefore))
	}
	if filter.UpdatedBefore != nil {
		w.add("updated_at <= ?", fmtTime(*filter.UpdatedBefore))
	}
	query := `SELECT ` + executionColumns + ` FROM workflow_executions` + w.String() + ` ORDER BY started_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.query(ctx, s.db, query, w.args...)
	if err != nil {
		return nil, storeErr("list executions", err)
	}
	defer rows.Close()

	var out []*schema.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, storeErr("scan execution", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list executions", err)
	}
	return out, nil
}

func encodeExecution(exec *schema.WorkflowExecution) (results string, trigger any, err error) {
	steps := exec.StepResults
	if steps == nil {
		steps = []schema.StepResult{}
	}
	r, err := nullJSON(steps)
	if err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeValidation, "encode step results: %s", err.Error())
	}
	trigger, err = nullJSON(exec.TriggerData)
	if err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeValidation, "encode trigger data: %s", err.Error())
	}
	return r.(string), trigger, nil
}

func scanExecution(row scanner) (*schema.WorkflowExecution, error) {
	exec := &schema.WorkflowExecution{}
	var (
		orgID, entityType, entityID, trigger, waitingFor, resumeAt, errMsg, completedAt sql.NullString
		status, results, startedAt, updatedAt                                           string
	)
	if err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.WorkflowVersion, &orgID, &entityType, &entityID,
		&status, &exec.CurrentStep, &results, &trigger, &waitingFor, &resumeAt, &errMsg, &exec.Version,
		&startedAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	exec.OrganizationID = orgID.String
	exec.EntityType = entityType.String
	exec.EntityID = entityID.String
	exec.Status = schema.ExecutionStatus(status)
	exec.WaitingFor = waitingFor.String
	exec.Error = errMsg.String

	if err := unmarshalNull(sql.NullString{String: results, Valid: true}, &exec.StepResults); err != nil {
		return nil, fmt.Errorf("decode step results: %w", err)
	}
	if exec.StepResults == nil {
		exec.StepResults = []schema.StepResult{}
	}
	if err := unmarshalNull(trigger, &exec.TriggerData); err != nil {
		return nil, fmt.Errorf("decode trigger data: %w", err)
	}

	var err error
	if exec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if exec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if exec.ResumeAt, err = parseNullTime(resumeAt); err != nil {
		return nil, err
	}
	if exec.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return exec, nil
}
