package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// AppendEvent appends an event and sets its ID and timestamp. IDs increase
// monotonically, so they double as a stream cursor.
func (s *SQLStore) AppendEvent(ctx context.Context, event *schema.ExecutionEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	var payload any
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}
	var step any
	if event.StepIndex != nil {
		step = *event.StepIndex
	}
	err := s.queryRow(ctx, s.db,
		`INSERT INTO execution_events (execution_id, event_type, step_index, payload, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`,
		event.ExecutionID, event.Type, step, payload, fmtTime(event.CreatedAt),
	).Scan(&event.ID)
	if err != nil {
		return storeErr("append event", err)
	}
	return nil
}

func (s *SQLStore) ListEvents(ctx context.Context, executionID string, sinceID int64) ([]*schema.ExecutionEvent, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT id, execution_id, event_type, step_index, payload, created_at
		 FROM execution_events WHERE execution_id = ? AND id > ? ORDER BY id`, executionID, sinceID)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	defer rows.Close()

	var out []*schema.ExecutionEvent
	for rows.Next() {
		ev := &schema.ExecutionEvent{}
		var (
			step      sql.NullInt64
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.ExecutionID, &ev.Type, &step, &payload, &createdAt); err != nil {
			return nil, storeErr("scan event", err)
		}
		if step.Valid {
			idx := int(step.Int64)
			ev.StepIndex = &idx
		}
		if payload.Valid && payload.String != "" {
			ev.Payload = json.RawMessage(payload.String)
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storeErr("scan event", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list events", err)
	}
	return out, nil
}
