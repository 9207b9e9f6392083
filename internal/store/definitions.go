package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

const definitionColumns = `d.workflow_id, d.version, d.organization_id, d.name, d.entity_type,
	d.graph, d.steps, d.run_once_per_entity, d.created_at, w.is_active, w.updated_at`

const definitionFrom = ` FROM workflow_definitions d JOIN workflows w ON w.id = d.workflow_id`

func (s *SQLStore) CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := s.now()
	def.Version = 1
	def.CreatedAt, def.UpdatedAt = now, now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx,
			`INSERT INTO workflows (id, latest_version, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			def.ID, 1, def.IsActive, fmtTime(now), fmtTime(now))
		if s.d.isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already exists", def.ID)
		}
		if err != nil {
			return storeErr("insert workflow", err)
		}
		return s.insertVersion(ctx, tx, def)
	})
}

func (s *SQLStore) SaveDefinitionVersion(ctx context.Context, def *schema.WorkflowDefinition) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var latest int
		var active bool
		err := s.queryRow(ctx, tx, `SELECT latest_version, is_active FROM workflows WHERE id = ?`, def.ID).
			Scan(&latest, &active)
		if errors.Is(err, sql.ErrNoRows) {
			return storeNotFound("workflow", def.ID)
		}
		if err != nil {
			return storeErr("read workflow", err)
		}

		now := s.now()
		def.Version = latest + 1
		def.CreatedAt, def.UpdatedAt = now, now
		def.IsActive = active

		// The latest_version guard serialises concurrent editors.
		res, err := s.exec(ctx, tx,
			`UPDATE workflows SET latest_version = ?, updated_at = ? WHERE id = ? AND latest_version = ?`,
			def.Version, fmtTime(now), def.ID, latest)
		if err != nil {
			return storeErr("update workflow", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q was modified concurrently", def.ID)
		}
		return s.insertVersion(ctx, tx, def)
	})
}

func (s *SQLStore) insertVersion(ctx context.Context, tx *sql.Tx, def *schema.WorkflowDefinition) error {
	graph, err := nullJSON(def.Graph)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "encode graph: %s", err.Error())
	}
	var steps any
	if len(def.Steps) > 0 {
		if steps, err = nullJSON(def.Steps); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "encode steps: %s", err.Error())
		}
	}
	_, err = s.exec(ctx, tx,
		`INSERT INTO workflow_definitions (workflow_id, version, organization_id, name, entity_type, graph, steps, run_once_per_entity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Version, nullStr(def.OrganizationID), def.Name, nullStr(def.EntityType),
		graph, steps, def.RunOncePerEntity, fmtTime(def.CreatedAt))
	if s.d.isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q version %d already exists", def.ID, def.Version)
	}
	if err != nil {
		return storeErr("insert definition", err)
	}
	return nil
}

func (s *SQLStore) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	row := s.queryRow(ctx, s.db,
		`SELECT `+definitionColumns+definitionFrom+` WHERE d.workflow_id = ? AND d.version = w.latest_version`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, storeErr("get definition", err)
	}
	return def, nil
}

func (s *SQLStore) GetDefinitionVersion(ctx context.Context, id string, version int) (*schema.WorkflowDefinition, error) {
	row := s.queryRow(ctx, s.db,
		`SELECT `+definitionColumns+definitionFrom+` WHERE d.workflow_id = ? AND d.version = ?`, id, version)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow version", fmt.Sprintf("%s@%d", id, version))
	}
	if err != nil {
		return nil, storeErr("get definition version", err)
	}
	return def, nil
}

func (s *SQLStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	w := &where{}
	w.clauses = append(w.clauses, "d.version = w.latest_version")
	if filter.OrganizationID != "" {
		w.add("d.organization_id = ?", filter.OrganizationID)
	}
	if filter.EntityType != "" {
		w.add("d.entity_type = ?", filter.EntityType)
	}
	if filter.ActiveOnly {
		w.add("w.is_active = ?", true)
	}
	query := `SELECT ` + definitionColumns + definitionFrom + w.String() + ` ORDER BY d.name, d.workflow_id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.listDefinitions(ctx, query, w.args...)
}

func (s *SQLStore) ListDefinitionVersions(ctx context.Context, id string) ([]*schema.WorkflowDefinition, error) {
	defs, err := s.listDefinitions(ctx,
		`SELECT `+definitionColumns+definitionFrom+` WHERE d.workflow_id = ? ORDER BY d.version`, id)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, storeNotFound("workflow", id)
	}
	return defs, nil
}

func (s *SQLStore) listDefinitions(ctx context.Context, query string, args ...any) ([]*schema.WorkflowDefinition, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, storeErr("list definitions", err)
	}
	defer rows.Close()

	var out []*schema.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, storeErr("scan definition", err)
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list definitions", err)
	}
	return out, nil
}

func (s *SQLStore) SetDefinitionActive(ctx context.Context, id string, active bool) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE workflows SET is_active = ?, updated_at = ? WHERE id = ?`, active, fmtTime(s.now()), id)
	if err != nil {
		return storeErr("set active", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row scanner) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{}
	var (
		orgID, entityType, graph, steps sql.NullString
		createdAt, updatedAt            string
	)
	if err := row.Scan(&def.ID, &def.Version, &orgID, &def.Name, &entityType,
		&graph, &steps, &def.RunOncePerEntity, &createdAt, &def.IsActive, &updatedAt); err != nil {
		return nil, err
	}
	def.OrganizationID = orgID.String
	def.EntityType = entityType.String
	if graph.Valid && graph.String != "" {
		def.Graph = &schema.Graph{}
		if err := unmarshalNull(graph, def.Graph); err != nil {
			return nil, fmt.Errorf("decode graph: %w", err)
		}
	}
	if err := unmarshalNull(steps, &def.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	var err error
	if def.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if def.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return def, nil
}
