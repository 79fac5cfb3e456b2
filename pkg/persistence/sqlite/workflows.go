package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/persistence"
)

// WorkflowRepository stores definitions in two tables: a current-state row per
// workflow and an immutable snapshot per version.
type WorkflowRepository struct {
	db *sqlx.DB
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	definition, err := marshalJSON(workflow)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, status, version, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			version = excluded.version,
			definition = excluded.definition,
			updated_at = excluded.updated_at`,
		workflow.ID, workflow.Name, workflow.Description, workflow.Status,
		workflow.Version, definition, workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_versions (workflow_id, version, definition, schema_version, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (workflow_id, version) DO NOTHING`,
		workflow.ID, workflow.Version, definition, models.CurrentSchemaVersion, workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow save: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	var definition string

	err := r.db.GetContext(ctx, &definition, `SELECT definition FROM workflows WHERE id = ? AND status != ?`, id, models.WorkflowStatusDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow: %w", err)
	}

	workflow := &models.Workflow{}
	if err := unmarshalJSON(definition, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *WorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	var definition string

	err := r.db.GetContext(ctx, &definition,
		`SELECT definition FROM workflow_versions WHERE workflow_id = ? AND version = ?`, id, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrVersionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow version: %w", err)
	}

	workflow := &models.Workflow{}
	if err := unmarshalJSON(definition, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	var definitions []string

	err := r.db.SelectContext(ctx, &definitions,
		`SELECT definition FROM workflows WHERE status != ? ORDER BY created_at ASC`, models.WorkflowStatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(definitions))

	for _, definition := range definitions {
		workflow := &models.Workflow{}
		if err := unmarshalJSON(definition, workflow); err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// Delete soft-deletes the current row. Version snapshots are retained so
// in-flight runs pinned to an older version can still resolve it.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		models.WorkflowStatusDeleted, time.Now().UTC(), id, models.WorkflowStatusDeleted)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}
