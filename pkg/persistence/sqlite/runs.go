package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/persistence"
)

type RunRepository struct {
	db *sqlx.DB
}

type runRow struct {
	ID              string       `db:"id"`
	WorkflowID      string       `db:"workflow_id"`
	WorkflowVersion int          `db:"workflow_version"`
	TriggerEventID  string       `db:"trigger_event_id"`
	Status          string       `db:"status"`
	Context         string       `db:"context"`
	Error           string       `db:"error"`
	CancelRequested bool         `db:"cancel_requested"`
	CreatedAt       time.Time    `db:"created_at"`
	StartedAt       sql.NullTime `db:"started_at"`
	FinishedAt      sql.NullTime `db:"finished_at"`
}

func (row *runRow) toModel() (*models.WorkflowRun, error) {
	run := &models.WorkflowRun{
		ID:              row.ID,
		WorkflowID:      row.WorkflowID,
		WorkflowVersion: row.WorkflowVersion,
		TriggerEventID:  row.TriggerEventID,
		Status:          models.RunStatus(row.Status),
		Error:           row.Error,
		CreatedAt:       row.CreatedAt,
	}

	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		run.StartedAt = &t
	}

	if row.FinishedAt.Valid {
		t := row.FinishedAt.Time
		run.FinishedAt = &t
	}

	if row.Context != "" && row.Context != "{}" {
		run.Context = &models.RunContext{}
		if err := unmarshalJSON(row.Context, run.Context); err != nil {
			return nil, err
		}
	}

	return run, nil
}

func (r *RunRepository) Create(ctx context.Context, run *models.WorkflowRun) error {
	runContext, err := marshalJSON(run.Context)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, workflow_version, trigger_event_id, status, context, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.WorkflowVersion, run.TriggerEventID,
		run.Status, runContext, run.Error, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	row := &runRow{}

	err := r.db.GetContext(ctx, row, `SELECT * FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrRunNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch run: %w", err)
	}

	return row.toModel()
}

// Update persists run mutations. The status guard keeps terminal runs
// immutable at the store level, not just by convention.
func (r *RunRepository) Update(ctx context.Context, run *models.WorkflowRun) error {
	runContext, err := marshalJSON(run.Context)
	if err != nil {
		return err
	}

	var startedAt, finishedAt any
	if run.StartedAt != nil {
		startedAt = *run.StartedAt
	}

	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, context = ?, error = ?, started_at = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		run.Status, runContext, run.Error, startedAt, finishedAt,
		run.ID, models.RunStatusPending, models.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		existing, err := r.GetByID(ctx, run.ID)
		if err != nil {
			return err
		}

		if existing.Status.Terminal() {
			return persistence.ErrRunImmutable
		}

		return persistence.ErrRunNotFound
	}

	return nil
}

func (r *RunRepository) CountActive(ctx context.Context, workflowID string) (int, error) {
	var count int

	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(1) FROM runs WHERE workflow_id = ? AND status IN (?, ?)`,
		workflowID, models.RunStatusPending, models.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to count active runs: %w", err)
	}

	return count, nil
}

func (r *RunRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows := []*runRow{}

	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM runs WHERE workflow_id = ? ORDER BY created_at DESC LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*models.WorkflowRun, 0, len(rows))

	for _, row := range rows {
		run, err := row.toModel()
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, nil
}

func (r *RunRepository) RequestCancel(ctx context.Context, runID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET cancel_requested = 1 WHERE id = ? AND status IN (?, ?)`,
		runID, models.RunStatusPending, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrRunNotFound
	}

	return nil
}

func (r *RunRepository) CancelRequested(ctx context.Context, runID string) (bool, error) {
	var requested bool

	err := r.db.GetContext(ctx, &requested, `SELECT cancel_requested FROM runs WHERE id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, persistence.ErrRunNotFound
	}

	if err != nil {
		return false, fmt.Errorf("failed to query cancel flag: %w", err)
	}

	return requested, nil
}

func (r *RunRepository) AppendNodeRun(ctx context.Context, nodeRun *models.NodeRun) error {
	input, err := marshalJSON(nodeRun.Input)
	if err != nil {
		return err
	}

	output, err := marshalJSON(nodeRun.Output)
	if err != nil {
		return err
	}

	var finishedAt any
	if nodeRun.FinishedAt != nil {
		finishedAt = *nodeRun.FinishedAt
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO node_runs (id, run_id, node_id, attempt, status, input, output, error, category, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nodeRun.ID, nodeRun.RunID, nodeRun.NodeID, nodeRun.Attempt, nodeRun.Status,
		input, output, nodeRun.Error, nodeRun.Category, nodeRun.StartedAt, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append node run: %w", err)
	}

	return nil
}

func (r *RunRepository) NodeRuns(ctx context.Context, runID string) ([]*models.NodeRun, error) {
	type nodeRunRow struct {
		ID         string       `db:"id"`
		RunID      string       `db:"run_id"`
		NodeID     string       `db:"node_id"`
		Attempt    int          `db:"attempt"`
		Status     string       `db:"status"`
		Input      string       `db:"input"`
		Output     string       `db:"output"`
		Error      string       `db:"error"`
		Category   string       `db:"category"`
		StartedAt  time.Time    `db:"started_at"`
		FinishedAt sql.NullTime `db:"finished_at"`
	}

	rows := []*nodeRunRow{}

	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM node_runs WHERE run_id = ? ORDER BY started_at ASC, attempt ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node runs: %w", err)
	}

	nodeRuns := make([]*models.NodeRun, 0, len(rows))

	for _, row := range rows {
		nodeRun := &models.NodeRun{
			ID:        row.ID,
			RunID:     row.RunID,
			NodeID:    row.NodeID,
			Attempt:   row.Attempt,
			Status:    models.NodeRunStatus(row.Status),
			Error:     row.Error,
			Category:  models.ErrorCategory(row.Category),
			StartedAt: row.StartedAt,
		}

		if row.FinishedAt.Valid {
			t := row.FinishedAt.Time
			nodeRun.FinishedAt = &t
		}

		if row.Input != "null" {
			var input any
			if err := json.Unmarshal([]byte(row.Input), &input); err == nil {
				nodeRun.Input = input
			}
		}

		if row.Output != "null" {
			var output any
			if err := json.Unmarshal([]byte(row.Output), &output); err == nil {
				nodeRun.Output = output
			}
		}

		nodeRuns = append(nodeRuns, nodeRun)
	}

	return nodeRuns, nil
}
