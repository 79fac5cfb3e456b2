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

type TriggerRepository struct {
	db *sqlx.DB
}

type triggerRow struct {
	ID            string       `db:"id"`
	WorkflowID    string       `db:"workflow_id"`
	Type          string       `db:"type"`
	State         string       `db:"state"`
	Configuration string       `db:"configuration"`
	LastFiredAt   sql.NullTime `db:"last_fired_at"`
	FireCount     int64        `db:"fire_count"`
	DroppedCount  int64        `db:"dropped_count"`
	FailureCount  int64        `db:"failure_count"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (row *triggerRow) toModel() (*models.Trigger, error) {
	trigger := &models.Trigger{
		ID:           row.ID,
		WorkflowID:   row.WorkflowID,
		Type:         row.Type,
		State:        models.TriggerState(row.State),
		FireCount:    row.FireCount,
		DroppedCount: row.DroppedCount,
		FailureCount: row.FailureCount,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}

	if row.LastFiredAt.Valid {
		t := row.LastFiredAt.Time
		trigger.LastFiredAt = &t
	}

	if err := unmarshalJSON(row.Configuration, &trigger.Configuration); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	configuration, err := marshalJSON(trigger.Configuration)
	if err != nil {
		return err
	}

	var lastFiredAt any
	if trigger.LastFiredAt != nil {
		lastFiredAt = *trigger.LastFiredAt
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO triggers (id, workflow_id, type, state, configuration, last_fired_at,
			fire_count, dropped_count, failure_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			type = excluded.type,
			state = excluded.state,
			configuration = excluded.configuration,
			last_fired_at = excluded.last_fired_at,
			fire_count = excluded.fire_count,
			dropped_count = excluded.dropped_count,
			failure_count = excluded.failure_count,
			updated_at = excluded.updated_at`,
		trigger.ID, trigger.WorkflowID, trigger.Type, trigger.State, configuration, lastFiredAt,
		trigger.FireCount, trigger.DroppedCount, trigger.FailureCount, trigger.CreatedAt, trigger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}

	return nil
}

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	row := &triggerRow{}

	err := r.db.GetContext(ctx, row, `SELECT * FROM triggers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTriggerNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch trigger: %w", err)
	}

	return row.toModel()
}

func (r *TriggerRepository) GetByWorkflowID(ctx context.Context, workflowID string) (*models.Trigger, error) {
	row := &triggerRow{}

	err := r.db.GetContext(ctx, row, `SELECT * FROM triggers WHERE workflow_id = ?`, workflowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTriggerNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch trigger by workflow: %w", err)
	}

	return row.toModel()
}

func (r *TriggerRepository) GetAll(ctx context.Context) ([]*models.Trigger, error) {
	rows := []*triggerRow{}

	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM triggers ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	triggers := make([]*models.Trigger, 0, len(rows))

	for _, row := range rows {
		trigger, err := row.toModel()
		if err != nil {
			return nil, err
		}

		triggers = append(triggers, trigger)
	}

	return triggers, nil
}

func (r *TriggerRepository) DeleteByWorkflowID(ctx context.Context, workflowID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM triggers WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete triggers for workflow: %w", err)
	}

	return nil
}

func (r *TriggerRepository) SaveEvent(ctx context.Context, event *models.TriggerEvent) error {
	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trigger_events (id, trigger_id, workflow_id, dedup_key, payload, fired_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.TriggerID, event.WorkflowID, event.DedupKey, payload, event.FiredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger event: %w", err)
	}

	return nil
}

// SaveEventOnce inserts the event only if no event with the same dedup key
// exists inside the window. Like the job claim, the affected-row count of one
// conditional statement is what makes deduplication race-free.
func (r *TriggerRepository) SaveEventOnce(ctx context.Context, event *models.TriggerEvent, window time.Duration) (bool, error) {
	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return false, err
	}

	cutoff := time.Now().UTC().Add(-window)

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO trigger_events (id, trigger_id, workflow_id, dedup_key, payload, fired_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM trigger_events WHERE dedup_key = ? AND fired_at >= ?
		)`,
		event.ID, event.TriggerID, event.WorkflowID, event.DedupKey, payload, event.FiredAt,
		event.DedupKey, cutoff,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save trigger event: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return inserted > 0, nil
}

func (r *TriggerRepository) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := r.db.ExecContext(ctx, `DELETE FROM trigger_events WHERE fired_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune trigger events: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return pruned, nil
}
