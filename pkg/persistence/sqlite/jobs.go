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

type JobRepository struct {
	db *sqlx.DB
}

type jobRow struct {
	ID          string       `db:"id"`
	Kind        string       `db:"kind"`
	RunID       string       `db:"run_id"`
	WorkflowID  string       `db:"workflow_id"`
	Priority    int          `db:"priority"`
	Status      string       `db:"status"`
	Attempts    int          `db:"attempts"`
	MaxAttempts int          `db:"max_attempts"`
	NextRetryAt sql.NullTime `db:"next_retry_at"`
	LockedBy    string       `db:"locked_by"`
	LockedAt    sql.NullTime `db:"locked_at"`
	LastError   string       `db:"last_error"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (row *jobRow) toModel() *models.Job {
	job := &models.Job{
		ID:          row.ID,
		Kind:        models.JobKind(row.Kind),
		RunID:       row.RunID,
		WorkflowID:  row.WorkflowID,
		Priority:    row.Priority,
		Status:      models.JobStatus(row.Status),
		Attempts:    row.Attempts,
		MaxAttempts: row.MaxAttempts,
		LockedBy:    row.LockedBy,
		LastError:   row.LastError,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}

	if row.NextRetryAt.Valid {
		t := row.NextRetryAt.Time
		job.NextRetryAt = &t
	}

	if row.LockedAt.Valid {
		t := row.LockedAt.Time
		job.LockedAt = &t
	}

	return job
}

func (r *JobRepository) Enqueue(ctx context.Context, job *models.Job) error {
	var nextRetryAt any
	if job.NextRetryAt != nil {
		nextRetryAt = *job.NextRetryAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, run_id, workflow_id, priority, status, attempts, max_attempts,
			next_retry_at, locked_by, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`,
		job.ID, job.Kind, job.RunID, job.WorkflowID, job.Priority, job.Status,
		job.Attempts, job.MaxAttempts, nextRetryAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := &jobRow{}

	err := r.db.GetContext(ctx, row, `SELECT * FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrJobNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	return row.toModel(), nil
}

// Claim selects the best eligible pending job and locks it in the same
// transaction. The conditional update's affected-row count is what makes the
// claim exactly-once under concurrent workers.
func (r *JobRepository) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	row := &jobRow{}

	err = tx.GetContext(ctx, row, `
		SELECT * FROM jobs
		WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`,
		models.JobStatusPending, now,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNoJobAvailable
	}

	if err != nil {
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, locked_by = ?, locked_at = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.JobStatusProcessing, workerID, now, now, row.ID, models.JobStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		// Lost the race to another worker inside the same window.
		return nil, persistence.ErrNoJobAvailable
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job := row.toModel()
	job.Status = models.JobStatusProcessing
	job.Attempts++
	job.LockedBy = workerID
	job.LockedAt = &now
	job.UpdatedAt = now

	return job, nil
}

func (r *JobRepository) Complete(ctx context.Context, jobID string) error {
	return r.transition(ctx, jobID, models.JobStatusProcessing, models.JobStatusCompleted, "", nil)
}

func (r *JobRepository) Fail(ctx context.Context, jobID string, lastError string, retryAt *time.Time) error {
	if retryAt == nil {
		return r.transition(ctx, jobID, models.JobStatusProcessing, models.JobStatusDead, lastError, nil)
	}

	return r.transition(ctx, jobID, models.JobStatusProcessing, models.JobStatusPending, lastError, retryAt)
}

func (r *JobRepository) transition(ctx context.Context, jobID string, from, to models.JobStatus, lastError string, retryAt *time.Time) error {
	var nextRetryAt any
	if retryAt != nil {
		nextRetryAt = *retryAt
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, locked_by = '', locked_at = NULL, next_retry_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, nextRetryAt, lastError, time.Now().UTC(), jobID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to transition job to %s: %w", to, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrJobNotFound
	}

	return nil
}

func (r *JobRepository) DeletePendingByRunID(ctx context.Context, runID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE run_id = ? AND status = ?`, runID, models.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to delete pending jobs for run: %w", err)
	}

	return nil
}

func (r *JobRepository) ResetStaleLocks(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)

	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, locked_by = '', locked_at = NULL, updated_at = ?
		WHERE status = ? AND locked_at IS NOT NULL AND locked_at < ?`,
		models.JobStatusPending, time.Now().UTC(), models.JobStatusProcessing, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale locks: %w", err)
	}

	reset, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return reset, nil
}

func (r *JobRepository) DeadJobs(ctx context.Context) ([]*models.Job, error) {
	rows := []*jobRow{}

	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM jobs WHERE status = ? ORDER BY updated_at ASC`, models.JobStatusDead)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toModel())
	}

	return jobs, nil
}

// RetryDead requeues a dead job with a fresh attempt budget.
func (r *JobRepository) RetryDead(ctx context.Context, jobID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, attempts = 0, next_retry_at = NULL, last_error = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		models.JobStatusPending, time.Now().UTC(), jobID, models.JobStatusDead,
	)
	if err != nil {
		return fmt.Errorf("failed to retry dead job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrNotDead
	}

	return nil
}

func (r *JobRepository) DiscardDead(ctx context.Context, jobID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = ? AND status = ?`, jobID, models.JobStatusDead)
	if err != nil {
		return fmt.Errorf("failed to discard dead job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrNotDead
	}

	return nil
}

func (r *JobRepository) RecordAttempt(ctx context.Context, attempt *models.JobAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_attempts (id, job_id, attempt, worker_id, error, category, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.JobID, attempt.Attempt, attempt.WorkerID,
		attempt.Error, attempt.Category, attempt.StartedAt, attempt.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job attempt: %w", err)
	}

	return nil
}

func (r *JobRepository) Attempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error) {
	type attemptRow struct {
		ID        string    `db:"id"`
		JobID     string    `db:"job_id"`
		Attempt   int       `db:"attempt"`
		WorkerID  string    `db:"worker_id"`
		Error     string    `db:"error"`
		Category  string    `db:"category"`
		StartedAt time.Time `db:"started_at"`
		EndedAt   time.Time `db:"ended_at"`
	}

	rows := []*attemptRow{}

	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM job_attempts WHERE job_id = ? ORDER BY attempt ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job attempts: %w", err)
	}

	attempts := make([]*models.JobAttempt, 0, len(rows))

	for _, row := range rows {
		attempts = append(attempts, &models.JobAttempt{
			ID:        row.ID,
			JobID:     row.JobID,
			Attempt:   row.Attempt,
			WorkerID:  row.WorkerID,
			Error:     row.Error,
			Category:  models.ErrorCategory(row.Category),
			StartedAt: row.StartedAt,
			EndedAt:   row.EndedAt,
		})
	}

	return attempts, nil
}
