// Package queue layers retry and dead-letter policy on top of the durable
// job store. Workers claim jobs through it and report outcomes back; the
// queue decides between a backoff reschedule and the dead letter state.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/eventbus"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/persistence"
	"github.com/weftlabs/weft/pkg/resilience"
)

const (
	DefaultMaxAttempts   = 5
	DefaultStaleLockAge  = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

var ErrNoJobAvailable = persistence.ErrNoJobAvailable

type Queue struct {
	jobs      persistence.JobRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger

	retryPolicy  models.RetryPolicy
	staleLockAge time.Duration
}

type Option func(*Queue)

func WithRetryPolicy(policy models.RetryPolicy) Option {
	return func(q *Queue) { q.retryPolicy = policy }
}

func WithStaleLockAge(age time.Duration) Option {
	return func(q *Queue) { q.staleLockAge = age }
}

func NewQueue(jobs persistence.JobRepository, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...Option) *Queue {
	queue := &Queue{
		jobs:      jobs,
		publisher: publisher,
		logger:    logger.With("module", "queue"),
		retryPolicy: models.RetryPolicy{
			MaxAttempts: DefaultMaxAttempts,
			Strategy:    models.BackoffExponential,
			BaseDelayMs: 1000,
			MaxDelayMs:  5 * 60 * 1000,
			Jitter:      true,
		},
		staleLockAge: DefaultStaleLockAge,
	}

	for _, opt := range opts {
		opt(queue)
	}

	return queue
}

// EnqueueRun makes a pending run durable before anything executes it. If the
// process dies right after this call the run is still picked up on restart.
func (q *Queue) EnqueueRun(ctx context.Context, run *models.WorkflowRun, priority int) (*models.Job, error) {
	now := time.Now().UTC()

	job := &models.Job{
		ID:          uuid.New().String(),
		Kind:        models.JobKindExecuteRun,
		RunID:       run.ID,
		WorkflowID:  run.WorkflowID,
		Priority:    priority,
		Status:      models.JobStatusPending,
		MaxAttempts: q.retryPolicy.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
	}

	q.logger.DebugContext(ctx, "Job enqueued", "job_id", job.ID, "run_id", run.ID, "priority", priority)

	return job, nil
}

func (q *Queue) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	return q.jobs.Claim(ctx, workerID)
}

func (q *Queue) Complete(ctx context.Context, job *models.Job) error {
	return q.jobs.Complete(ctx, job.ID)
}

// ReportFailure records the attempt and decides the job's fate: reschedule
// with backoff when the error is retryable and the budget allows, otherwise
// move it to the dead letter state.
func (q *Queue) ReportFailure(ctx context.Context, job *models.Job, execErr error, startedAt time.Time) error {
	category := categorize(execErr)

	if err := q.jobs.RecordAttempt(ctx, &models.JobAttempt{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Attempt:   job.Attempts,
		WorkerID:  job.LockedBy,
		Error:     execErr.Error(),
		Category:  category,
		StartedAt: startedAt,
		EndedAt:   time.Now().UTC(),
	}); err != nil {
		q.logger.WarnContext(ctx, "Failed to record job attempt", "job_id", job.ID, "error", err)
	}

	if category.Retryable() && job.Attempts < job.MaxAttempts {
		delay := resilience.Delay(&q.retryPolicy, job.Attempts+1)
		retryAt := time.Now().UTC().Add(delay)

		q.logger.InfoContext(ctx, "Job rescheduled",
			"job_id", job.ID, "run_id", job.RunID,
			"attempt", job.Attempts, "max_attempts", job.MaxAttempts,
			"retry_in", delay.String(), "category", category)

		return q.jobs.Fail(ctx, job.ID, execErr.Error(), &retryAt)
	}

	q.logger.ErrorContext(ctx, "Job moved to dead letter",
		"job_id", job.ID, "run_id", job.RunID,
		"attempts", job.Attempts, "category", category, "error", execErr)

	if err := q.jobs.Fail(ctx, job.ID, execErr.Error(), nil); err != nil {
		return err
	}

	event := events.EngineError{
		BaseEvent: events.NewBaseEvent(events.EngineErrorEvent, job.WorkflowID),
		RunID:     job.RunID,
		JobID:     job.ID,
		Scope:     "queue",
		Error:     execErr.Error(),
		Attempt:   job.Attempts,
	}
	if err := q.publisher.Publish(ctx, job.WorkflowID, event); err != nil {
		q.logger.WarnContext(ctx, "Failed to publish engine error event", "job_id", job.ID, "error", err)
	}

	return nil
}

func (q *Queue) CancelPending(ctx context.Context, runID string) error {
	return q.jobs.DeletePendingByRunID(ctx, runID)
}

func (q *Queue) DeadJobs(ctx context.Context) ([]*models.Job, error) {
	return q.jobs.DeadJobs(ctx)
}

func (q *Queue) RetryDead(ctx context.Context, jobID string) error {
	return q.jobs.RetryDead(ctx, jobID)
}

func (q *Queue) DiscardDead(ctx context.Context, jobID string) error {
	return q.jobs.DiscardDead(ctx, jobID)
}

func (q *Queue) Attempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error) {
	return q.jobs.Attempts(ctx, jobID)
}

// SweepStaleLocks requeues jobs whose worker died mid-execution. Runs until
// the context is cancelled.
func (q *Queue) SweepStaleLocks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reset, err := q.jobs.ResetStaleLocks(ctx, q.staleLockAge)
			if err != nil {
				q.logger.ErrorContext(ctx, "Stale lock sweep failed", "error", err)

				continue
			}

			if reset > 0 {
				q.logger.WarnContext(ctx, "Reclaimed jobs from dead workers", "count", reset)
			}
		}
	}
}

func categorize(err error) models.ErrorCategory {
	var execErr *models.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Category
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorCategoryTimeout
	}

	if errors.Is(err, context.Canceled) {
		return models.ErrorCategoryCancelled
	}

	return models.ErrorCategoryTransient
}
