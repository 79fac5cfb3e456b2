// Package persistence provides the data storage abstraction for workflows,
// triggers, runs, and the durable job queue.
package persistence

import (
	"context"
	"time"

	"github.com/weftlabs/weft/pkg/models"
)

// Persistence is the embedded transactional store consumed by the engine.
// All cross-worker coordination (claiming, versioning, dedup) goes through
// store transactions.
type Persistence interface {
	Workflows() WorkflowRepository
	Triggers() TriggerRepository
	Runs() RunRepository
	Jobs() JobRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions and their immutable versions.
type WorkflowRepository interface {
	// Save persists the definition and records a version snapshot. The caller
	// bumps Version; Save never mutates an existing version row.
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error)
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// TriggerRepository stores trigger runtime state and fired events, including
// the deduplication window query.
type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.Trigger) error
	GetByID(ctx context.Context, id string) (*models.Trigger, error)
	GetByWorkflowID(ctx context.Context, workflowID string) (*models.Trigger, error)
	GetAll(ctx context.Context) ([]*models.Trigger, error)
	DeleteByWorkflowID(ctx context.Context, workflowID string) error

	SaveEvent(ctx context.Context, event *models.TriggerEvent) error
	// SaveEventOnce records the event unless one with the same dedup key was
	// recorded within the window ending now. The check and the insert are a
	// single statement so concurrent fires cannot both pass; returns false
	// when the event was dropped as a duplicate.
	SaveEventOnce(ctx context.Context, event *models.TriggerEvent, window time.Duration) (bool, error)
	PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RunRepository stores workflow runs and their append-only node attempt
// records.
type RunRepository interface {
	Create(ctx context.Context, run *models.WorkflowRun) error
	GetByID(ctx context.Context, id string) (*models.WorkflowRun, error)
	// Update persists run mutations. Terminal runs are immutable; updating
	// one returns ErrRunImmutable.
	Update(ctx context.Context, run *models.WorkflowRun) error
	CountActive(ctx context.Context, workflowID string) (int, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowRun, error)

	RequestCancel(ctx context.Context, runID string) error
	CancelRequested(ctx context.Context, runID string) (bool, error)

	AppendNodeRun(ctx context.Context, nodeRun *models.NodeRun) error
	NodeRuns(ctx context.Context, runID string) ([]*models.NodeRun, error)
}

// JobRepository is the durable queue table. Claim is the sole exactly-once
// mechanism: the select and the lock stamp happen in one transaction.
type JobRepository interface {
	Enqueue(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	// Claim picks the highest-priority, earliest-created pending job whose
	// next_retry_at has elapsed and atomically marks it processing. Returns
	// ErrNoJobAvailable when the queue is drained.
	Claim(ctx context.Context, workerID string) (*models.Job, error)
	Complete(ctx context.Context, jobID string) error
	// Fail reschedules the job for retryAt, or moves it to dead when retryAt
	// is nil.
	Fail(ctx context.Context, jobID string, lastError string, retryAt *time.Time) error
	DeletePendingByRunID(ctx context.Context, runID string) error
	// ResetStaleLocks returns processing jobs whose lock exceeded staleAfter
	// back to pending. Crash recovery.
	ResetStaleLocks(ctx context.Context, staleAfter time.Duration) (int64, error)

	DeadJobs(ctx context.Context) ([]*models.Job, error)
	RetryDead(ctx context.Context, jobID string) error
	DiscardDead(ctx context.Context, jobID string) error

	RecordAttempt(ctx context.Context, attempt *models.JobAttempt) error
	Attempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error)
}
