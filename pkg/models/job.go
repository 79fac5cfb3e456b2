package models

import "time"

// JobStatus is the queue lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	// JobStatusDead marks a job that exhausted max attempts and awaits manual
	// retry or discard.
	JobStatusDead JobStatus = "dead"
)

// JobKind identifies what unit of work a job wraps.
type JobKind string

const (
	JobKindExecuteRun JobKind = "execute_run"
)

// Job is a durable queue entry. At most one worker holds the lock on a job at
// a time; the claim transaction is the sole exactly-once mechanism.
type Job struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	RunID       string     `json:"run_id"`
	WorkflowID  string     `json:"workflow_id"`
	Priority    int        `json:"priority"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobAttempt preserves per-attempt error history for dead-lettered jobs.
type JobAttempt struct {
	ID        string        `json:"id"`
	JobID     string        `json:"job_id"`
	Attempt   int           `json:"attempt"`
	WorkerID  string        `json:"worker_id"`
	Error     string        `json:"error,omitempty"`
	Category  ErrorCategory `json:"category,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
}
