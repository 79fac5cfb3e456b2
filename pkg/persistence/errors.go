package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrVersionNotFound indicates the requested workflow version does not exist.
	ErrVersionNotFound = errors.New("workflow version not found")

	// ErrTriggerNotFound indicates a trigger was not found by the given identifier.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrRunNotFound indicates a workflow run was not found by the given identifier.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrRunImmutable indicates an update was attempted on a terminal run.
	ErrRunImmutable = errors.New("workflow run is terminal and immutable")

	// ErrJobNotFound indicates a job was not found by the given identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobAvailable indicates no pending job is currently claimable.
	ErrNoJobAvailable = errors.New("no job available")

	// ErrNotDead indicates a dead-letter operation on a job that is not dead.
	ErrNotDead = errors.New("job is not in dead state")
)
