// Package models defines the core domain models for the workflow automation engine.
package models

import (
	"time"

	"github.com/weftlabs/weft/pkg/conditions"
)

// CurrentSchemaVersion is stamped on every serialized workflow version.
const CurrentSchemaVersion = 1

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusInactive WorkflowStatus = "inactive"
	WorkflowStatusDeleted  WorkflowStatus = "deleted"
)

// NodeType identifies the execution behavior of a graph node.
type NodeType string

const (
	NodeTypeAction    NodeType = "action"
	NodeTypeCondition NodeType = "condition"
	NodeTypeJunction  NodeType = "junction"
)

// ErrorHandling is the workflow-level failure propagation policy.
type ErrorHandling string

const (
	ErrorHandlingStop  ErrorHandling = "stop"
	ErrorHandlingSkip  ErrorHandling = "skip"
	ErrorHandlingRetry ErrorHandling = "retry"
)

// ExecutionMode selects sequential or bounded-parallel DAG execution.
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
)

// Node is one vertex of the workflow graph, identified by a string id unique
// within its workflow version.
type Node struct {
	ID         string                 `json:"id"          validate:"required"`
	Name       string                 `json:"name"        validate:"required"`
	Type       NodeType               `json:"type"        validate:"required,oneof=action condition junction"`
	ActionType string                 `json:"action_type,omitempty"`
	Config     map[string]any         `json:"config,omitempty"`
	Condition  *conditions.Expression `json:"condition,omitempty"`
	Retry      *RetryPolicy           `json:"retry,omitempty"`
	TimeoutMs  int64                  `json:"timeout_ms,omitempty"`
}

// Edge connects two nodes. A non-nil Guard is evaluated against the run
// context; the edge is only followed if the guard accepts.
type Edge struct {
	From  string                 `json:"from" validate:"required"`
	To    string                 `json:"to"   validate:"required"`
	Guard *conditions.Expression `json:"guard,omitempty"`
}

// WorkflowSettings are per-workflow execution controls.
type WorkflowSettings struct {
	TimeoutMs         int64         `json:"timeout_ms,omitempty"`
	ErrorHandling     ErrorHandling `json:"error_handling"               validate:"omitempty,oneof=stop skip retry"`
	MaxConcurrentRuns int           `json:"max_concurrent_runs,omitempty"`
	ExecutionMode     ExecutionMode `json:"execution_mode"               validate:"omitempty,oneof=sequential parallel"`
	MaxParallelNodes  int           `json:"max_parallel_nodes,omitempty"`
}

// TriggerConfig selects and configures the trigger variant for a workflow.
type TriggerConfig struct {
	Type          string         `json:"type" validate:"required"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// Workflow is a declarative workflow definition. Definitions are immutable
// per version: every edit creates a new WorkflowVersion row.
type Workflow struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"   validate:"required,min=3"`
	Description     string                 `json:"description"`
	Status          WorkflowStatus         `json:"status" validate:"required"`
	Version         int                    `json:"version"`
	Nodes           []*Node                `json:"nodes"`
	Edges           []*Edge                `json:"edges"`
	EntryConditions *conditions.Expression `json:"entry_conditions,omitempty"`
	Settings        WorkflowSettings       `json:"settings"`
	Trigger         *TriggerConfig         `json:"trigger,omitempty"`
	Variables       map[string]any         `json:"variables,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// WorkflowVersion is the immutable serialized snapshot of one workflow version.
type WorkflowVersion struct {
	WorkflowID    string    `json:"workflow_id"`
	Version       int       `json:"version"`
	Definition    []byte    `json:"definition"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
}
