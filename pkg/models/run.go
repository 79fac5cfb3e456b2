package models

import (
	"os"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusTimedOut  RunStatus = "timed_out"
)

// Terminal reports whether the status is final. Terminal runs are immutable.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusTimedOut:
		return true
	default:
		return false
	}
}

// NodeRunStatus is the outcome of one node attempt within a run.
type NodeRunStatus string

const (
	NodeRunStatusPending   NodeRunStatus = "pending"
	NodeRunStatusRunning   NodeRunStatus = "running"
	NodeRunStatusCompleted NodeRunStatus = "completed"
	NodeRunStatusFailed    NodeRunStatus = "failed"
	// NodeRunStatusSkipped marks a node whose inbound edge guards all rejected.
	NodeRunStatusSkipped NodeRunStatus = "skipped"
	// NodeRunStatusFiltered marks a node short-circuited by an explicit
	// condition-node filter, kept distinct from skipped for audit trails.
	NodeRunStatusFiltered  NodeRunStatus = "filtered"
	NodeRunStatusTimedOut  NodeRunStatus = "timed_out"
	NodeRunStatusCancelled NodeRunStatus = "cancelled"
)

// NodeResult is the per-node slice of the run context visible to downstream
// value references.
type NodeResult struct {
	Status NodeRunStatus `json:"status"`
	Output any           `json:"output,omitempty"`
}

// RunContext carries the trigger payload, workflow variables, and recorded
// node outputs for a single run. It implements conditions.Resolver.
type RunContext struct {
	Trigger   map[string]any         `json:"trigger,omitempty"`
	Variables map[string]any         `json:"variables,omitempty"`
	Nodes     map[string]*NodeResult `json:"nodes,omitempty"`

	secrets func(name string) (string, bool)
}

func NewRunContext(trigger, variables map[string]any) *RunContext {
	return &RunContext{
		Trigger:   trigger,
		Variables: variables,
		Nodes:     make(map[string]*NodeResult),
	}
}

// WithSecretSource attaches a read-only secret accessor. Secrets are never
// serialized with the context.
func (c *RunContext) WithSecretSource(source func(name string) (string, bool)) *RunContext {
	c.secrets = source

	return c
}

// RecordNode stores a node outcome, making its output visible to downstream
// condition and template evaluation.
func (c *RunContext) RecordNode(nodeID string, status NodeRunStatus, output any) {
	if c.Nodes == nil {
		c.Nodes = make(map[string]*NodeResult)
	}

	c.Nodes[nodeID] = &NodeResult{Status: status, Output: output}
}

// ContextValue resolves a dotted path rooted at trigger/variables/nodes.
func (c *RunContext) ContextValue(path string) (any, bool) {
	root := map[string]any{
		"trigger":   c.Trigger,
		"variables": c.Variables,
	}

	if strings.HasPrefix(path, "nodes.") {
		rest := strings.SplitN(strings.TrimPrefix(path, "nodes."), ".", 2)

		result, ok := c.Nodes[rest[0]]
		if !ok {
			return nil, false
		}

		if len(rest) == 1 {
			return result.Output, true
		}

		return lookupPath(result.Output, rest[1])
	}

	return lookupPath(root, path)
}

// NodeOutput resolves a dotted path into a recorded node output. An empty
// path returns the whole output.
func (c *RunContext) NodeOutput(nodeID, path string) (any, bool) {
	result, ok := c.Nodes[nodeID]
	if !ok {
		return nil, false
	}

	if path == "" {
		return result.Output, true
	}

	return lookupPath(result.Output, path)
}

func (c *RunContext) Env(name string) (string, bool) {
	return os.LookupEnv(name)
}

func (c *RunContext) Secret(name string) (string, bool) {
	if c.secrets == nil {
		return "", false
	}

	return c.secrets(name)
}

func lookupPath(value any, path string) (any, bool) {
	current := value

	for _, segment := range strings.Split(path, ".") {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// WorkflowRun is one execution of a workflow version, created per accepted
// trigger event. Immutable once Status is terminal.
type WorkflowRun struct {
	ID              string      `json:"id"`
	WorkflowID      string      `json:"workflow_id"`
	WorkflowVersion int         `json:"workflow_version"`
	TriggerEventID  string      `json:"trigger_event_id,omitempty"`
	Status          RunStatus   `json:"status"`
	Context         *RunContext `json:"context,omitempty"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
}

// NodeRun is the append-only per-attempt execution record of one node. A
// retried node creates a new attempt row, never an overwrite.
type NodeRun struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	NodeID     string        `json:"node_id"`
	Attempt    int           `json:"attempt"`
	Status     NodeRunStatus `json:"status"`
	Input      any           `json:"input,omitempty"`
	Output     any           `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Category   ErrorCategory `json:"category,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}
