// Package events defines event types published over the bus as runs and
// triggers move through their lifecycles.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/models"
)

type EventType string

const Topic = "weft.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TriggerFiredEvent EventType = "trigger.fired"

	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"
	RunTimedOutEvent  EventType = "run.timed_out"

	NodeStartedEvent   EventType = "node.started"
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"

	EngineErrorEvent EventType = "engine.error"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// TriggerFired is published every time a trigger event survives
// deduplication, before a run is enqueued for it.
type TriggerFired struct {
	BaseEvent

	TriggerID   string         `json:"trigger_id"`
	TriggerType string         `json:"trigger_type"`
	DedupKey    string         `json:"dedup_key"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (e TriggerFired) GetType() EventType {
	return TriggerFiredEvent
}

type RunStarted struct {
	BaseEvent

	RunID           string `json:"run_id"`
	WorkflowVersion int    `json:"workflow_version"`
	TriggerType     string `json:"trigger_type"`
	Initiator       string `json:"initiator"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID         string         `json:"run_id"`
	DurationMs    int64          `json:"duration_ms"`
	NodesExecuted int            `json:"nodes_executed"`
	Outputs       map[string]any `json:"outputs,omitempty"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	RunID      string               `json:"run_id"`
	NodeID     string               `json:"node_id,omitempty"`
	Error      string               `json:"error"`
	Category   models.ErrorCategory `json:"category"`
	DurationMs int64                `json:"duration_ms"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunCancelled struct {
	BaseEvent

	RunID       string `json:"run_id"`
	CancelledBy string `json:"cancelled_by,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e RunCancelled) GetType() EventType {
	return RunCancelledEvent
}

type RunTimedOut struct {
	BaseEvent

	RunID          string `json:"run_id"`
	TimeoutLimitMs int64  `json:"timeout_limit_ms"`
	StuckNode      string `json:"stuck_node,omitempty"`
}

func (e RunTimedOut) GetType() EventType {
	return RunTimedOutEvent
}

type NodeStarted struct {
	BaseEvent

	RunID   string `json:"run_id"`
	NodeID  string `json:"node_id"`
	Attempt int    `json:"attempt"`
}

func (e NodeStarted) GetType() EventType {
	return NodeStartedEvent
}

type NodeCompleted struct {
	BaseEvent

	RunID      string               `json:"run_id"`
	NodeID     string               `json:"node_id"`
	Status     models.NodeRunStatus `json:"status"`
	Output     map[string]any       `json:"output,omitempty"`
	DurationMs int64                `json:"duration_ms"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type NodeFailed struct {
	BaseEvent

	RunID      string               `json:"run_id"`
	NodeID     string               `json:"node_id"`
	Attempt    int                  `json:"attempt"`
	Error      string               `json:"error"`
	Category   models.ErrorCategory `json:"category"`
	WillRetry  bool                 `json:"will_retry"`
	DurationMs int64                `json:"duration_ms"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

// EngineError reports internal faults that are not tied to a single node,
// such as a job that exhausted its attempt budget or a store failure.
type EngineError struct {
	BaseEvent

	RunID   string `json:"run_id,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	Scope   string `json:"scope"`
	Error   string `json:"error"`
	Attempt int    `json:"attempt,omitempty"`
}

func (e EngineError) GetType() EventType {
	return EngineErrorEvent
}
