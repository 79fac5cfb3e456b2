package models

import "time"

// TriggerState is the runtime state of a trigger instance.
type TriggerState string

const (
	TriggerStateActive TriggerState = "active"
	TriggerStatePaused TriggerState = "paused"
	TriggerStateError  TriggerState = "error"
)

// Trigger is the mutable runtime record owned by the Trigger Manager, one per
// workflow. Created on workflow save, destroyed on workflow delete.
type Trigger struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflow_id"`
	Type          string         `json:"type"`
	State         TriggerState   `json:"state"`
	Configuration map[string]any `json:"configuration,omitempty"`
	LastFiredAt   *time.Time     `json:"last_fired_at,omitempty"`
	FireCount     int64          `json:"fire_count"`
	DroppedCount  int64          `json:"dropped_count"`
	FailureCount  int64          `json:"failure_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TriggerEvent is an immutable fired-trigger fact. Events sharing a
// deduplication key within the dedup window collapse to a single run.
type TriggerEvent struct {
	ID         string         `json:"id"`
	TriggerID  string         `json:"trigger_id"`
	WorkflowID string         `json:"workflow_id"`
	DedupKey   string         `json:"dedup_key"`
	Payload    map[string]any `json:"payload,omitempty"`
	FiredAt    time.Time      `json:"fired_at"`
}

// TriggerStatus is the query shape surfaced to the UI.
type TriggerStatus struct {
	TriggerID    string       `json:"trigger_id"`
	WorkflowID   string       `json:"workflow_id"`
	Type         string       `json:"type"`
	State        TriggerState `json:"state"`
	LastFiredAt  *time.Time   `json:"last_fired_at,omitempty"`
	NextFireAt   *time.Time   `json:"next_fire_at,omitempty"`
	FireCount    int64        `json:"fire_count"`
	DroppedCount int64        `json:"dropped_count"`
	FailureCount int64        `json:"failure_count"`
}
