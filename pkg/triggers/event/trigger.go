// Package event implements the workflow chaining trigger: a workflow fires
// when another workflow's run reaches a terminal outcome on the event bus.
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weftlabs/weft/pkg/protocol"
)

var (
	ErrIDRequired             = errors.New("event trigger ID is required")
	ErrSourceWorkflowRequired = errors.New("event trigger source_workflow_id is required")
)

type EventTrigger struct {
	ID               string
	SourceWorkflowID string
	// On selects which terminal outcome fires: "completed" or "failed".
	On string

	callback protocol.TriggerCallback
	logger   *slog.Logger
}

func NewEventTrigger(config map[string]any, logger *slog.Logger) (*EventTrigger, error) {
	id, _ := config["id"].(string)
	sourceWorkflowID, _ := config["source_workflow_id"].(string)

	on, _ := config["on"].(string)
	if on == "" {
		on = "completed"
	}

	trigger := &EventTrigger{
		ID:               id,
		SourceWorkflowID: sourceWorkflowID,
		On:               on,
		logger: logger.With(
			"module", "event_trigger",
			"id", id,
			"source_workflow_id", sourceWorkflowID,
		),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *EventTrigger) Validate() error {
	if t.ID == "" {
		return ErrIDRequired
	}

	if t.SourceWorkflowID == "" {
		return ErrSourceWorkflowRequired
	}

	if t.On != "completed" && t.On != "failed" {
		return fmt.Errorf("event trigger 'on' must be completed or failed, got '%s'", t.On)
	}

	return nil
}

// Start records the callback. Delivery is pushed by the trigger manager,
// which owns the single bus subscription and routes terminal run events here.
func (t *EventTrigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	t.logger.Info("Starting EventTrigger")
	t.callback = callback

	return nil
}

// Matches reports whether a terminal run event from the given workflow with
// the given outcome should fire this trigger.
func (t *EventTrigger) Matches(sourceWorkflowID, outcome string) bool {
	return t.callback != nil && t.SourceWorkflowID == sourceWorkflowID && t.On == outcome
}

// Deliver fires the trigger for a source run. The run ID doubles as the
// dedup key so a replayed bus message cannot start a second chained run.
func (t *EventTrigger) Deliver(ctx context.Context, sourceRunID string, payload map[string]any) error {
	dedupKey := fmt.Sprintf("event:%s:%s", t.ID, sourceRunID)

	return t.callback(ctx, dedupKey, payload)
}

func (t *EventTrigger) Stop(ctx context.Context) error {
	t.logger.Info("Stopping EventTrigger", "id", t.ID)
	t.callback = nil

	return nil
}
