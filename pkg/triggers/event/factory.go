package event

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/weftlabs/weft/pkg/protocol"
)

var ErrConfigNil = errors.New("config cannot be nil")

func NewEventTriggerFactory() protocol.TriggerFactory {
	return &EventTriggerFactory{}
}

type EventTriggerFactory struct{}

func (f *EventTriggerFactory) ID() string {
	return "event"
}

func (f *EventTriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"title":       "Event Trigger Configuration",
		"description": "Fires when another workflow's run reaches a terminal outcome",
		"properties": map[string]any{
			"source_workflow_id": map[string]any{
				"type":        "string",
				"description": "Workflow whose runs fire this trigger",
			},
			"on": map[string]any{
				"type":    "string",
				"default": "completed",
				"enum":    []any{"completed", "failed"},
			},
		},
		"required": []any{"source_workflow_id"},
	}
}

func (f *EventTriggerFactory) Create(config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, ErrConfigNil
	}

	trigger, err := NewEventTrigger(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event trigger: %w", err)
	}

	return trigger, nil
}
