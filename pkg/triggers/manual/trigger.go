// Package manual implements the operator-initiated trigger.
package manual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weftlabs/weft/pkg/protocol"
)

var ErrConfigNil = errors.New("config cannot be nil")

// ManualTrigger has no autonomous event source; the trigger manager injects
// operator fires directly. The instance exists to carry lifecycle state like
// any other trigger type.
type ManualTrigger struct {
	ID string

	logger *slog.Logger
}

func NewManualTrigger(config map[string]any, logger *slog.Logger) (*ManualTrigger, error) {
	id, _ := config["id"].(string)

	trigger := &ManualTrigger{
		ID:     id,
		logger: logger.With("module", "manual_trigger", "id", id),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *ManualTrigger) Validate() error {
	if t.ID == "" {
		return errors.New("manual trigger ID is required")
	}

	return nil
}

func (t *ManualTrigger) Start(ctx context.Context, _ protocol.TriggerCallback) error {
	t.logger.Info("Starting ManualTrigger")

	return nil
}

func (t *ManualTrigger) Stop(ctx context.Context) error {
	t.logger.Info("Stopping ManualTrigger", "id", t.ID)

	return nil
}

func NewManualTriggerFactory() protocol.TriggerFactory {
	return &ManualTriggerFactory{}
}

type ManualTriggerFactory struct{}

func (f *ManualTriggerFactory) ID() string {
	return "manual"
}

func (f *ManualTriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"title":       "Manual Trigger Configuration",
		"description": "Fires only on explicit operator request",
		"properties":  map[string]any{},
	}
}

func (f *ManualTriggerFactory) Create(config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, ErrConfigNil
	}

	trigger, err := NewManualTrigger(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create manual trigger: %w", err)
	}

	return trigger, nil
}
