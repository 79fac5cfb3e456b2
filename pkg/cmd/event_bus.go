package cmd

import (
	"log/slog"

	"github.com/weftlabs/weft/pkg/eventbus"
)

// NewEventBus creates the in-process event bus shared by the engine, queue,
// trigger manager, and workers.
func NewEventBus(logger *slog.Logger) eventbus.EventBus {
	return eventbus.NewInProcessEventBus(logger)
}
