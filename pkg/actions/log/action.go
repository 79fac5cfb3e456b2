// Package log_action implements the log action, which renders a message
// against the run context and writes it to the engine's structured logger.
package log_action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/protocol"
	"github.com/weftlabs/weft/pkg/template"
)

func NewLogActionFactory() *LogActionFactory {
	return &LogActionFactory{}
}

type LogActionFactory struct{}

func (*LogActionFactory) ID() string {
	return "log"
}

func (f *LogActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewLogAction(config), nil
}

func (f *LogActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				// Templating can render the message into a number or bool.
				"type":        []any{"string", "number", "boolean"},
				"description": "Message to log. Supports templating against the run context.",
			},
			"level": map[string]any{
				"type":    "string",
				"default": "info",
				"enum":    []any{"debug", "info", "warn", "error"},
			},
		},
		"additionalProperties": false,
	}
}

func (f *LogActionFactory) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
			"level":   map[string]any{"type": "string"},
		},
		"required": []any{"message", "level"},
	}
}

type LogAction struct {
	Message string
	Level   string
}

func NewLogAction(config map[string]any) *LogAction {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	if level == "" {
		level = "info"
	}

	return &LogAction{Message: message, Level: level}
}

func (a *LogAction) Execute(ctx context.Context, executionCtx *models.RunContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "log_action")

	rendered, err := template.RenderWithContext(a.Message, executionCtx)
	if err != nil {
		return nil, models.NewExecutionError(models.ErrorCategoryPermanent, "failed to render message template", err)
	}

	message := fmt.Sprintf("%v", rendered)

	switch a.Level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return map[string]any{"message": message, "level": a.Level}, nil
}
