// Package protocol defines the contracts between the engine and pluggable
// actions and triggers.
package protocol

import (
	"context"
	"log/slog"

	"github.com/weftlabs/weft/pkg/models"
)

type Action interface {
	Execute(ctx context.Context, executionCtx *models.RunContext, logger *slog.Logger) (any, error)
}

type ActionFactory interface {
	Create(config map[string]any) (Action, error)
	ID() string

	// Schema returns the JSON schema the action's config is validated
	// against, both at workflow registration time and again at execution
	// time once templates have been rendered.
	Schema() map[string]any

	// OutputSchema returns the JSON schema the action's output is expected
	// to match. A mismatch at execution time is logged, never fatal. Nil
	// means the output is free-form.
	OutputSchema() map[string]any
}
