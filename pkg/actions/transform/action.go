// Package transform implements the transform action, which reshapes run
// context data through a template expression.
package transform

import (
	"context"
	"errors"
	"log/slog"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/protocol"
	"github.com/weftlabs/weft/pkg/template"
)

var ErrExpressionMissing = errors.New("missing or invalid 'expression' in configuration")

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) ID() string {
	return "transform"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				// No type: once rendered the expression is the output itself,
				// often a decoded object.
				"description": "Template expression producing the node's output. JSON-shaped results are decoded.",
				"examples": []any{
					`{"order": "{{ .trigger.order_id }}", "total": "{{ .nodes.fetch.output.body.total }}"}`,
				},
			},
		},
		"required":             []any{"expression"},
		"additionalProperties": false,
	}
}

// OutputSchema is nil: the whole point of transform is producing free-form
// data for downstream nodes.
func (f *ActionFactory) OutputSchema() map[string]any {
	return nil
}

type Action struct {
	Expression string
}

func NewAction(config map[string]any) (*Action, error) {
	expression, ok := config["expression"].(string)
	if !ok || expression == "" {
		return nil, ErrExpressionMissing
	}

	return &Action{Expression: expression}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx *models.RunContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "transform_action")

	result, err := template.RenderWithContext(a.Expression, executionCtx)
	if err != nil {
		return nil, models.NewExecutionError(models.ErrorCategoryPermanent, "failed to render expression", err)
	}

	logger.DebugContext(ctx, "Transform completed")

	return result, nil
}
