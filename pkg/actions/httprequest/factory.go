package httprequest

import (
	"github.com/weftlabs/weft/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) ID() string {
	return "http_request"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to send the request to. Supports templating against the run context.",
				"examples": []any{
					"https://api.example.com/users",
					"https://api.example.com/orders/{{ .trigger.order_id }}",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum":    []any{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Headers to include. Values support templating.",
				// Templated header values can render into numbers.
				"additionalProperties": map[string]any{"type": []any{"string", "number", "boolean"}},
			},
			"body": map[string]any{
				// No type: a templated body can render into structured JSON.
				"description": "Request body. Supports templating for dynamic JSON or text content.",
			},
			"timeout_ms": map[string]any{
				"type":    "integer",
				"minimum": 1,
			},
		},
		"required":             []any{"url"},
		"additionalProperties": false,
	}
}

func (f *ActionFactory) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status_code": map[string]any{"type": "integer"},
			"body":        map[string]any{"description": "Decoded JSON body, or the raw body as a string."},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"required": []any{"status_code", "body", "headers"},
	}
}
