package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/models"
)

func testRunContext() *models.RunContext {
	runCtx := models.NewRunContext(
		map[string]any{"order_id": "ord-42", "amount": 19.99},
		map[string]any{"region": "eu-west"},
	)
	runCtx.RecordNode("fetch", models.NodeRunStatusCompleted, map[string]any{
		"status_code": float64(200),
		"body":        map[string]any{"name": "widget"},
	})

	return runCtx
}

func TestRenderWithContext(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{
			name:     "trigger field",
			input:    "{{ .trigger.order_id }}",
			expected: "ord-42",
		},
		{
			name:     "variable",
			input:    "{{ .variables.region }}",
			expected: "eu-west",
		},
		{
			name:     "node output path",
			input:    "{{ .nodes.fetch.output.body.name }}",
			expected: "widget",
		},
		{
			name:     "numeric result is parsed",
			input:    "{{ .nodes.fetch.output.status_code }}",
			expected: float64(200),
		},
		{
			name:     "literal passthrough",
			input:    "plain text",
			expected: "plain text",
		},
	}

	runCtx := testRunContext()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := RenderWithContext(tt.input, runCtx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRenderWithContext_JSONResult(t *testing.T) {
	result, err := RenderWithContext(`{"id": "{{ .trigger.order_id }}"}`, testRunContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "ord-42"}, result)
}

func TestRenderConfig(t *testing.T) {
	config := map[string]any{
		"url":    "https://api.example.com/orders/{{ .trigger.order_id }}",
		"method": "GET",
		"retry":  3,
		"headers": map[string]any{
			"X-Region": "{{ .variables.region }}",
		},
	}

	rendered, err := RenderConfig(config, testRunContext())
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/orders/ord-42", rendered["url"])
	assert.Equal(t, "GET", rendered["method"])
	assert.Equal(t, 3, rendered["retry"])

	headers, ok := rendered["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "eu-west", headers["X-Region"])
}

func TestRender_InvalidTemplate(t *testing.T) {
	_, err := Render("{{ .unclosed", nil)
	assert.Error(t, err)
}
