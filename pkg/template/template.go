// Package template renders node config values against the run context so
// downstream nodes can reference trigger payloads and upstream outputs.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/weftlabs/weft/pkg/models"
)

// RenderWithContext renders a template string with the run context exposed
// under .trigger, .variables, and .nodes.
func RenderWithContext(input string, runCtx *models.RunContext) (any, error) {
	nodes := make(map[string]any, len(runCtx.Nodes))
	for nodeID, result := range runCtx.Nodes {
		nodes[nodeID] = map[string]any{
			"status": string(result.Status),
			"output": result.Output,
		}
	}

	data := map[string]any{
		"trigger":   runCtx.Trigger,
		"variables": runCtx.Variables,
		"vars":      runCtx.Variables,
		"nodes":     nodes,
		"env":       getEnvVars(),
	}

	return Render(input, data)
}

// RenderConfig renders every string value of a node config, recursing into
// nested maps and slices. Non-string values pass through untouched.
func RenderConfig(config map[string]any, runCtx *models.RunContext) (map[string]any, error) {
	rendered, err := renderValue(config, runCtx)
	if err != nil {
		return nil, err
	}

	asMap, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rendered config is not an object")
	}

	return asMap, nil
}

func renderValue(value any, runCtx *models.RunContext) (any, error) {
	switch typed := value.(type) {
	case string:
		if !strings.Contains(typed, "{{") {
			return typed, nil
		}

		return RenderWithContext(typed, runCtx)
	case map[string]any:
		rendered := make(map[string]any, len(typed))

		for key, val := range typed {
			renderedVal, err := renderValue(val, runCtx)
			if err != nil {
				return nil, err
			}

			rendered[key] = renderedVal
		}

		return rendered, nil
	case []any:
		rendered := make([]any, 0, len(typed))

		for _, val := range typed {
			renderedVal, err := renderValue(val, runCtx)
			if err != nil {
				return nil, err
			}

			rendered = append(rendered, renderedVal)
		}

		return rendered, nil
	default:
		return value, nil
	}
}

func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("render").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)
				if _, err := rand.Read(num); err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	// A JSON-shaped result is decoded so actions receive structured data.
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
