// Package filewrite implements the file_write action.
package filewrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/protocol"
	"github.com/weftlabs/weft/pkg/template"
)

var ErrPathMissing = errors.New("missing or invalid 'path' in configuration")

const fileMode = 0o644
const dirMode = 0o755

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) ID() string {
	return "file_write"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Destination file path. Supports templating.",
			},
			"content": map[string]any{
				// No type: templated content can render into structured data,
				// which is written as JSON.
				"description": "Content to write. Supports templating; structured results are written as JSON.",
			},
			"append": map[string]any{
				"type":    "boolean",
				"default": false,
			},
		},
		"required":             []any{"path", "content"},
		"additionalProperties": false,
	}
}

func (f *ActionFactory) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":          map[string]any{"type": "string"},
			"bytes_written": map[string]any{"type": "integer"},
		},
		"required": []any{"path", "bytes_written"},
	}
}

type Action struct {
	Path    string
	Content string
	Append  bool
}

func NewAction(config map[string]any) (*Action, error) {
	path, ok := config["path"].(string)
	if !ok || path == "" {
		return nil, ErrPathMissing
	}

	content, _ := config["content"].(string)
	appendMode, _ := config["append"].(bool)

	return &Action{Path: path, Content: content, Append: appendMode}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx *models.RunContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "file_write_action")

	pathResult, err := template.RenderWithContext(a.Path, executionCtx)
	if err != nil {
		return nil, models.NewExecutionError(models.ErrorCategoryPermanent, "failed to render path template", err)
	}

	path := fmt.Sprintf("%v", pathResult)

	contentResult, err := template.RenderWithContext(a.Content, executionCtx)
	if err != nil {
		return nil, models.NewExecutionError(models.ErrorCategoryPermanent, "failed to render content template", err)
	}

	var contentBytes []byte
	if str, ok := contentResult.(string); ok {
		contentBytes = []byte(str)
	} else {
		contentBytes, err = json.Marshal(contentResult)
		if err != nil {
			return nil, models.NewExecutionError(models.ErrorCategoryPermanent, "failed to marshal content", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, models.NewExecutionError(models.ErrorCategoryResource, "failed to create directory", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if a.Append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	file, err := os.OpenFile(path, flags, fileMode)
	if err != nil {
		return nil, models.NewExecutionError(models.ErrorCategoryResource, "failed to open file", err)
	}

	written, err := file.Write(contentBytes)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return nil, models.NewExecutionError(models.ErrorCategoryResource, "failed to write file", err)
	}

	logger.DebugContext(ctx, "File written", "path", path, "bytes", written)

	return map[string]any{"path": path, "bytes_written": written}, nil
}
