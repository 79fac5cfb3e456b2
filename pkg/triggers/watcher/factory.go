package watcher

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/weftlabs/weft/pkg/protocol"
)

var ErrConfigNil = errors.New("config cannot be nil")

func NewWatcherTriggerFactory() protocol.TriggerFactory {
	return &WatcherTriggerFactory{}
}

type WatcherTriggerFactory struct{}

func (f *WatcherTriggerFactory) ID() string {
	return "watcher"
}

func (f *WatcherTriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"title":       "Filesystem Watcher Trigger Configuration",
		"description": "Fires when files under the watched path change",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory or file to watch",
			},
			"ops": map[string]any{
				"type":        "array",
				"description": "Filesystem operations to react to",
				"items": map[string]any{
					"type": "string",
					"enum": []any{"create", "write", "remove", "rename", "chmod"},
				},
			},
			"debounce_ms": map[string]any{
				"type":        "integer",
				"description": "Quiet period before a burst of changes produces one fire",
				"minimum":     1,
			},
		},
		"required": []any{"path"},
	}
}

func (f *WatcherTriggerFactory) Create(config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, ErrConfigNil
	}

	trigger, err := NewWatcherTrigger(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher trigger: %w", err)
	}

	return trigger, nil
}
