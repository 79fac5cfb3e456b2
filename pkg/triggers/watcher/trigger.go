// Package watcher implements the filesystem trigger backed by fsnotify.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/weftlabs/weft/pkg/protocol"
)

const defaultDebounce = 500 * time.Millisecond

var (
	ErrIDRequired   = errors.New("watcher trigger ID is required")
	ErrPathRequired = errors.New("watcher trigger path is required")
)

// WatcherTrigger fires when files under a watched path change. Rapid bursts
// on the same file are coalesced into one fire per debounce window.
type WatcherTrigger struct {
	ID       string
	Path     string
	Ops      map[fsnotify.Op]bool
	Debounce time.Duration

	watcher  *fsnotify.Watcher
	callback protocol.TriggerCallback
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
}

func NewWatcherTrigger(config map[string]any, logger *slog.Logger) (*WatcherTrigger, error) {
	id, _ := config["id"].(string)
	path, _ := config["path"].(string)

	debounce := defaultDebounce
	if debounceMs, ok := config["debounce_ms"].(float64); ok && debounceMs > 0 {
		debounce = time.Duration(debounceMs) * time.Millisecond
	}

	ops := map[fsnotify.Op]bool{fsnotify.Create: true, fsnotify.Write: true, fsnotify.Remove: true}

	if configured, ok := config["ops"].([]any); ok {
		ops = make(map[fsnotify.Op]bool, len(configured))

		for _, raw := range configured {
			name, _ := raw.(string)

			switch strings.ToLower(name) {
			case "create":
				ops[fsnotify.Create] = true
			case "write":
				ops[fsnotify.Write] = true
			case "remove":
				ops[fsnotify.Remove] = true
			case "rename":
				ops[fsnotify.Rename] = true
			case "chmod":
				ops[fsnotify.Chmod] = true
			default:
				return nil, fmt.Errorf("unknown filesystem op '%s'", name)
			}
		}
	}

	trigger := &WatcherTrigger{
		ID:       id,
		Path:     path,
		Ops:      ops,
		Debounce: debounce,
		logger: logger.With(
			"module", "watcher_trigger",
			"id", id,
			"path", path,
		),
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *WatcherTrigger) Validate() error {
	if t.ID == "" {
		return ErrIDRequired
	}

	if t.Path == "" {
		return ErrPathRequired
	}

	if _, err := os.Stat(t.Path); err != nil {
		return fmt.Errorf("watched path is not accessible: %w", err)
	}

	return nil
}

func (t *WatcherTrigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	if err := watcher.Add(t.Path); err != nil {
		_ = watcher.Close()

		return fmt.Errorf("failed to watch path %s: %w", t.Path, err)
	}

	t.logger.Info("Starting WatcherTrigger")
	t.watcher = watcher
	t.callback = callback

	go t.loop(ctx)

	return nil
}

func (t *WatcherTrigger) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}

			t.handleEvent(ctx, event)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}

			t.logger.Error("Filesystem watcher error", "error", err)
		}
	}
}

func (t *WatcherTrigger) handleEvent(ctx context.Context, event fsnotify.Event) {
	matched := false

	for op := range t.Ops {
		if event.Op.Has(op) {
			matched = true

			break
		}
	}

	if !matched {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := event.Name

	// Editors produce write bursts; only the last event inside the window
	// survives.
	if timer, exists := t.pending[key]; exists {
		timer.Stop()
	}

	op := event.Op.String()

	t.pending[key] = time.AfterFunc(t.Debounce, func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()

		t.fire(ctx, event.Name, op)
	})
}

func (t *WatcherTrigger) fire(ctx context.Context, path, op string) {
	dedupKey := fmt.Sprintf("watcher:%s:%s:%s", t.ID, path, op)

	payload := map[string]any{
		"path":      path,
		"op":        op,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := t.callback(ctx, dedupKey, payload); err != nil {
		t.logger.Error("Error delivering filesystem fire", "path", path, "error", err)
	}
}

func (t *WatcherTrigger) Stop(ctx context.Context) error {
	t.logger.Info("Stopping WatcherTrigger", "id", t.ID)

	close(t.done)

	t.mu.Lock()
	for key, timer := range t.pending {
		timer.Stop()
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if t.watcher != nil {
		return t.watcher.Close()
	}

	return nil
}
