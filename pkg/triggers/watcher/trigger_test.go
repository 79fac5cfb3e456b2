package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWatcherTrigger_Validation(t *testing.T) {
	_, err := NewWatcherTrigger(map[string]any{"path": t.TempDir()}, slog.Default())
	assert.ErrorIs(t, err, ErrIDRequired)

	_, err = NewWatcherTrigger(map[string]any{"id": "trg-1"}, slog.Default())
	assert.ErrorIs(t, err, ErrPathRequired)

	_, err = NewWatcherTrigger(map[string]any{"id": "trg-1", "path": "/does/not/exist"}, slog.Default())
	assert.ErrorContains(t, err, "not accessible")

	_, err = NewWatcherTrigger(map[string]any{
		"id": "trg-1", "path": t.TempDir(), "ops": []any{"explode"},
	}, slog.Default())
	assert.ErrorContains(t, err, "unknown filesystem op")
}

func TestWatcherTrigger_FiresOnCreate(t *testing.T) {
	dir := t.TempDir()

	trigger, err := NewWatcherTrigger(map[string]any{
		"id":          "trg-1",
		"path":        dir,
		"debounce_ms": float64(50),
	}, slog.Default())
	require.NoError(t, err)

	fired := make(chan map[string]any, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = trigger.Start(ctx, func(_ context.Context, _ string, payload map[string]any) error {
		fired <- payload

		return nil
	})
	require.NoError(t, err)

	defer func() { _ = trigger.Stop(context.Background()) }()

	path := filepath.Join(dir, "incoming.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0o644))

	select {
	case payload := <-fired:
		assert.Equal(t, path, payload["path"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for filesystem fire")
	}
}

func TestWatcherTrigger_DebouncesWriteBursts(t *testing.T) {
	dir := t.TempDir()

	trigger, err := NewWatcherTrigger(map[string]any{
		"id":          "trg-1",
		"path":        dir,
		"ops":         []any{"create", "write"},
		"debounce_ms": float64(200),
	}, slog.Default())
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		fires int
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = trigger.Start(ctx, func(_ context.Context, _ string, _ map[string]any) error {
		mu.Lock()
		fires++
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	defer func() { _ = trigger.Stop(context.Background()) }()

	path := filepath.Join(dir, "burst.log")

	for range 5 {
		require.NoError(t, os.WriteFile(path, []byte("chunk"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fires)
}
