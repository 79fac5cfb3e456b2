package log

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetup_LevelParsing(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	ctx := context.Background()

	Setup("debug")
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelDebug))

	Setup("error")
	assert.False(t, slog.Default().Enabled(ctx, slog.LevelWarn))
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelError))

	// Unknown levels fall back to info.
	Setup("verbose")
	assert.False(t, slog.Default().Enabled(ctx, slog.LevelDebug))
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelInfo))
}
