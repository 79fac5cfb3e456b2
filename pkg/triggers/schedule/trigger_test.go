package schedule

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduleTrigger(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr string
	}{
		{
			name:   "valid",
			config: map[string]any{"id": "trg-1", "cron": "*/5 * * * *"},
		},
		{
			name:    "missing id",
			config:  map[string]any{"cron": "*/5 * * * *"},
			wantErr: "ID is required",
		},
		{
			name:    "missing cron",
			config:  map[string]any{"id": "trg-1"},
			wantErr: "cron expression is required",
		},
		{
			name:    "invalid cron",
			config:  map[string]any{"id": "trg-1", "cron": "not a cron"},
			wantErr: "invalid cron expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger, err := NewScheduleTrigger(tt.config, slog.Default())
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.True(t, trigger.Enabled)
		})
	}
}

func TestFactory_NilConfig(t *testing.T) {
	_, err := NewScheduleTriggerFactory().Create(nil, slog.Default())
	assert.ErrorIs(t, err, ErrConfigNil)
}
