package protocol

import (
	"context"
	"log/slog"
)

// TriggerCallback delivers a fire to the trigger manager. The dedupKey
// identifies the external occurrence; fires sharing a key inside the dedup
// window are dropped.
type TriggerCallback func(ctx context.Context, dedupKey string, payload map[string]any) error

type Trigger interface {
	Start(ctx context.Context, callback TriggerCallback) error
	Stop(ctx context.Context) error
	Validate() error
}

type TriggerFactory interface {
	Create(config map[string]any, logger *slog.Logger) (Trigger, error)
	ID() string
	Schema() map[string]any
}
