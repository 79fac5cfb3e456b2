package cmd

import (
	"context"
	"log/slog"

	"github.com/weftlabs/weft/pkg/persistence"
	"github.com/weftlabs/weft/pkg/persistence/sqlite"
)

// NewPersistence opens the embedded store at the given path, creating the
// schema on first use.
func NewPersistence(ctx context.Context, logger *slog.Logger, databasePath string) (persistence.Persistence, error) {
	return sqlite.NewPersistence(ctx, logger, databasePath)
}
