package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
)

// openStore ensures the state directory exists and opens the shared
// SQLite database at dbPath. Every subcommand that touches durable
// state (start, pause, resume, stop, status) goes through this, so a
// pause/resume/status run before the daemon's first start still finds a
// usable database rather than failing on a missing directory.
func openStore(ctx context.Context, logger *slog.Logger) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath()), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	return store.Open(ctx, dbPath(), logger)
}
