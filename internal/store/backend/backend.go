// Package backend opens the store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/pactwatch/internal/config"
	"github.com/ppiankov/pactwatch/internal/store"
	"github.com/ppiankov/pactwatch/internal/store/filestore"
	"github.com/ppiankov/pactwatch/internal/store/memory"
	"github.com/ppiankov/pactwatch/internal/store/postgres"
	"github.com/ppiankov/pactwatch/internal/store/sqlite"
)

// Open returns the store for cfg. The caller closes it.
func Open(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendFile:
		return filestore.New(cfg.Path)
	case config.BackendSQLite:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		return sqlite.Open(ctx, cfg.Path)
	case config.BackendPostgres:
		return postgres.Connect(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
