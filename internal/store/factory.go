// Package store elige el backend de persistencia según configuración.
package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/dropDatabas3/flocksync/internal/config"
	"github.com/dropDatabas3/flocksync/internal/observability/logger"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/dropDatabas3/flocksync/internal/store/memory"
	"github.com/dropDatabas3/flocksync/internal/store/pg"
	migrations "github.com/dropDatabas3/flocksync/migrations/postgres"
)

// New construye el core.Store del proceso.
func New(ctx context.Context, cfg *config.Config) (core.Store, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres", "pg", "":
		return pg.New(ctx, cfg.Storage.DSN, pg.Tuning{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("store: driver desconocido %q", cfg.Storage.Driver)
	}
}

// Migrate aplica las migraciones embebidas en orden lexicográfico.
// Idempotente: el SQL usa IF NOT EXISTS.
func Migrate(ctx context.Context, s core.Store) error {
	pgs, ok := s.(*pg.Store)
	if !ok {
		return nil // memory no migra
	}
	entries, err := fs.ReadDir(migrations.FS, migrations.Dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := fs.ReadFile(migrations.FS, migrations.Dir+"/"+name)
		if err != nil {
			return err
		}
		if _, err := pgs.Pool().Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("migración %s: %w", name, err)
		}
		logger.L().Info("migración aplicada", logger.String("file", name))
	}
	return nil
}
