// Package app wires a workspace: config, database, snapshot store and the
// registry restored from the last snapshot.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"contractline/internal/config"
	"contractline/internal/db"
	"contractline/internal/migrate"
	"contractline/internal/registry"
	"contractline/internal/store"
)

type Options struct {
	Workspace string
	// Config skips reading contractline.yml when set.
	Config        *config.Config
	Logger        *slog.Logger
	MeterProvider metric.MeterProvider
}

// Workspace is an opened workspace. Persist saves the registry back to the
// store and is safe to call from concurrent requests.
type Workspace struct {
	Path     string
	Config   *config.Config
	DB       *sql.DB
	Store    store.Store
	Registry *registry.Registry
	Logger   *slog.Logger

	persistMu sync.Mutex
}

// Open loads config (defaults when contractline.yml is absent), migrates the
// database and restores the registry.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(opts.Workspace); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(ctx, db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	regOpts := append(cfg.RegistryOptions(), registry.WithLogger(logger.With("component", "registry")))
	if opts.MeterProvider != nil {
		regOpts = append(regOpts, registry.WithMeterProvider(opts.MeterProvider))
	}
	reg := registry.New(regOpts...)

	st := store.New(conn)
	contracts, err := st.Load(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := reg.Restore(contracts); err != nil {
		conn.Close()
		return nil, fmt.Errorf("restore registry: %w", err)
	}
	logger.Debug("workspace opened", "path", db.Path(opts.Workspace), "schema_version", version, "contracts", len(contracts))

	return &Workspace{
		Path:     opts.Workspace,
		Config:   cfg,
		DB:       conn,
		Store:    st,
		Registry: reg,
		Logger:   logger,
	}, nil
}

// Persist writes the current registry snapshot.
func (w *Workspace) Persist(ctx context.Context) error {
	w.persistMu.Lock()
	defer w.persistMu.Unlock()
	res, err := w.Store.Save(ctx, w.Registry.Snapshot())
	if err != nil {
		return err
	}
	w.Logger.Debug("snapshot saved", "contracts", res.Contracts, "new_events", res.NewEvents, "removed", res.Removed)
	return nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}
