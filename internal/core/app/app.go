package app

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"provenance/internal/core/config"
	"provenance/internal/core/errors"
	"provenance/internal/core/ports"
	"provenance/internal/core/watcher"
	"provenance/internal/data/ledger"
	"provenance/internal/engine/catalog"
	"provenance/internal/engine/changelog"
	"provenance/internal/engine/finder"
)

// App wires the changelog catalog, the ledger and the detective from one
// configuration.
type App struct {
	Config   *config.Config
	Catalog  catalog.Catalog
	Finder   *finder.Finder
	Provider ports.MigrationProvider

	fsys   fs.FS
	store  *ledger.Store
	logger *slog.Logger

	watchMu       sync.Mutex
	activeWatcher *watcher.Watcher
}

type Option func(*App)

// WithLogger replaces slog.Default for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithFS reads changelogs from fsys instead of the configured catalog root.
func WithFS(fsys fs.FS) Option {
	return func(a *App) { a.fsys = fsys }
}

// WithProvider replaces the ledger-backed migration provider. No ledger
// connection is opened when a provider is given.
func WithProvider(p ports.MigrationProvider) Option {
	return func(a *App) { a.Provider = p }
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeValidationError, "config is required")
	}

	a := &App{Config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	if a.fsys == nil {
		a.fsys = os.DirFS(cfg.Catalog.Root)
	}

	c, err := catalog.New(catalog.Layout(cfg.Catalog.Layout), a.fsys, catalog.Options{
		BaseDir:      cfg.Catalog.BaseDir,
		SnapshotsDir: cfg.Catalog.SnapshotsDir,
		UpdatesDir:   cfg.Catalog.UpdatesDir,
		Extension:    cfg.Catalog.Extension,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.Catalog = c
	a.Finder = finder.New(c)

	if a.Provider == nil {
		store, err := ledger.Open(cfg.Ledger.Driver, cfg.Ledger.DSN, ledger.Options{
			BusyTimeout:    cfg.Ledger.BusyTimeout,
			ChangeLogTable: cfg.Ledger.ChangeLogTable,
			LockTable:      cfg.Ledger.LockTable,
		})
		if err != nil {
			return nil, err
		}
		a.store = store
		a.Provider = ledger.NewProvider(a.fsys, store, ledger.ProviderOptions{
			DBMS:   cfg.Ledger.DBMS,
			Logger: a.logger,
		})
	}

	a.logger.Debug("application initialized",
		"layout", c.Layout(),
		"root", cfg.Catalog.Root,
		"ledger_driver", cfg.Ledger.Driver)
	return a, nil
}

func (a *App) Logger() *slog.Logger { return a.logger }

// Seed records every changeset of the given changelog files as run. Files
// are paths inside the catalog root.
func (a *App) Seed(ctx context.Context, files []string) (int, error) {
	if a.store == nil {
		return 0, errors.New(errors.CodeNotSupported, "seeding requires the ledger store")
	}
	if len(files) == 0 {
		return 0, errors.New(errors.CodeValidationError, "at least one changelog file is required")
	}
	if err := a.store.EnsureSchema(ctx); err != nil {
		return 0, err
	}

	total := 0
	for _, file := range files {
		doc, err := changelog.Parse(a.fsys, file)
		if err != nil {
			return total, err
		}
		added, err := a.store.RecordChangeSets(ctx, doc.ChangeSets)
		if err != nil {
			return total, errors.AddContext(err, errors.CtxPath, file)
		}
		a.logger.Info("seeded changelog", "file", doc.Path, "recorded", added, "declared", len(doc.ChangeSets))
		total += added
	}
	return total, nil
}

func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.watchMu.Lock()
	if a.activeWatcher != nil {
		_ = a.activeWatcher.Close()
		a.activeWatcher = nil
	}
	a.watchMu.Unlock()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return err
		}
		a.store = nil
	}
	return nil
}
