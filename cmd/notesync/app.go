package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/viper"

	"github.com/Veraticus/notesync/internal/batch"
	"github.com/Veraticus/notesync/internal/catalog"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/config"
	"github.com/Veraticus/notesync/internal/connector"
	"github.com/Veraticus/notesync/internal/llm"
	"github.com/Veraticus/notesync/internal/lock"
	"github.com/Veraticus/notesync/internal/pipeline"
	"github.com/Veraticus/notesync/internal/review"
	"github.com/Veraticus/notesync/internal/storage"
	"github.com/Veraticus/notesync/internal/upload"
)

// app bundles the long-lived components a command needs. One per process.
type app struct {
	settings *config.Settings
	store    *storage.SQLiteStorage
	catalogs *catalog.Store
	tracker  *batch.Tracker
	locks    *lock.Keyed
	logger   *slog.Logger
}

// openApp loads settings, opens and migrates the database and resolves the
// active rule catalog.
func openApp(ctx context.Context) (*app, error) {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	store, err := initStorage(ctx, settings.Database)
	if err != nil {
		return nil, err
	}

	snap, err := loadCatalog(ctx, store, settings.CatalogPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger := slog.Default()
	return &app{
		settings: settings,
		store:    store,
		catalogs: catalog.NewStore(snap),
		tracker:  batch.NewTracker(store, logger),
		locks:    lock.NewKeyed(),
		logger:   logger,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

// initStorage opens the database and applies pending migrations.
func initStorage(ctx context.Context, dbPath string) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// loadCatalog picks the catalog file when configured, then the most recently
// loaded catalog in the database, then the built-in default.
func loadCatalog(ctx context.Context, store *storage.SQLiteStorage, path string) (*catalog.Snapshot, error) {
	if path != "" {
		snap, err := catalog.LoadFile(path)
		if err != nil {
			return nil, common.NewUserError("could not load rule catalog "+path, err)
		}
		return snap, nil
	}

	version, err := store.GetActiveCatalogVersion(ctx)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return catalog.Default(), nil
	case err != nil:
		return nil, err
	}

	snap, err := catalog.Parse(version.Document, catalog.Format(version.Format))
	if err != nil {
		return nil, fmt.Errorf("stored catalog %s is invalid: %w", version.Version, err)
	}
	return snap, nil
}

func (a *app) transformer() (*llm.Transformer, error) {
	cfg, err := a.settings.ResolveLLM(viper.GetViper())
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return llm.NewTransformer(client, cfg, a.logger), nil
}

func (a *app) processor() (*pipeline.Processor, error) {
	ai, err := a.transformer()
	if err != nil {
		return nil, err
	}
	return pipeline.NewProcessor(a.store, ai, a.tracker, a.locks, a.logger, pipeline.Options{
		Workers:     a.settings.Pipeline.Workers,
		MaxAttempts: a.settings.Pipeline.MaxAttempts,
	}), nil
}

func (a *app) reviewEngine() (*review.Engine, error) {
	proc, err := a.processor()
	if err != nil {
		return nil, err
	}
	return review.NewEngine(a.store, proc, a.catalogs, a.locks, a.logger), nil
}

// reviewOnly builds a review engine for commands that never rerun the
// pipeline, so no AI credentials are required.
func (a *app) reviewOnly() *review.Engine {
	return review.NewEngine(a.store, nil, a.catalogs, a.locks, a.logger)
}

func (a *app) source() (connector.Source, error) {
	if a.settings.Source.File == "" {
		return nil, common.NewUserError("no source configured; set source.file", common.ErrMissingConfig)
	}
	return connector.NewFileSource(a.settings.Source.File), nil
}

func (a *app) destination() (connector.Destination, error) {
	dest := a.settings.Destination
	switch {
	case dest.URL != "":
		return connector.NewHTTPDestination(dest.URL, dest.Token, dest.Timeout), nil
	case dest.File != "":
		outbox := dest.Outbox
		if outbox == "" {
			outbox = filepath.Join(filepath.Dir(dest.File), "outbox")
		}
		return connector.NewFileDestination(dest.File, outbox), nil
	default:
		return nil, common.NewUserError("no destination configured; set destination.url or destination.file", common.ErrMissingConfig)
	}
}

func (a *app) uploader() (*upload.Orchestrator, error) {
	dest, err := a.destination()
	if err != nil {
		return nil, err
	}
	return upload.NewOrchestrator(a.store, dest, a.tracker, a.locks, a.logger, upload.Options{
		Retry:       a.settings.Upload.Retry,
		Concurrency: a.settings.Upload.Concurrency,
	}), nil
}

// runLock is held while a command drives the pipeline, so two processes
// never process the same database at once.
func runLock(dbPath string) (func(), error) {
	fl := flock.New(dbPath + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, common.NewUserError("another notesync process is running against "+dbPath,
			fmt.Errorf("lock %s is held", fl.Path()))
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("Failed to release run lock", "path", fl.Path(), "error", err)
		}
	}, nil
}
