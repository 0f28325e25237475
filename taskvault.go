// Package taskvault assembles the storage engine from configuration.
//
// The engine persists JSON records per project with crash-consistent atomic
// writes and multi-file transactions. Most callers want Open, then the
// Store for plain reads and writes and the Txn coordinator for grouped ones.
package taskvault

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskvault/pkg/config"
	"github.com/fyrsmithlabs/taskvault/pkg/fsio"
	"github.com/fyrsmithlabs/taskvault/pkg/janitor"
	"github.com/fyrsmithlabs/taskvault/pkg/logging"
	"github.com/fyrsmithlabs/taskvault/pkg/store"
	"github.com/fyrsmithlabs/taskvault/pkg/telemetry"
	"github.com/fyrsmithlabs/taskvault/pkg/txn"
)

// Engine bundles the configured storage components.
type Engine struct {
	Store     *store.Store
	Txn       *txn.Coordinator
	Janitor   *janitor.Janitor
	Telemetry *telemetry.Telemetry

	logger *zap.Logger
}

// Open builds an Engine from cfg.
//
// A nil cfg loads configuration from the default file and environment. A nil
// logger gets one built from the logging section. When the janitor is enabled
// it starts sweeping immediately; Close stops it.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		loaded, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		built, err := logging.New(&logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Caller: cfg.Logging.Caller,
		})
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
		logger = built
	}

	tel, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	files := fsio.New(
		fsio.WithLogger(logger),
		fsio.WithIndent(cfg.Storage.Indent),
		fsio.WithFileMode(cfg.Storage.FileModePerm()),
		fsio.WithDirMode(cfg.Storage.DirModePerm()),
	)

	st, err := store.New(cfg.Storage.Root, files, logger)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	var txnOpts []txn.Option
	if cfg.Storage.SerializeSamePath {
		txnOpts = append(txnOpts, txn.WithPathSerialization())
	}
	coordinator, err := txn.NewCoordinator(st, logger, txnOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating transaction coordinator: %w", err)
	}

	eng := &Engine{
		Store:     st,
		Txn:       coordinator,
		Telemetry: tel,
		logger:    logger,
	}

	if cfg.Janitor.Enabled {
		jan, err := janitor.New(cfg.Storage.Root, &cfg.Janitor, logger, janitor.WithFiles(files))
		if err != nil {
			return nil, fmt.Errorf("creating janitor: %w", err)
		}
		if err := jan.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting janitor: %w", err)
		}
		eng.Janitor = jan
	}

	logger.Info("storage engine opened",
		zap.String("root", cfg.Storage.Root),
		zap.Bool("janitor", cfg.Janitor.Enabled),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))

	return eng, nil
}

// Close stops background work and flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}

	var errs []error
	if e.Janitor != nil {
		e.Janitor.Stop()
	}
	if e.Telemetry != nil {
		if err := e.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
