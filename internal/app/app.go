// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keycanary.
//
// go-keycanary is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package app assembles providers, the canary store, the key set and the
// encryption service from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-keycanary/internal/config"
	"github.com/jeremyhahn/go-keycanary/pkg/canary"
	"github.com/jeremyhahn/go-keycanary/pkg/canary/pgstore"
	"github.com/jeremyhahn/go-keycanary/pkg/canary/sqlstore"
	"github.com/jeremyhahn/go-keycanary/pkg/encryption"
	"github.com/jeremyhahn/go-keycanary/pkg/keyset"
	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/mapper"
	"github.com/jeremyhahn/go-keycanary/pkg/provider"
	"github.com/jeremyhahn/go-keycanary/pkg/storage/file"
	"github.com/jeremyhahn/go-keycanary/pkg/storage/memory"
)

// App holds the running components. Close releases them.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Factory   *provider.Factory
	Store     canary.Store
	Keys      *keyset.KeySet
	Service   *encryption.RetryingService
	Encryptor *encryption.Encryptor

	closers []func() error
}

// New opens the canary store, maps the configured keys and returns a ready
// App. A nil logger is built from cfg.Logging.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		if err != nil {
			return nil, err
		}
	}

	a := &App{Config: cfg, Logger: logger}

	store, closeStore, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	a.Factory = provider.NewFactory(logger)
	a.closers = append(a.closers, a.Factory.Close)

	m := mapper.New(cfg.Providers, a.Factory, store, cfg.Encryption.Settings, logger)
	a.Keys = keyset.New(m.MapUUIDsToKeys, logger)
	a.Service = encryption.NewRetryingService(a.Keys, logger)
	a.Encryptor = encryption.NewEncryptor(a.Service)

	if err := a.Keys.Reload(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

// Close releases providers and the canary store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the configured canary store and returns its close func.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (canary.Store, func() error, error) {
	switch cfg.Backend {
	case config.StorageMemory, "":
		backend := memory.New()
		return canary.NewStorageStore(backend), backend.Close, nil

	case config.StorageFile:
		backend, err := file.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open canary directory: %w", err)
		}
		return canary.NewStorageStore(backend), backend.Close, nil

	case config.StorageSQLite:
		db, err := sqlstore.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite canary store: %w", err)
		}
		store := sqlstore.New(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, errors.Join(fmt.Errorf("failed to migrate sqlite canary store: %w", err), store.Close())
		}
		return store, store.Close, nil

	case config.StoragePostgres:
		store, err := pgstore.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect postgres canary store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to migrate postgres canary store: %w", err)
		}
		return store, func() error { store.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("%w: invalid storage backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}
