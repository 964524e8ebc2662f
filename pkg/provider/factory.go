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

// Package provider resolves provider configuration into encryption engines.
// A Factory hands out exactly one engine per provider identity so that
// connection and reconnect state is shared by every key the provider holds.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/awskms"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/azurekv"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/gcpkms"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/pkcs11"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/software"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/vault"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// Builder constructs the engine for a provider configuration.
type Builder func(ctx context.Context, cfg *Config, logger *logging.Logger) (types.EncryptionService, error)

// Factory caches one engine per provider identity. It is safe for
// concurrent use.
type Factory struct {
	logger   *logging.Logger
	builders map[types.ProviderType]Builder

	mu       sync.Mutex
	services map[string]types.EncryptionService
	closed   bool
}

// NewFactory returns a factory with builders for every provider type.
func NewFactory(logger *logging.Logger) *Factory {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Factory{
		logger:   logger,
		services: make(map[string]types.EncryptionService),
		builders: map[types.ProviderType]Builder{
			types.ProviderInternal:     buildSoftware,
			types.ProviderHSM:          buildPKCS11,
			types.ProviderAWSKMS:       buildAWSKMS,
			types.ProviderGCPKMS:       buildGCPKMS,
			types.ProviderAzureKV:      buildAzureKV,
			types.ProviderVaultTransit: buildVault,
		},
	}
}

// Register replaces the builder for a provider type.
func (f *Factory) Register(t types.ProviderType, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[t] = b
}

// GetEncryptionService returns the cached engine for cfg, building it on
// first use. Repeated calls with the same identity return the same instance.
func (f *Factory) GetEncryptionService(ctx context.Context, cfg *Config) (types.EncryptionService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil provider config", ErrInvalidConfig)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrFactoryClosed
	}

	id := cfg.Identity()
	if svc, ok := f.services[id]; ok {
		return svc, nil
	}

	build, ok := f.builders[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownProviderType, cfg.Type)
	}

	svc, err := build(ctx, cfg, f.logger)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", id, err)
	}
	f.services[id] = svc
	f.logger.Debug("initialized encryption provider", "provider", id)
	return svc, nil
}

// Services returns every engine built so far.
func (f *Factory) Services() []types.EncryptionService {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.EncryptionService, 0, len(f.services))
	for _, svc := range f.services {
		out = append(out, svc)
	}
	return out
}

// Close closes every cached engine. The factory cannot be used afterwards.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for id, svc := range f.services {
		if err := svc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", id, err))
		}
	}
	f.services = make(map[string]types.EncryptionService)
	f.closed = true
	return errors.Join(errs...)
}

func buildSoftware(_ context.Context, cfg *Config, _ *logging.Logger) (types.EncryptionService, error) {
	return software.New(cfg.Name), nil
}

func buildPKCS11(_ context.Context, cfg *Config, logger *logging.Logger) (types.EncryptionService, error) {
	if cfg.PKCS11 == nil {
		return nil, fmt.Errorf("%w: missing pkcs11 settings", ErrInvalidConfig)
	}
	return pkcs11.New(cfg.Name, cfg.PKCS11, logger)
}

func buildAWSKMS(ctx context.Context, cfg *Config, logger *logging.Logger) (types.EncryptionService, error) {
	if cfg.AWSKMS == nil {
		return nil, fmt.Errorf("%w: missing aws_kms settings", ErrInvalidConfig)
	}
	return awskms.New(ctx, cfg.Name, cfg.AWSKMS, logger)
}

func buildGCPKMS(ctx context.Context, cfg *Config, logger *logging.Logger) (types.EncryptionService, error) {
	if cfg.GCPKMS == nil {
		return nil, fmt.Errorf("%w: missing gcp_kms settings", ErrInvalidConfig)
	}
	return gcpkms.New(ctx, cfg.Name, cfg.GCPKMS, logger)
}

func buildAzureKV(_ context.Context, cfg *Config, logger *logging.Logger) (types.EncryptionService, error) {
	if cfg.AzureKV == nil {
		return nil, fmt.Errorf("%w: missing azure_kv settings", ErrInvalidConfig)
	}
	return azurekv.New(cfg.Name, cfg.AzureKV, logger)
}

func buildVault(_ context.Context, cfg *Config, logger *logging.Logger) (types.EncryptionService, error) {
	if cfg.Vault == nil {
		return nil, fmt.Errorf("%w: missing vault settings", ErrInvalidConfig)
	}
	return vault.New(cfg.Name, cfg.Vault, logger)
}
