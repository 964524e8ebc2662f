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

// Package mapper reconciles configured encryption keys with persisted
// canaries and fills a key set with the result.
//
// Every configured key is tried against every canary by trial decryption.
// A key that decrypts a canary to the sentinel value is registered under
// that canary's id. The active key must end up registered: it is either
// matched, given a freshly created canary, or, when this process may not
// create canaries, waited for until another process writes one.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jeremyhahn/go-keycanary/pkg/canary"
	"github.com/jeremyhahn/go-keycanary/pkg/keyproxy"
	"github.com/jeremyhahn/go-keycanary/pkg/keyset"
	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/metrics"
	"github.com/jeremyhahn/go-keycanary/pkg/provider"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

var tracer = otel.Tracer("github.com/jeremyhahn/go-keycanary/pkg/mapper")

// ServiceFactory resolves provider configuration to an engine.
type ServiceFactory interface {
	GetEncryptionService(ctx context.Context, cfg *provider.Config) (types.EncryptionService, error)
}

// CanaryMapper maps configured keys to canary ids.
type CanaryMapper struct {
	providers []*provider.Config
	factory   ServiceFactory
	store     canary.Store
	settings  Settings
	logger    *logging.Logger
}

// New returns a mapper for the configured providers.
func New(providers []*provider.Config, factory ServiceFactory, store canary.Store, settings Settings, logger *logging.Logger) *CanaryMapper {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &CanaryMapper{
		providers: providers,
		factory:   factory,
		store:     store,
		settings:  settings.withDefaults(),
		logger:    logger.With("component", "mapper"),
	}
}

// mapping tracks one run of MapUUIDsToKeys.
type mapping struct {
	reg     keyset.Registrar
	proxies []keyproxy.KeyProxy
	active  keyproxy.KeyProxy
	matched map[keyproxy.KeyProxy]uuid.UUID
	claimed map[uuid.UUID]bool
	seen    map[uuid.UUID]bool
}

// MapUUIDsToKeys registers every key that matches a canary in reg and
// marks the active key. It has the signature of a keyset.Loader.
func (m *CanaryMapper) MapUUIDsToKeys(ctx context.Context, reg keyset.Registrar) error {
	ctx, span := tracer.Start(ctx, "mapper.MapUUIDsToKeys")
	defer span.End()

	run, err := m.resolve(ctx, reg)
	if err != nil {
		span.RecordError(err)
		return err
	}

	canaries, err := m.store.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("mapper: fetch canaries: %w", err)
	}
	span.SetAttributes(attribute.Int("canaries", len(canaries)))

	if err := run.match(ctx, canaries); err != nil {
		span.RecordError(err)
		return err
	}

	if id, ok := run.matched[run.active]; ok {
		m.logger.Debug("active key matched existing canary", "canary", id)
		return reg.SetActive(id)
	}

	if m.settings.KeyCreationEnabled {
		return m.createActiveCanary(ctx, span, run)
	}
	return m.waitForActiveCanary(ctx, span, run)
}

// resolve builds one proxy per configured key and finds the active one.
func (m *CanaryMapper) resolve(ctx context.Context, reg keyset.Registrar) (*mapping, error) {
	run := &mapping{
		reg:     reg,
		matched: make(map[keyproxy.KeyProxy]uuid.UUID),
		claimed: make(map[uuid.UUID]bool),
		seen:    make(map[uuid.UUID]bool),
	}

	for _, cfg := range m.providers {
		svc, err := m.factory.GetEncryptionService(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("mapper: %w", err)
		}
		for _, meta := range cfg.Keys {
			proxy, err := keyproxy.New(svc, meta)
			if err != nil {
				return nil, fmt.Errorf("mapper: provider %s: %w", cfg.Identity(), err)
			}
			run.proxies = append(run.proxies, proxy)
			if !meta.Active {
				continue
			}
			if run.active != nil {
				return nil, ErrMultipleActiveKeys
			}
			run.active = proxy
		}
	}

	if run.active == nil {
		return nil, ErrNoActiveKey
	}
	return run, nil
}

// match tries every unmatched proxy against canaries not seen before. A
// canary is registered to the first proxy that matches it.
func (r *mapping) match(ctx context.Context, canaries []*types.EncryptionKeyCanary) error {
	var fresh []*types.EncryptionKeyCanary
	for _, c := range canaries {
		if !r.seen[c.ID] {
			r.seen[c.ID] = true
			fresh = append(fresh, c)
		}
	}

	for _, proxy := range r.proxies {
		if _, done := r.matched[proxy]; done {
			continue
		}
		for _, c := range fresh {
			if r.claimed[c.ID] {
				continue
			}
			ok, err := proxy.MatchesCanary(ctx, c)
			if err != nil {
				metrics.RecordError(metrics.OpMatch, proxy.Metadata().Name(), "incorrect_key")
				return err
			}
			if !ok {
				continue
			}
			if err := r.register(ctx, proxy, c.ID); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func (r *mapping) register(ctx context.Context, proxy keyproxy.KeyProxy, id uuid.UUID) error {
	key, err := proxy.GetKey(ctx)
	if err != nil {
		return fmt.Errorf("mapper: key %s: %w", proxy.Metadata().Name(), err)
	}
	if err := r.reg.Add(id, key); err != nil {
		return err
	}
	r.matched[proxy] = id
	r.claimed[id] = true
	return nil
}

// createActiveCanary encrypts the sentinel under the active key and
// persists it.
func (m *CanaryMapper) createActiveCanary(ctx context.Context, span trace.Span, run *mapping) error {
	proxy := run.active
	meta := proxy.Metadata()

	key, err := proxy.GetKey(ctx)
	if err != nil {
		return fmt.Errorf("mapper: active key %s: %w", meta.Name(), err)
	}

	if p, ok := key.Provider.(types.KeyProvisioner); ok && proxy.Kind() == types.ProxyExternal {
		if err := p.EnsureKey(ctx, key.Handle.Label); err != nil {
			return fmt.Errorf("mapper: provision active key %s: %w", meta.Name(), err)
		}
	}

	ciphertext, nonce, err := key.Provider.Encrypt(ctx, key, []byte(types.CanaryValue))
	if err != nil {
		return fmt.Errorf("mapper: encrypt canary for %s: %w", meta.Name(), err)
	}

	saved, err := m.store.Save(ctx, &types.EncryptionKeyCanary{
		EncryptedCanaryValue: ciphertext,
		Nonce:                nonce,
		Salt:                 proxy.Salt(),
	})
	if err != nil {
		return fmt.Errorf("mapper: save canary for %s: %w", meta.Name(), err)
	}
	metrics.RecordCanaryCreated()
	span.AddEvent("canary created", trace.WithAttributes(attribute.String("canary", saved.ID.String())))

	if err := run.register(ctx, proxy, saved.ID); err != nil {
		return err
	}
	m.logger.Info("created canary for active key", "key", meta.Name(), "canary", saved.ID)
	return run.reg.SetActive(saved.ID)
}

// waitForActiveCanary polls the store until a canary for the active key
// appears or the wait timeout elapses.
func (m *CanaryMapper) waitForActiveCanary(ctx context.Context, span trace.Span, run *mapping) error {
	start := time.Now()
	defer func() { metrics.ObserveCanaryWait(time.Since(start).Seconds()) }()

	m.logger.Info("waiting for active key canary",
		"key", run.active.Metadata().Name(),
		"timeout", m.settings.CanaryWaitTimeout)

	waitCtx, cancel := context.WithTimeout(ctx, m.settings.CanaryWaitTimeout)
	defer cancel()

	// The store was just read; the first poll waits a full interval.
	limiter := rate.NewLimiter(rate.Every(m.settings.PollInterval), 1)
	limiter.Allow()

	for polls := 1; ; polls++ {
		if !pause(waitCtx, limiter) {
			if ctx.Err() != nil {
				return fmt.Errorf("mapper: wait for active canary: %w", ctx.Err())
			}
			span.RecordError(ErrCanaryWaitTimeout)
			return ErrCanaryWaitTimeout
		}

		canaries, err := m.store.FindAll(waitCtx)
		if err != nil {
			if ctx.Err() == nil && waitCtx.Err() != nil {
				return ErrCanaryWaitTimeout
			}
			return fmt.Errorf("mapper: fetch canaries: %w", err)
		}
		if err := run.match(ctx, canaries); err != nil {
			return err
		}

		if id, ok := run.matched[run.active]; ok {
			m.logger.Info("active key canary appeared", "canary", id, "polls", polls, "waited", time.Since(start))
			return run.reg.SetActive(id)
		}
	}
}

// pause blocks until the limiter grants the next poll. It returns false
// when ctx ends first.
func pause(ctx context.Context, limiter *rate.Limiter) bool {
	r := limiter.Reserve()
	timer := time.NewTimer(r.Delay())
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		r.Cancel()
		return false
	}
}

// IsConfigurationError reports whether err is a key configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrNoActiveKey) || errors.Is(err, ErrMultipleActiveKeys)
}
