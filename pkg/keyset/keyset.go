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

// Package keyset holds the runtime registry of identified encryption keys.
//
// Readers always see a complete snapshot: Reload builds a fresh registry
// off to the side and publishes it with a single atomic swap.
package keyset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/metrics"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

var (
	// ErrNoActiveKey is returned when no key has been marked active.
	ErrNoActiveKey = errors.New("keyset: no active key")

	// ErrDuplicateKey is returned when an id is registered twice.
	ErrDuplicateKey = errors.New("keyset: duplicate key id")

	// ErrNoLoader is returned by Reload when the set has no loader.
	ErrNoLoader = errors.New("keyset: no loader configured")
)

var tracer = otel.Tracer("github.com/jeremyhahn/go-keycanary/pkg/keyset")

// Registrar receives keys while a snapshot is being built.
type Registrar interface {
	// Add registers key under id.
	Add(id uuid.UUID, key *types.EncryptionKey) error

	// SetActive marks a registered id as the active key.
	SetActive(id uuid.UUID) error
}

// Loader populates a registrar from the current provider and canary state.
type Loader func(ctx context.Context, reg Registrar) error

type snapshot struct {
	keys   map[uuid.UUID]*types.EncryptionKey
	active uuid.UUID
}

var emptySnapshot = &snapshot{keys: map[uuid.UUID]*types.EncryptionKey{}}

// KeySet is safe for concurrent use.
type KeySet struct {
	loader Loader
	logger *logging.Logger

	reloadMu sync.Mutex
	current  atomic.Pointer[snapshot]
}

// New returns an empty key set that Reload fills with loader.
func New(loader Loader, logger *logging.Logger) *KeySet {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	ks := &KeySet{loader: loader, logger: logger}
	ks.current.Store(emptySnapshot)
	return ks
}

// Get returns the key registered under id.
func (ks *KeySet) Get(id uuid.UUID) (*types.EncryptionKey, bool) {
	key, ok := ks.current.Load().keys[id]
	return key, ok
}

// Active returns the active key.
func (ks *KeySet) Active() (*types.EncryptionKey, error) {
	snap := ks.current.Load()
	if snap.active == uuid.Nil {
		return nil, ErrNoActiveKey
	}
	return snap.keys[snap.active], nil
}

// ActiveUUID returns the id of the active key, or uuid.Nil.
func (ks *KeySet) ActiveUUID() uuid.UUID {
	return ks.current.Load().active
}

// InactiveUUIDs returns every registered id except the active one, sorted.
func (ks *KeySet) InactiveUUIDs() []uuid.UUID {
	snap := ks.current.Load()
	ids := make([]uuid.UUID, 0, len(snap.keys))
	for id := range snap.keys {
		if id != snap.active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Len returns the number of registered keys.
func (ks *KeySet) Len() int {
	return len(ks.current.Load().keys)
}

// Reload runs the loader into a new snapshot and publishes it. When the
// loader fails the previous snapshot stays in place.
func (ks *KeySet) Reload(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "keyset.Reload")
	defer span.End()

	if ks.loader == nil {
		return ErrNoLoader
	}

	ks.reloadMu.Lock()
	defer ks.reloadMu.Unlock()

	b := newBuilder()
	if err := ks.loader(ctx, b); err != nil {
		span.RecordError(err)
		metrics.RecordReload(metrics.StatusError)
		return fmt.Errorf("keyset: reload: %w", err)
	}

	ks.current.Store(b.snapshot())
	metrics.RecordReload(metrics.StatusSuccess)
	metrics.SetKeysTotal(float64(len(b.keys)))
	ks.logger.Info("encryption keys loaded", "keys", len(b.keys), "active", b.active)
	return nil
}

// builder collects registrations for one snapshot.
type builder struct {
	keys   map[uuid.UUID]*types.EncryptionKey
	active uuid.UUID
}

func newBuilder() *builder {
	return &builder{keys: make(map[uuid.UUID]*types.EncryptionKey)}
}

// Add implements Registrar.
func (b *builder) Add(id uuid.UUID, key *types.EncryptionKey) error {
	if id == uuid.Nil || key == nil {
		return fmt.Errorf("keyset: cannot register nil id or key")
	}
	if _, exists := b.keys[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, id)
	}
	b.keys[id] = key.WithID(id)
	return nil
}

// SetActive implements Registrar.
func (b *builder) SetActive(id uuid.UUID) error {
	if _, ok := b.keys[id]; !ok {
		return fmt.Errorf("keyset: cannot activate unregistered key %s", id)
	}
	b.active = id
	return nil
}

func (b *builder) snapshot() *snapshot {
	return &snapshot{keys: b.keys, active: b.active}
}
