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

package keyset

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/software"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

func testKey(label string) *types.EncryptionKey {
	return types.NewEncryptionKey(types.KeyHandle{Label: label, Secret: make([]byte, 32)}, software.New("test"))
}

func loaderFor(active uuid.UUID, ids ...uuid.UUID) Loader {
	return func(_ context.Context, reg Registrar) error {
		for _, id := range ids {
			if err := reg.Add(id, testKey(id.String())); err != nil {
				return err
			}
		}
		if active != uuid.Nil {
			return reg.SetActive(active)
		}
		return nil
	}
}

func TestEmptyKeySet(t *testing.T) {
	ks := New(nil, logging.Discard())

	_, err := ks.Active()
	assert.ErrorIs(t, err, ErrNoActiveKey)
	assert.Equal(t, uuid.Nil, ks.ActiveUUID())
	assert.Zero(t, ks.Len())
	assert.Empty(t, ks.InactiveUUIDs())
	assert.ErrorIs(t, ks.Reload(context.Background()), ErrNoLoader)
}

func TestReloadPublishesSnapshot(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	ks := New(loaderFor(b, a, b, c), logging.Discard())
	require.NoError(t, ks.Reload(context.Background()))

	assert.Equal(t, 3, ks.Len())
	assert.Equal(t, b, ks.ActiveUUID())

	active, err := ks.Active()
	require.NoError(t, err)
	assert.Equal(t, b, active.ID)

	key, ok := ks.Get(a)
	require.True(t, ok)
	assert.Equal(t, a, key.ID)

	_, ok = ks.Get(uuid.New())
	assert.False(t, ok)

	inactive := ks.InactiveUUIDs()
	assert.ElementsMatch(t, []uuid.UUID{a, c}, inactive)
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	a := uuid.New()
	fail := false
	ks := New(func(ctx context.Context, reg Registrar) error {
		if fail {
			_ = reg.Add(uuid.New(), testKey("partial"))
			return errors.New("store unavailable")
		}
		return loaderFor(a, a)(ctx, reg)
	}, logging.Discard())

	require.NoError(t, ks.Reload(context.Background()))
	fail = true
	require.Error(t, ks.Reload(context.Background()))

	assert.Equal(t, 1, ks.Len())
	assert.Equal(t, a, ks.ActiveUUID())
}

func TestRegistrarRejectsInvalidRegistrations(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name   string
		loader Loader
	}{
		{"duplicate id", func(_ context.Context, reg Registrar) error {
			_ = reg.Add(id, testKey("a"))
			return reg.Add(id, testKey("b"))
		}},
		{"nil id", func(_ context.Context, reg Registrar) error {
			return reg.Add(uuid.Nil, testKey("a"))
		}},
		{"activate unknown", func(_ context.Context, reg Registrar) error {
			return reg.SetActive(uuid.New())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks := New(tt.loader, logging.Discard())
			assert.Error(t, ks.Reload(context.Background()))
			assert.Zero(t, ks.Len())
		})
	}
}

func TestRegisteredKeysAreCopies(t *testing.T) {
	id := uuid.New()
	original := testKey("k")
	ks := New(func(_ context.Context, reg Registrar) error {
		if err := reg.Add(id, original); err != nil {
			return err
		}
		return reg.SetActive(id)
	}, logging.Discard())
	require.NoError(t, ks.Reload(context.Background()))

	got, _ := ks.Get(id)
	assert.Equal(t, uuid.Nil, original.ID)
	assert.Equal(t, id, got.ID)
}

func TestConcurrentReadsDuringReload(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	ks := New(loaderFor(ids[0], ids...), logging.Discard())
	require.NoError(t, ks.Reload(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				active, err := ks.Active()
				if assert.NoError(t, err) {
					assert.Equal(t, ids[0], active.ID)
				}
				assert.Equal(t, 2, ks.Len())
			}
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, ks.Reload(context.Background()))
	}
	wg.Wait()
}
