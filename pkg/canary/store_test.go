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

package canary

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keycanary/pkg/storage/file"
	"github.com/jeremyhahn/go-keycanary/pkg/storage/memory"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

func TestStorageStoreSaveAssignsID(t *testing.T) {
	ctx := context.Background()
	s := NewStorageStore(memory.New())

	in := &types.EncryptionKeyCanary{EncryptedCanaryValue: []byte("ct"), Nonce: []byte("n"), Salt: []byte("s")}
	saved, err := s.Save(ctx, in)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.Equal(t, uuid.Nil, in.ID, "input must not be mutated")

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, saved.ID, all[0].ID)
	assert.Equal(t, []byte("ct"), all[0].EncryptedCanaryValue)
	assert.Equal(t, []byte("s"), all[0].Salt)
}

func TestStorageStoreRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewStorageStore(memory.New())
	id := uuid.New()

	_, err := s.Save(ctx, &types.EncryptionKeyCanary{ID: id})
	require.NoError(t, err)
	_, err = s.Save(ctx, &types.EncryptionKeyCanary{ID: id})
	assert.ErrorIs(t, err, ErrDuplicateCanary)
}

func TestStorageStoreFindAllOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	backend, err := file.New(t.TempDir())
	require.NoError(t, err)
	s := NewStorageStore(backend)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer, err := s.Save(ctx, &types.EncryptionKeyCanary{CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	older, err := s.Save(ctx, &types.EncryptionKeyCanary{CreatedAt: base})
	require.NoError(t, err)

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, older.ID, all[0].ID)
	assert.Equal(t, newer.ID, all[1].ID)
}

func TestStorageStoreSharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b1, err := file.New(dir)
	require.NoError(t, err)
	b2, err := file.New(dir)
	require.NoError(t, err)

	saved, err := NewStorageStore(b1).Save(ctx, &types.EncryptionKeyCanary{EncryptedCanaryValue: []byte("x")})
	require.NoError(t, err)

	all, err := NewStorageStore(b2).FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, saved.ID, all[0].ID)
}

func TestStorageStoreFindAllHonoursContext(t *testing.T) {
	s := NewStorageStore(memory.New())
	_, err := s.Save(context.Background(), &types.EncryptionKeyCanary{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.FindAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
