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

package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keycanary/pkg/canary"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite("file:" + filepath.Join(t.TempDir(), "canaries.db"))
	require.NoError(t, err)

	s := New(db)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSaveAndFindAll(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	empty, err := s.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	second, err := s.Save(ctx, &types.EncryptionKeyCanary{
		EncryptedCanaryValue: []byte("ct-2"),
		Nonce:                []byte("nonce-2"),
		CreatedAt:            base.Add(time.Minute),
	})
	require.NoError(t, err)
	first, err := s.Save(ctx, &types.EncryptionKeyCanary{
		EncryptedCanaryValue: []byte("ct-1"),
		Nonce:                []byte("nonce-1"),
		Salt:                 []byte("salt-1"),
		CreatedAt:            base,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.ID)

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, []byte("ct-1"), all[0].EncryptedCanaryValue)
	assert.Equal(t, []byte("salt-1"), all[0].Salt)
	assert.True(t, all[0].HasSalt())

	assert.Equal(t, second.ID, all[1].ID)
	assert.False(t, all[1].HasSalt())
}

func TestSaveDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	id := uuid.New()

	_, err := s.Save(ctx, &types.EncryptionKeyCanary{ID: id, EncryptedCanaryValue: []byte("a")})
	require.NoError(t, err)
	_, err = s.Save(ctx, &types.EncryptionKeyCanary{ID: id, EncryptedCanaryValue: []byte("b")})
	assert.ErrorIs(t, err, canary.ErrDuplicateCanary)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := setupStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}
