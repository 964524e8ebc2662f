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

package memory

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keycanary/pkg/storage"
)

func TestCreateGet(t *testing.T) {
	s := New()

	require.NoError(t, s.Create("canaries/a", []byte("value"), nil))
	got, err := s.Get("canaries/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	got[0] = 'X'
	again, _ := s.Get("canaries/a")
	assert.Equal(t, []byte("value"), again)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Create("", nil, nil), storage.ErrInvalidKey)
}

func TestCreateIsExclusive(t *testing.T) {
	s := New()
	require.NoError(t, s.Create("k", []byte("first"), nil))
	assert.ErrorIs(t, s.Create("k", []byte("second"), nil), storage.ErrAlreadyExists)

	got, _ := s.Get("k")
	assert.Equal(t, []byte("first"), got)
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	s := New()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Create("race", []byte("x"), nil) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestListAndExists(t *testing.T) {
	s := New()
	for _, k := range []string{"canaries/b", "canaries/a", "other/c"} {
		require.NoError(t, s.Create(k, nil, nil))
	}

	keys, err := s.List("canaries/")
	require.NoError(t, err)
	assert.Equal(t, []string{"canaries/a", "canaries/b"}, keys)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ok, err := s.Exists("other/c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClosed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get("k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Create("k", nil, nil), storage.ErrClosed)
	_, err = s.List("")
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = s.Exists("k")
	assert.ErrorIs(t, err, storage.ErrClosed)
}
