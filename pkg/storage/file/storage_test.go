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

package file

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keycanary/pkg/storage"
)

func newTestStorage(t *testing.T) (*FileStorage, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	return s, dir
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestCreateGet(t *testing.T) {
	s, dir := newTestStorage(t)

	require.NoError(t, s.Create("canaries/abc.json", []byte(`{"id":"abc"}`), nil))

	got, err := s.Get("canaries/abc.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"abc"}`, string(got))

	info, err := os.Stat(filepath.Join(dir, "canaries", "abc.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = s.Get("canaries/missing.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateIsExclusiveAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	require.NoError(t, err)
	b, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, a.Create("k", []byte("first"), nil))
	assert.ErrorIs(t, b.Create("k", []byte("second"), nil), storage.ErrAlreadyExists)

	got, err := b.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	dir := t.TempDir()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := New(dir)
			if !assert.NoError(t, err) {
				return
			}
			if s.Create("race", []byte("x"), nil) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	keys, err := (&FileStorage{rootDir: dir}).List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"race"}, keys, "temporary files must not remain or be listed")
}

func TestListAndExists(t *testing.T) {
	s, _ := newTestStorage(t)
	for _, k := range []string{"canaries/b", "canaries/a", "other"} {
		require.NoError(t, s.Create(k, nil, nil))
	}

	keys, err := s.List("canaries/")
	require.NoError(t, err)
	assert.Equal(t, []string{"canaries/a", "canaries/b"}, keys)

	ok, err := s.Exists("other")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRejectsUnsafeKeys(t *testing.T) {
	s, _ := newTestStorage(t)
	tests := []string{"", "../escape", "/abs/path", "a/../../b", "nul\x00byte", "x.tmp"}
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			assert.ErrorIs(t, s.Create(key, []byte("x"), nil), storage.ErrInvalidKey)
		})
	}
}
