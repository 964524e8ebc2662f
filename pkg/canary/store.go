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

// Package canary persists encryption key canaries. Canaries are only ever
// created and read; nothing in go-keycanary updates or deletes them.
package canary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-keycanary/pkg/storage"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// ErrDuplicateCanary is returned when saving a canary whose id already exists.
var ErrDuplicateCanary = errors.New("canary: duplicate canary id")

// Store is the persistence contract for canaries.
type Store interface {
	// FindAll returns every persisted canary, oldest first.
	FindAll(ctx context.Context) ([]*types.EncryptionKeyCanary, error)

	// Save inserts canary, assigning an id and creation time when unset,
	// and returns the stored record.
	Save(ctx context.Context, canary *types.EncryptionKeyCanary) (*types.EncryptionKeyCanary, error)
}

// Prepare returns a copy of c with an id and creation time filled in.
func Prepare(c *types.EncryptionKeyCanary) *types.EncryptionKeyCanary {
	out := *c
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	return &out
}

// SortByCreation orders canaries oldest first, by id on ties.
func SortByCreation(canaries []*types.EncryptionKeyCanary) {
	sort.SliceStable(canaries, func(i, j int) bool {
		if !canaries[i].CreatedAt.Equal(canaries[j].CreatedAt) {
			return canaries[i].CreatedAt.Before(canaries[j].CreatedAt)
		}
		return canaries[i].ID.String() < canaries[j].ID.String()
	})
}

// StorageStore keeps canaries as JSON documents in a storage.Backend.
type StorageStore struct {
	backend storage.Backend
	prefix  string
}

// DefaultPrefix is the key prefix used by StorageStore.
const DefaultPrefix = "canaries/"

// NewStorageStore returns a store writing below DefaultPrefix.
func NewStorageStore(backend storage.Backend) *StorageStore {
	return &StorageStore{backend: backend, prefix: DefaultPrefix}
}

// FindAll implements Store.
func (s *StorageStore) FindAll(ctx context.Context) ([]*types.EncryptionKeyCanary, error) {
	keys, err := s.backend.List(s.prefix)
	if err != nil {
		return nil, fmt.Errorf("canary: list: %w", err)
	}

	out := make([]*types.EncryptionKeyCanary, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := s.backend.Get(key)
		if err != nil {
			return nil, fmt.Errorf("canary: read %s: %w", key, err)
		}
		var c types.EncryptionKeyCanary
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("canary: decode %s: %w", key, err)
		}
		out = append(out, &c)
	}
	SortByCreation(out)
	return out, nil
}

// Save implements Store.
func (s *StorageStore) Save(_ context.Context, c *types.EncryptionKeyCanary) (*types.EncryptionKeyCanary, error) {
	stored := Prepare(c)
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("canary: encode: %w", err)
	}

	key := path.Join(s.prefix, stored.ID.String()+".json")
	if err := s.backend.Create(key, data, storage.DefaultOptions()); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCanary, stored.ID)
		}
		return nil, fmt.Errorf("canary: save %s: %w", stored.ID, err)
	}
	return stored, nil
}

var _ Store = (*StorageStore)(nil)
