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

// Package file provides a directory-backed storage.Backend that several
// processes can share. Create is exclusive, so two processes racing to
// create the same key never overwrite each other.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-keycanary/pkg/storage"
)

const (
	// Default directory permissions (owner rwx only)
	defaultDirPerms = 0700

	defaultFilePerms = 0600

	// tmpSuffix marks files still being written.
	tmpSuffix = ".tmp"
)

// FileStorage stores each key as a file below rootDir.
type FileStorage struct {
	rootDir string
}

// New creates a FileStorage rooted at rootDir, creating it with 0700
// permissions if needed.
func New(rootDir string) (*FileStorage, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("file storage: root directory cannot be empty")
	}
	if err := os.MkdirAll(rootDir, defaultDirPerms); err != nil {
		return nil, fmt.Errorf("file storage: failed to create root directory: %w", err)
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("file storage: %w", err)
	}
	return &FileStorage{rootDir: abs}, nil
}

// Get implements storage.Backend.
func (f *FileStorage) Get(key string) ([]byte, error) {
	path, err := f.keyToPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("file storage: failed to read key %q: %w", key, err)
	}
	return data, nil
}

// Create implements storage.Backend. The value is written to a temporary
// file and hard-linked into place; the link fails if the key exists, and
// readers never see a partially written file.
func (f *FileStorage) Create(key string, value []byte, opts *storage.Options) error {
	path, err := f.keyToPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerms); err != nil {
		return fmt.Errorf("file storage: failed to create directory for key %q: %w", key, err)
	}

	perms := fs.FileMode(defaultFilePerms)
	if opts != nil && opts.Permissions != 0 {
		perms = opts.Permissions
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("file storage: failed to create key %q: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("file storage: failed to write key %q: %w", key, err)
	}
	if err := tmp.Chmod(perms); err != nil {
		tmp.Close()
		return fmt.Errorf("file storage: failed to chmod key %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file storage: failed to sync key %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file storage: failed to close key %q: %w", key, err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("file storage: failed to publish key %q: %w", key, err)
	}
	return nil
}

// List implements storage.Backend. Keys are sorted.
func (f *FileStorage) List(prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := filepath.WalkDir(f.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(f.rootDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file storage: failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists implements storage.Backend.
func (f *FileStorage) Exists(key string) (bool, error) {
	path, err := f.keyToPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("file storage: failed to check key %q: %w", key, err)
	}
	return true, nil
}

// Close is a no-op for file storage.
func (f *FileStorage) Close() error {
	return nil
}

// keyToPath maps a key to a path below rootDir, rejecting traversal.
func (f *FileStorage) keyToPath(key string) (string, error) {
	if key == "" || strings.Contains(key, "\x00") || filepath.IsAbs(key) || strings.HasSuffix(key, tmpSuffix) {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}
	path := filepath.Join(f.rootDir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, f.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes storage root", storage.ErrInvalidKey, key)
	}
	return path, nil
}

var _ storage.Backend = (*FileStorage)(nil)
