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

// Package software implements the internal AES-GCM encryption engine used
// for password-derived and statically configured keys.
package software

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

const (
	// NonceSize is the standard GCM nonce size.
	NonceSize = 12

	// TagSize is the GCM authentication tag size in bytes.
	TagSize = 16
)

// Engine is the in-process AES-GCM provider. It holds no key material of its
// own; each operation uses the secret carried by the key handle.
type Engine struct {
	name string
	rand io.Reader
}

// New returns an engine reading randomness from crypto/rand.
func New(name string) *Engine {
	return NewWithRand(name, rand.Reader)
}

// NewWithRand returns an engine reading randomness from r.
func NewWithRand(name string, r io.Reader) *Engine {
	return &Engine{name: name, rand: r}
}

// Type implements types.EncryptionService.
func (e *Engine) Type() types.ProviderType {
	return types.ProviderInternal
}

// Name implements types.EncryptionService.
func (e *Engine) Name() string {
	return e.name
}

// Encrypt implements types.EncryptionService.
func (e *Engine) Encrypt(_ context.Context, key *types.EncryptionKey, plaintext []byte) ([]byte, []byte, error) {
	gcm, err := e.aead(key)
	if err != nil {
		return nil, nil, err
	}

	nonce, err := e.GenerateRandom(NonceSize)
	if err != nil {
		return nil, nil, fmt.Errorf("software: failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt implements types.EncryptionService.
func (e *Engine) Decrypt(_ context.Context, key *types.EncryptionKey, ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := e.aead(key)
	if err != nil {
		return nil, err
	}

	// A nonce of another size cannot have come from this engine.
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("software: %w: nonce length %d", types.ErrAuthenticationFailed, len(nonce))
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, fmt.Errorf("software: %w: %d bytes is shorter than the tag", types.ErrMalformedCiphertext, len(ciphertext))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("software: %w", types.ErrAuthenticationFailed)
	}
	return plaintext, nil
}

// GenerateRandom implements types.EncryptionService.
func (e *Engine) GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(e.rand, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Reconnect implements types.EncryptionService. The engine has no
// connection, so there is nothing to restore.
func (e *Engine) Reconnect(context.Context, error) error {
	return nil
}

// Close implements types.EncryptionService.
func (e *Engine) Close() error {
	return nil
}

func (e *Engine) aead(key *types.EncryptionKey) (cipher.AEAD, error) {
	if key == nil {
		return nil, fmt.Errorf("software: %w: nil key", types.ErrInvalidKeyHandle)
	}
	switch len(key.Handle.Secret) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("software: %w: AES key must be 16, 24 or 32 bytes, got %d",
			types.ErrInvalidKeyHandle, len(key.Handle.Secret))
	}

	block, err := aes.NewCipher(key.Handle.Secret)
	if err != nil {
		return nil, fmt.Errorf("software: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("software: failed to create GCM: %w", err)
	}
	return gcm, nil
}

var _ types.EncryptionService = (*Engine)(nil)
