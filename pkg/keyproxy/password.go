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

package keyproxy

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-keycanary/internal/password"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// PasswordKeyProxy derives AES-256 keys from a password with PBKDF2. The
// salt travels with the canary, so a match also fixes the salt this proxy
// uses from then on.
type PasswordKeyProxy struct {
	meta     types.KeyMetadata
	svc      types.EncryptionService
	password *password.ClearPassword

	mu   sync.Mutex
	key  *types.EncryptionKey
	salt []byte
}

// NewPasswordKeyProxy returns a proxy for a password-derived internal key.
func NewPasswordKeyProxy(svc types.EncryptionService, meta types.KeyMetadata) (*PasswordKeyProxy, error) {
	pw, err := password.NewClearPasswordFromString(meta.EncryptionPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMetadata, meta.Name(), err)
	}
	return &PasswordKeyProxy{meta: meta, svc: svc, password: pw}, nil
}

// DeriveKey derives the key for salt. It does not change the cached key.
func (p *PasswordKeyProxy) DeriveKey(salt []byte) (*types.EncryptionKey, error) {
	secret, err := p.password.DeriveKey(salt)
	if err != nil {
		return nil, err
	}
	return types.NewEncryptionKey(types.KeyHandle{Label: p.meta.Name(), Secret: secret}, p.svc), nil
}

// GenerateSalt draws a fresh salt from the provider's RNG.
func (p *PasswordKeyProxy) GenerateSalt() ([]byte, error) {
	salt, err := p.svc.GenerateRandom(password.SaltSize)
	if err != nil {
		return nil, fmt.Errorf("keyproxy: generate salt: %w", err)
	}
	return salt, nil
}

// GetKey implements KeyProxy. Without a matched canary the key is derived
// from a freshly generated salt.
func (p *PasswordKeyProxy) GetKey(context.Context) (*types.EncryptionKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key != nil {
		return p.key, nil
	}

	salt, err := p.GenerateSalt()
	if err != nil {
		return nil, err
	}
	key, err := p.DeriveKey(salt)
	if err != nil {
		return nil, err
	}
	p.key, p.salt = key, salt
	return key, nil
}

// MatchesCanary implements KeyProxy. Canaries without a salt were not
// written under a password-derived key.
func (p *PasswordKeyProxy) MatchesCanary(ctx context.Context, canary *types.EncryptionKeyCanary) (bool, error) {
	if !canary.HasSalt() {
		return false, nil
	}

	key, err := p.DeriveKey(canary.Salt)
	if err != nil {
		return false, err
	}
	ok, err := trialDecrypt(ctx, key, canary, types.CanaryValue)
	if err != nil || !ok {
		return false, err
	}

	p.mu.Lock()
	p.key, p.salt = key, bytes.Clone(canary.Salt)
	p.mu.Unlock()
	return true, nil
}

// Salt implements KeyProxy.
func (p *PasswordKeyProxy) Salt() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.salt)
}

// Metadata implements KeyProxy.
func (p *PasswordKeyProxy) Metadata() types.KeyMetadata {
	return p.meta
}

// Kind implements KeyProxy.
func (p *PasswordKeyProxy) Kind() types.ProxyKind {
	return types.ProxyPassword
}
