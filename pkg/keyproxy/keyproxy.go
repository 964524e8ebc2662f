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

// Package keyproxy turns declared key metadata into usable encryption keys
// and decides whether a persisted canary was written under a given key.
//
// Matching is done by trial decryption. A provider's ordinary wrong-key
// signal yields false; any other decryption failure is wrapped in
// types.ErrIncorrectKey and must abort key mapping.
package keyproxy

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// KeyProxy produces the key described by one KeyMetadata entry and tests
// canaries against it.
type KeyProxy interface {
	// GetKey returns the key, deriving or resolving it on first use.
	GetKey(ctx context.Context) (*types.EncryptionKey, error)

	// MatchesCanary reports whether canary was encrypted under this key.
	MatchesCanary(ctx context.Context, canary *types.EncryptionKeyCanary) (bool, error)

	// Salt returns the salt the current key was derived with, or nil.
	Salt() []byte

	// Metadata returns the declared key metadata.
	Metadata() types.KeyMetadata

	// Kind returns the proxy variant.
	Kind() types.ProxyKind
}

// New returns the proxy variant implied by meta for keys held by svc.
func New(svc types.EncryptionService, meta types.KeyMetadata) (KeyProxy, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: nil encryption service", ErrInvalidMetadata)
	}
	switch kind := meta.Kind(svc.Type()); kind {
	case types.ProxyPassword:
		return NewPasswordKeyProxy(svc, meta)
	case types.ProxyStatic:
		return NewStaticKeyProxy(svc, meta)
	case types.ProxyExternal:
		return NewExternalKeyProxy(svc, meta)
	default:
		return nil, fmt.Errorf("%w: unsupported proxy kind %q", ErrInvalidMetadata, kind)
	}
}

// trialDecrypt decrypts the canary with key and compares the plaintext to
// the accepted sentinels.
func trialDecrypt(ctx context.Context, key *types.EncryptionKey, canary *types.EncryptionKeyCanary, sentinels ...string) (bool, error) {
	plaintext, err := key.Provider.Decrypt(ctx, key, canary.EncryptedCanaryValue, canary.Nonce)
	if err != nil {
		if types.IsKeyMismatch(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: canary %s: %w", types.ErrIncorrectKey, canary.ID, err)
	}
	for _, s := range sentinels {
		if subtle.ConstantTimeCompare(plaintext, []byte(s)) == 1 {
			return true, nil
		}
	}
	return false, nil
}
