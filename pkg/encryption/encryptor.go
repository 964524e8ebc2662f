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

package encryption

import (
	"context"

	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// Encryptor adapts a Service to optional string values. A nil plaintext is
// stored as an all-absent value and never reaches a provider.
type Encryptor struct {
	svc Service
}

// NewEncryptor returns an Encryptor backed by svc.
func NewEncryptor(svc Service) *Encryptor {
	return &Encryptor{svc: svc}
}

// Encrypt seals value under the active key.
func (e *Encryptor) Encrypt(ctx context.Context, value *string) (*types.EncryptedValue, error) {
	if value == nil {
		return &types.EncryptedValue{}, nil
	}
	return e.svc.Encrypt(ctx, []byte(*value))
}

// Decrypt returns the plaintext of value, or nil for an absent value.
func (e *Encryptor) Decrypt(ctx context.Context, value *types.EncryptedValue) (*string, error) {
	if value.IsAbsent() {
		return nil, nil
	}
	plaintext, err := e.svc.Decrypt(ctx, value)
	if err != nil {
		return nil, err
	}
	s := string(plaintext)
	return &s, nil
}
