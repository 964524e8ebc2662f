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
	"context"
	"encoding/hex"
	"fmt"

	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// ExternalKeyProxy references a key held by an HSM or cloud KMS.
type ExternalKeyProxy struct {
	meta types.KeyMetadata
	key  *types.EncryptionKey
}

// NewExternalKeyProxy returns a proxy for the device key named by
// meta.DeviceRef.
func NewExternalKeyProxy(svc types.EncryptionService, meta types.KeyMetadata) (*ExternalKeyProxy, error) {
	if meta.DeviceRef == "" {
		return nil, fmt.Errorf("%w: %s: device_ref is required", ErrInvalidMetadata, meta.Name())
	}
	return &ExternalKeyProxy{
		meta: meta,
		key:  types.NewEncryptionKey(types.KeyHandle{Label: meta.DeviceRef}, svc),
	}, nil
}

// GetKey implements KeyProxy.
func (p *ExternalKeyProxy) GetKey(context.Context) (*types.EncryptionKey, error) {
	return p.key, nil
}

// MatchesCanary implements KeyProxy. Canaries written with the deprecated
// sentinel are still accepted.
func (p *ExternalKeyProxy) MatchesCanary(ctx context.Context, canary *types.EncryptionKeyCanary) (bool, error) {
	return trialDecrypt(ctx, p.key, canary, types.CanaryValue, types.DeprecatedCanaryValue)
}

// Salt implements KeyProxy.
func (p *ExternalKeyProxy) Salt() []byte { return nil }

// Metadata implements KeyProxy.
func (p *ExternalKeyProxy) Metadata() types.KeyMetadata { return p.meta }

// Kind implements KeyProxy.
func (p *ExternalKeyProxy) Kind() types.ProxyKind { return types.ProxyExternal }

// StaticKeyProxy wraps an AES key given in configuration as hex.
type StaticKeyProxy struct {
	meta types.KeyMetadata
	key  *types.EncryptionKey
}

// NewStaticKeyProxy decodes meta.EncryptionKey. AES-128, AES-192 and
// AES-256 keys are accepted.
func NewStaticKeyProxy(svc types.EncryptionService, meta types.KeyMetadata) (*StaticKeyProxy, error) {
	secret, err := hex.DecodeString(meta.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKey, meta.Name(), err)
	}
	switch len(secret) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %s: %d byte key", ErrInvalidKey, meta.Name(), len(secret))
	}
	return &StaticKeyProxy{
		meta: meta,
		key:  types.NewEncryptionKey(types.KeyHandle{Label: meta.Name(), Secret: secret}, svc),
	}, nil
}

// GetKey implements KeyProxy.
func (p *StaticKeyProxy) GetKey(context.Context) (*types.EncryptionKey, error) {
	return p.key, nil
}

// MatchesCanary implements KeyProxy.
func (p *StaticKeyProxy) MatchesCanary(ctx context.Context, canary *types.EncryptionKeyCanary) (bool, error) {
	return trialDecrypt(ctx, p.key, canary, types.CanaryValue, types.DeprecatedCanaryValue)
}

// Salt implements KeyProxy.
func (p *StaticKeyProxy) Salt() []byte { return nil }

// Metadata implements KeyProxy.
func (p *StaticKeyProxy) Metadata() types.KeyMetadata { return p.meta }

// Kind implements KeyProxy.
func (p *StaticKeyProxy) Kind() types.ProxyKind { return types.ProxyStatic }

var (
	_ KeyProxy = (*PasswordKeyProxy)(nil)
	_ KeyProxy = (*ExternalKeyProxy)(nil)
	_ KeyProxy = (*StaticKeyProxy)(nil)
)
