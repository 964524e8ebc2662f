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

// Package types defines the shared data model for go-keycanary: encryption
// keys, the canary records that pin a key to a stable identifier, encrypted
// values, and the EncryptionService contract every provider engine fulfils.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderType identifies the engine family that performs cryptographic
// operations for a set of keys.
type ProviderType string

const (
	// ProviderInternal is the in-process AES-GCM engine backed by either a
	// password-derived key or a static key from configuration.
	ProviderInternal ProviderType = "internal"

	// ProviderHSM is a PKCS#11 hardware security module.
	ProviderHSM ProviderType = "hsm"

	// ProviderAWSKMS is AWS Key Management Service.
	ProviderAWSKMS ProviderType = "aws-kms"

	// ProviderGCPKMS is Google Cloud Key Management Service.
	ProviderGCPKMS ProviderType = "gcp-kms"

	// ProviderAzureKV is Azure Key Vault.
	ProviderAzureKV ProviderType = "azure-kv"

	// ProviderVaultTransit is the HashiCorp Vault transit secrets engine.
	ProviderVaultTransit ProviderType = "vault-transit"
)

// AllProviderTypes lists every supported provider type.
var AllProviderTypes = []ProviderType{
	ProviderInternal,
	ProviderHSM,
	ProviderAWSKMS,
	ProviderGCPKMS,
	ProviderAzureKV,
	ProviderVaultTransit,
}

// String returns the configuration name of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// IsValid reports whether p is a known provider type.
func (p ProviderType) IsValid() bool {
	for _, t := range AllProviderTypes {
		if p == t {
			return true
		}
	}
	return false
}

// IsExternal reports whether the key material lives outside the process.
func (p ProviderType) IsExternal() bool {
	return p.IsValid() && p != ProviderInternal
}

// ParseProviderType parses a provider type name, case-insensitively.
func ParseProviderType(s string) (ProviderType, error) {
	p := ProviderType(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProviderType, s)
	}
	return p, nil
}

// ProxyKind identifies how a key proxy obtains and matches its key.
type ProxyKind string

const (
	// ProxyPassword derives its key from a password and the canary salt.
	ProxyPassword ProxyKind = "password"

	// ProxyStatic uses a fixed AES key supplied in configuration.
	ProxyStatic ProxyKind = "static"

	// ProxyExternal references a key held by an external provider.
	ProxyExternal ProxyKind = "external"
)

// KeyMetadata is the declared, not yet reconciled, description of a key.
type KeyMetadata struct {
	// Label is a human readable name used in logs and CLI output.
	Label string `yaml:"label,omitempty" json:"label,omitempty"`

	// EncryptionPassword selects a password-derived internal key.
	EncryptionPassword string `yaml:"encryption_password,omitempty" json:"-"`

	// EncryptionKey is a hex encoded AES-128/192/256 key for the internal engine.
	EncryptionKey string `yaml:"encryption_key,omitempty" json:"-"`

	// DeviceRef names the key inside an external provider: a PKCS#11 label,
	// a KMS key id or ARN, a Key Vault key name or a transit key name.
	DeviceRef string `yaml:"device_ref,omitempty" json:"device_ref,omitempty"`

	// Active marks the key used for new encryptions.
	Active bool `yaml:"active" json:"active"`
}

// Kind returns the proxy kind implied by the populated fields.
func (m KeyMetadata) Kind(provider ProviderType) ProxyKind {
	switch {
	case provider.IsExternal():
		return ProxyExternal
	case m.EncryptionPassword != "":
		return ProxyPassword
	default:
		return ProxyStatic
	}
}

// Name returns the label, falling back to the device reference.
func (m KeyMetadata) Name() string {
	if m.Label != "" {
		return m.Label
	}
	if m.DeviceRef != "" {
		return m.DeviceRef
	}
	return "<unnamed>"
}

// String implements fmt.Stringer without exposing secrets.
func (m KeyMetadata) String() string {
	return fmt.Sprintf("KeyMetadata{Label: %s, DeviceRef: %s, Active: %t}", m.Label, m.DeviceRef, m.Active)
}

// KeyHandle is the opaque material an engine needs to use a key. Internal
// keys carry the raw AES bytes in Secret; external keys carry a Label that
// the provider resolves.
type KeyHandle struct {
	Label  string
	Secret []byte
}

// EncryptionKey binds key material to the provider that can use it. Keys are
// never mutated after construction; WithID returns a copy.
type EncryptionKey struct {
	ID       uuid.UUID
	Handle   KeyHandle
	Provider EncryptionService
}

// NewEncryptionKey returns an unidentified key for the given provider.
func NewEncryptionKey(handle KeyHandle, provider EncryptionService) *EncryptionKey {
	return &EncryptionKey{Handle: handle, Provider: provider}
}

// WithID returns a copy of the key registered under id.
func (k *EncryptionKey) WithID(id uuid.UUID) *EncryptionKey {
	c := *k
	c.ID = id
	return &c
}

// String implements fmt.Stringer without exposing key material.
func (k *EncryptionKey) String() string {
	provider := "<none>"
	if k.Provider != nil {
		provider = k.Provider.Name()
	}
	return fmt.Sprintf("EncryptionKey{ID: %s, Label: %s, Provider: %s}", k.ID, k.Handle.Label, provider)
}

// EncryptionKeyCanary is a persisted ciphertext of a known sentinel value.
// Salt is set only for password-derived keys.
type EncryptionKeyCanary struct {
	ID                   uuid.UUID `json:"id"`
	EncryptedCanaryValue []byte    `json:"encrypted_canary_value"`
	Nonce                []byte    `json:"nonce,omitempty"`
	Salt                 []byte    `json:"salt,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// HasSalt reports whether the canary was written under a password-derived key.
func (c *EncryptionKeyCanary) HasSalt() bool {
	return c != nil && len(c.Salt) > 0
}

// EncryptedValue is the envelope persisted alongside every stored secret.
// A nil plaintext is represented by the zero value.
type EncryptedValue struct {
	KeyID      uuid.UUID `json:"key_id"`
	Ciphertext []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"nonce"`
}

// IsAbsent reports whether the value represents a nil plaintext.
func (v *EncryptedValue) IsAbsent() bool {
	return v == nil || (v.KeyID == uuid.Nil && v.Ciphertext == nil && v.Nonce == nil)
}
