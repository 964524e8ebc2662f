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

package types

import "context"

// EncryptionService performs cryptographic operations for keys owned by a
// single provider. Implementations must be safe for concurrent use.
type EncryptionService interface {
	// Type returns the provider family.
	Type() ProviderType

	// Name returns the configured provider name.
	Name() string

	// Encrypt seals plaintext under key, returning the ciphertext and the
	// nonce needed to open it. Providers without a nonce return nil.
	Encrypt(ctx context.Context, key *EncryptionKey, plaintext []byte) (ciphertext, nonce []byte, err error)

	// Decrypt opens ciphertext sealed under key. A ciphertext produced by a
	// different key yields an error matching ErrAuthenticationFailed or a
	// benign *BlockSizeError.
	Decrypt(ctx context.Context, key *EncryptionKey, ciphertext, nonce []byte) ([]byte, error)

	// GenerateRandom returns n bytes from the provider's secure RNG.
	GenerateRandom(n int) ([]byte, error)

	// Reconnect re-establishes the provider connection after cause was
	// observed. Providers decide whether cause warrants reconnecting; an
	// unrelated failure returns nil without side effects.
	Reconnect(ctx context.Context, cause error) error

	// Close releases provider resources.
	Close() error
}

// KeyProvisioner is implemented by providers able to create a missing
// device key before the active canary is written.
type KeyProvisioner interface {
	EnsureKey(ctx context.Context, label string) error
}

// Password holds sensitive password bytes.
type Password interface {
	// Bytes returns the password as a byte slice
	Bytes() []byte

	// String returns the password as a string
	String() (string, error)

	// Clear zeros out the password from memory
	Clear()
}
