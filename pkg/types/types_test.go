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

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderType(t *testing.T) {
	tests := []struct {
		input    string
		want     ProviderType
		external bool
		wantErr  bool
	}{
		{input: "internal", want: ProviderInternal},
		{input: "HSM", want: ProviderHSM, external: true},
		{input: " aws-kms ", want: ProviderAWSKMS, external: true},
		{input: "gcp-kms", want: ProviderGCPKMS, external: true},
		{input: "azure-kv", want: ProviderAzureKV, external: true},
		{input: "vault-transit", want: ProviderVaultTransit, external: true},
		{input: "tpm", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProviderType(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownProviderType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.external, got.IsExternal())
		})
	}
}

func TestKeyMetadataKind(t *testing.T) {
	assert.Equal(t, ProxyPassword, KeyMetadata{EncryptionPassword: "pw"}.Kind(ProviderInternal))
	assert.Equal(t, ProxyStatic, KeyMetadata{EncryptionKey: "00"}.Kind(ProviderInternal))
	assert.Equal(t, ProxyExternal, KeyMetadata{DeviceRef: "k1"}.Kind(ProviderHSM))
	assert.Equal(t, ProxyExternal, KeyMetadata{EncryptionPassword: "pw"}.Kind(ProviderVaultTransit))
}

func TestKeyMetadataStringHidesSecrets(t *testing.T) {
	m := KeyMetadata{Label: "primary", EncryptionPassword: "hunter2", EncryptionKey: "deadbeef"}
	s := m.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "deadbeef")
	assert.Contains(t, s, "primary")
}

func TestEncryptionKeyWithID(t *testing.T) {
	key := NewEncryptionKey(KeyHandle{Label: "k", Secret: []byte{1, 2, 3}}, nil)
	id := uuid.New()

	registered := key.WithID(id)

	assert.Equal(t, uuid.Nil, key.ID)
	assert.Equal(t, id, registered.ID)
	assert.Equal(t, key.Handle.Label, registered.Handle.Label)
	assert.NotContains(t, registered.String(), "\x01\x02\x03")
}

func TestEncryptedValueIsAbsent(t *testing.T) {
	var nilValue *EncryptedValue
	assert.True(t, nilValue.IsAbsent())
	assert.True(t, (&EncryptedValue{}).IsAbsent())
	assert.False(t, (&EncryptedValue{KeyID: uuid.New()}).IsAbsent())
	assert.False(t, (&EncryptedValue{Ciphertext: []byte{}}).IsAbsent())
}

func TestCanaryHasSalt(t *testing.T) {
	var c *EncryptionKeyCanary
	assert.False(t, c.HasSalt())
	assert.False(t, (&EncryptionKeyCanary{Salt: []byte{}}).HasSalt())
	assert.True(t, (&EncryptionKeyCanary{Salt: []byte{1}}).HasSalt())
}

func TestSentinelValues(t *testing.T) {
	assert.Len(t, CanaryValue, 128)
	for i := 0; i < len(CanaryValue); i++ {
		require.Equal(t, byte(0), CanaryValue[i])
	}
	assert.Equal(t, "abcdefghijklmnopqrst", DeprecatedCanaryValue)
}

func TestIsKeyMismatch(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"authentication", ErrAuthenticationFailed, true},
		{"wrapped authentication", fmt.Errorf("decrypt: %w", ErrAuthenticationFailed), true},
		{"benign block size", &BlockSizeError{Code: ReturnCodeEncryptedDataInvalid}, true},
		{"length range", &BlockSizeError{Code: ReturnCodeEncryptedDataLenRange}, false},
		{"malformed", ErrMalformedCiphertext, false},
		{"other", errors.New("device unplugged"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsKeyMismatch(tt.err))
		})
	}
}

func TestBlockSizeError(t *testing.T) {
	cause := errors.New("C_Decrypt")
	err := fmt.Errorf("hsm: %w", &BlockSizeError{Code: 0x41, Err: cause})

	var bse *BlockSizeError
	require.True(t, errors.As(err, &bse))
	assert.False(t, bse.Benign())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "0x41")
	assert.False(t, IsIncorrectKey(err))
	assert.True(t, IsIncorrectKey(fmt.Errorf("%w: %w", ErrIncorrectKey, err)))
}
