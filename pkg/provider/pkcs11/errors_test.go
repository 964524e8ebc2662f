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

package pkcs11

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		code      uint
		blockSize bool
		benign    bool
		reconnect bool
	}{
		{"encrypted data invalid", ckrEncryptedDataInvalid, true, true, false},
		{"encrypted data len range", ckrEncryptedDataLenRange, true, false, false},
		{"session handle invalid", ckrSessionHandleInvalid, false, false, true},
		{"session closed", ckrSessionClosed, false, false, true},
		{"device removed", ckrDeviceRemoved, false, false, true},
		{"device error", ckrDeviceError, false, false, true},
		{"token not present", ckrTokenNotPresent, false, false, true},
		{"user not logged in", ckrUserNotLoggedIn, false, false, true},
		{"not initialized", ckrCryptokiNotInitialized, false, false, true},
		{"mechanism invalid", 0x70, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("decrypt canary: %w", classify("C_Decrypt", tt.code))

			var bse *types.BlockSizeError
			assert.Equal(t, tt.blockSize, errors.As(err, &bse))
			if tt.blockSize {
				assert.Equal(t, tt.benign, bse.Benign())
			}
			assert.Equal(t, tt.benign, types.IsKeyMismatch(err))
			assert.Equal(t, tt.reconnect, NeedsReconnect(err))

			var rc *ReturnCodeError
			require.True(t, errors.As(err, &rc))
			assert.Equal(t, tt.code, rc.Code)
			assert.Equal(t, "C_Decrypt", rc.Op)
		})
	}
}

func TestNeedsReconnectIgnoresForeignErrors(t *testing.T) {
	assert.False(t, NeedsReconnect(nil))
	assert.False(t, NeedsReconnect(errors.New("socket closed")))
	assert.False(t, NeedsReconnect(types.ErrAuthenticationFailed))
}

func TestConfigValidate(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libsofthsm2.so")
	require.NoError(t, os.WriteFile(lib, []byte{}, 0600))
	slot := 0

	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{"nil", nil, ErrInvalidConfig},
		{"missing library", &Config{TokenLabel: "t", PIN: "1234"}, ErrInvalidConfig},
		{"library not found", &Config{Library: "/nonexistent/lib.so", TokenLabel: "t", PIN: "1234"}, ErrLibraryNotFound},
		{"no token selector", &Config{Library: lib, PIN: "1234"}, ErrInvalidConfig},
		{"short pin", &Config{Library: lib, TokenLabel: "t", PIN: "12"}, ErrInvalidPINLength},
		{"by label", &Config{Library: lib, TokenLabel: "t", PIN: "1234"}, nil},
		{"by slot", &Config{Library: lib, Slot: &slot, PIN: "1234"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigString(t *testing.T) {
	c := &Config{Library: "/usr/lib/softhsm/libsofthsm2.so", TokenLabel: "canary", PIN: "s3cret"}
	s := c.String()
	assert.NotContains(t, s, "s3cret")
	assert.Contains(t, s, "****")
	assert.True(t, c.IsSoftHSM())
}
