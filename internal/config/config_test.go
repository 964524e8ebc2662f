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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keycanary/pkg/mapper"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

const validYAML = `
logging:
  level: debug
  format: json
storage:
  backend: file
  path: /var/lib/keycanary
encryption:
  key_creation_enabled: false
  canary_wait_timeout: 30s
  poll_interval: 500ms
providers:
  - name: local
    type: internal
    keys:
      - label: old
        encryption_password: correct horse battery staple
      - label: current
        encryption_key: 000102030405060708090a0b0c0d0e0f
        active: true
  - name: vault
    type: vault-transit
    vault:
      address: https://vault.example.com:8200
      token: s.abc
    keys:
      - device_ref: credhub
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	assert.False(t, cfg.Encryption.KeyCreationEnabled)
	assert.Equal(t, 30*time.Second, cfg.Encryption.CanaryWaitTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Encryption.PollInterval)
	assert.Equal(t, DefaultListenAddress, cfg.Server.ListenAddress)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, types.ProviderInternal, cfg.Providers[0].Type)
	assert.Equal(t, "transit", cfg.Providers[1].Vault.TransitPath)

	keys := cfg.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, "internal/local", keys[1].Provider)
	assert.True(t, keys[1].Metadata.Active)
	assert.Equal(t, "credhub", keys[2].Metadata.DeviceRef)
}

func TestDefaultsApplyWhenOmitted(t *testing.T) {
	cfg, err := Parse([]byte(`
providers:
  - name: local
    type: internal
    keys:
      - encryption_key: 000102030405060708090a0b0c0d0e0f
        active: true
`))
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, mapper.DefaultSettings(), cfg.Encryption.Settings)
	assert.True(t, cfg.Server.Metrics)
}

func TestValidate(t *testing.T) {
	internal := func(keys ...types.KeyMetadata) string {
		out := "providers:\n  - name: local\n    type: internal\n    keys:\n"
		for _, k := range keys {
			out += "      - encryption_key: " + k.EncryptionKey + "\n"
			if k.Active {
				out += "        active: true\n"
			}
		}
		return out
	}
	key := "000102030405060708090a0b0c0d0e0f"

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no providers", "logging:\n  level: info\n", "at least one provider"},
		{"no active key", internal(types.KeyMetadata{EncryptionKey: key}), "No active key was found."},
		{"two active keys", internal(types.KeyMetadata{EncryptionKey: key, Active: true}, types.KeyMetadata{EncryptionKey: key, Active: true}), "More than one active key"},
		{"bad log level", "logging:\n  level: loud\n" + internal(types.KeyMetadata{EncryptionKey: key, Active: true}), "unsupported level"},
		{"bad log format", "logging:\n  format: xml\n" + internal(types.KeyMetadata{EncryptionKey: key, Active: true}), "invalid log format"},
		{"bad storage", "storage:\n  backend: s3\n" + internal(types.KeyMetadata{EncryptionKey: key, Active: true}), "invalid storage backend"},
		{"file without path", "storage:\n  backend: file\n" + internal(types.KeyMetadata{EncryptionKey: key, Active: true}), "storage path is required"},
		{"postgres without dsn", "storage:\n  backend: postgres\n" + internal(types.KeyMetadata{EncryptionKey: key, Active: true}), "dsn is required"},
		{"zero timeout", "encryption:\n  canary_wait_timeout: 0s\n" + internal(types.KeyMetadata{EncryptionKey: key, Active: true}), "canary_wait_timeout"},
		{"unknown provider type", "providers:\n  - name: x\n    type: tpm\n    keys:\n      - device_ref: k\n        active: true\n", "unknown provider type"},
		{"missing provider section", "providers:\n  - name: x\n    type: aws-kms\n    keys:\n      - device_ref: k\n        active: true\n", "missing aws-kms settings"},
		{"duplicate names", internal(types.KeyMetadata{EncryptionKey: key, Active: true}) + "  - name: local\n    type: internal\n    keys:\n      - encryption_key: " + key + "\n", "duplicate provider name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KEYCANARY_LOG_LEVEL", "warn")
	t.Setenv("KEYCANARY_STORAGE_BACKEND", "sqlite")
	t.Setenv("KEYCANARY_STORAGE_PATH", "/tmp/canaries.db")
	t.Setenv("KEYCANARY_KEY_CREATION_ENABLED", "true")
	t.Setenv("KEYCANARY_CANARY_WAIT_TIMEOUT", "2m")
	t.Setenv("KEYCANARY_LISTEN_ADDRESS", ":9999")
	t.Setenv("VAULT_ADDR", "https://other-vault:8200")
	t.Setenv("VAULT_TOKEN", "s.override")

	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, StorageSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/canaries.db", cfg.Storage.Path)
	assert.True(t, cfg.Encryption.KeyCreationEnabled)
	assert.Equal(t, 2*time.Minute, cfg.Encryption.CanaryWaitTimeout)
	assert.Equal(t, ":9999", cfg.Server.ListenAddress)
	assert.Equal(t, "https://other-vault:8200", cfg.Providers[1].Vault.Address)
	assert.Equal(t, "s.override", cfg.Providers[1].Vault.Token)
}

func TestInvalidEnvOverridesAreIgnored(t *testing.T) {
	t.Setenv("KEYCANARY_KEY_CREATION_ENABLED", "maybe")
	t.Setenv("KEYCANARY_CANARY_WAIT_TIMEOUT", "soon")

	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	assert.False(t, cfg.Encryption.KeyCreationEnabled)
	assert.Equal(t, 30*time.Second, cfg.Encryption.CanaryWaitTimeout)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keycanary.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Providers, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("providers: [\n"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "failed to parse config file")
}
