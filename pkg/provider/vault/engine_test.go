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

package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

type mockTransitClient struct {
	ReadFunc  func(ctx context.Context, path string) (*vault.Secret, error)
	WriteFunc func(ctx context.Context, path string, data map[string]interface{}) (*vault.Secret, error)
}

func (m *mockTransitClient) ReadWithContext(ctx context.Context, path string) (*vault.Secret, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, path)
	}
	return nil, errors.New("ReadWithContext not mocked")
}

func (m *mockTransitClient) WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vault.Secret, error) {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, path, data)
	}
	return nil, errors.New("WriteWithContext not mocked")
}

// fakeTransit remembers every ciphertext it issued along with the key and
// associated data it was sealed under.
type fakeTransit struct {
	mu    sync.Mutex
	seq   int
	blobs map[string][3]string
	keys  map[string]bool
}

func newFakeTransit() (*fakeTransit, *mockTransitClient) {
	f := &fakeTransit{blobs: make(map[string][3]string), keys: make(map[string]bool)}
	return f, &mockTransitClient{
		ReadFunc: func(_ context.Context, path string) (*vault.Secret, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.keys[path] {
				return &vault.Secret{Data: map[string]interface{}{"type": "aes256-gcm96"}}, nil
			}
			return nil, nil
		},
		WriteFunc: func(_ context.Context, path string, data map[string]interface{}) (*vault.Secret, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			parts := strings.Split(path, "/")
			switch parts[1] {
			case "encrypt":
				f.seq++
				ct := fmt.Sprintf("vault:v1:%d", f.seq)
				f.blobs[ct] = [3]string{parts[2], data["associated_data"].(string), data["plaintext"].(string)}
				return &vault.Secret{Data: map[string]interface{}{"ciphertext": ct}}, nil
			case "decrypt":
				blob, ok := f.blobs[data["ciphertext"].(string)]
				if !ok || blob[0] != parts[2] || blob[1] != data["associated_data"] {
					return nil, &vault.ResponseError{
						StatusCode: http.StatusBadRequest,
						Errors:     []string{"cipher: message authentication failed"},
					}
				}
				return &vault.Secret{Data: map[string]interface{}{"plaintext": blob[2]}}, nil
			case "random":
				return &vault.Secret{Data: map[string]interface{}{
					"random_bytes": base64.StdEncoding.EncodeToString(make([]byte, 48)),
				}}, nil
			case "keys":
				f.keys[path] = true
				return nil, nil
			}
			return nil, fmt.Errorf("unexpected path %s", path)
		},
	}
}

func newTestEngine(t *testing.T, client TransitClient, createMissing bool) *Engine {
	t.Helper()
	e, err := NewWithClient("vault", &Config{Address: "http://127.0.0.1:8200", CreateMissingKeys: createMissing}, client, logging.Discard())
	require.NoError(t, err)
	return e
}

func key(e *Engine, name string) *types.EncryptionKey {
	return types.NewEncryptionKey(types.KeyHandle{Label: name}, e)
}

func TestEngineRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newFakeTransit()
	e := newTestEngine(t, client, false)

	ciphertext, nonce, err := e.Encrypt(ctx, key(e, "canary"), []byte(types.CanaryValue))
	require.NoError(t, err)
	assert.Len(t, nonce, nonceSize)
	assert.True(t, strings.HasPrefix(string(ciphertext), "vault:v1:"))

	plaintext, err := e.Decrypt(ctx, key(e, "canary"), ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, types.CanaryValue, string(plaintext))
}

func TestEngineMismatchIsAuthenticationFailure(t *testing.T) {
	ctx := context.Background()
	_, client := newFakeTransit()
	e := newTestEngine(t, client, false)

	ciphertext, nonce, err := e.Encrypt(ctx, key(e, "a"), []byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		key        string
		ciphertext []byte
		nonce      []byte
	}{
		{"other key", "b", ciphertext, nonce},
		{"other nonce", "a", ciphertext, []byte("000000000000")},
		{"foreign ciphertext", "a", []byte{0x01, 0x02}, nonce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Decrypt(ctx, key(e, tt.key), tt.ciphertext, tt.nonce)
			assert.ErrorIs(t, err, types.ErrAuthenticationFailed)
		})
	}
}

func TestEngineServiceErrorIsNotMismatch(t *testing.T) {
	e := newTestEngine(t, &mockTransitClient{
		WriteFunc: func(context.Context, string, map[string]interface{}) (*vault.Secret, error) {
			return nil, &vault.ResponseError{StatusCode: http.StatusForbidden, Errors: []string{"permission denied"}}
		},
	}, false)

	_, err := e.Decrypt(context.Background(), key(e, "a"), []byte("vault:v1:x"), []byte("n"))
	require.Error(t, err)
	assert.False(t, types.IsKeyMismatch(err))
}

func TestEngineGenerateRandom(t *testing.T) {
	_, client := newFakeTransit()
	e := newTestEngine(t, client, false)

	out, err := e.GenerateRandom(48)
	require.NoError(t, err)
	assert.Len(t, out, 48)
}

func TestEngineEnsureKey(t *testing.T) {
	ctx := context.Background()
	f, client := newFakeTransit()

	e := newTestEngine(t, client, false)
	assert.ErrorIs(t, e.EnsureKey(ctx, "canary"), ErrKeyNotFound)

	e = newTestEngine(t, client, true)
	require.NoError(t, e.EnsureKey(ctx, "canary"))
	assert.True(t, f.keys["transit/keys/canary"])

	// Existing keys are left untouched.
	e = newTestEngine(t, client, false)
	assert.NoError(t, e.EnsureKey(ctx, "canary"))
}

func TestEngineReconnect(t *testing.T) {
	ctx := context.Background()
	_, client := newFakeTransit()
	e := newTestEngine(t, client, false)

	connects := 0
	e.connect = func() (TransitClient, error) {
		connects++
		return client, nil
	}

	require.NoError(t, e.Reconnect(ctx, &vault.ResponseError{StatusCode: http.StatusBadRequest}))
	assert.Equal(t, 0, connects)

	require.NoError(t, e.Reconnect(ctx, &net.OpError{Op: "dial", Err: errors.New("connection refused")}))
	assert.Equal(t, 1, connects)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"nil", nil, true},
		{"missing address", &Config{}, true},
		{"bad scheme", &Config{Address: "ftp://vault"}, true},
		{"valid", &Config{Address: "https://vault.example.com:8200"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultTransitPath, tt.config.TransitPath)
		})
	}
}

func TestConfigStringMasksToken(t *testing.T) {
	c := &Config{Address: "http://127.0.0.1:8200", Token: "s.secret"}
	assert.NotContains(t, c.String(), "s.secret")
}
