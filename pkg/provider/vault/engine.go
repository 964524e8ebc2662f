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

// Package vault implements an encryption engine backed by the HashiCorp
// Vault transit secrets engine. Each value gets a random nonce which is
// passed to transit as associated data, so the ciphertext only opens under
// the same key and nonce.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

const nonceSize = 12

// Transit failures that mean the ciphertext belongs to another key.
var mismatchMessages = []string{
	"message authentication failed",
	"invalid ciphertext",
}

// TransitClient is the subset of the logical API the engine uses.
// *vault.Logical satisfies it.
type TransitClient interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vault.Secret, error)
}

// Engine is the Vault transit encryption provider.
type Engine struct {
	name    string
	config  *Config
	logger  *logging.Logger
	connect func() (TransitClient, error)

	mu     sync.RWMutex
	client TransitClient
}

// New creates an engine connected to the configured Vault server.
func New(name string, config *Config, logger *logging.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	e := newEngine(name, config, logger)
	e.connect = e.dial

	client, err := e.connect()
	if err != nil {
		return nil, err
	}
	e.client = client
	return e, nil
}

// NewWithClient creates an engine with a custom client.
// This is primarily used for testing with mock clients.
func NewWithClient(name string, config *Config, client TransitClient, logger *logging.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	e := newEngine(name, config, logger)
	e.client = client
	e.connect = func() (TransitClient, error) { return client, nil }
	return e, nil
}

func newEngine(name string, config *Config, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Engine{
		name:   name,
		config: config,
		logger: logger.With("provider", name, "type", types.ProviderVaultTransit),
	}
}

func (e *Engine) dial() (TransitClient, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = e.config.Address

	if e.config.TLSSkipVerify || e.config.CACert != "" {
		tlsConfig := &vault.TLSConfig{
			CACert:   e.config.CACert,
			Insecure: e.config.TLSSkipVerify,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if e.config.Token != "" {
		client.SetToken(e.config.Token)
	}
	if e.config.Namespace != "" {
		client.SetNamespace(e.config.Namespace)
	}
	return client.Logical(), nil
}

func (e *Engine) transit() TransitClient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// Type implements types.EncryptionService.
func (e *Engine) Type() types.ProviderType {
	return types.ProviderVaultTransit
}

// Name implements types.EncryptionService.
func (e *Engine) Name() string {
	return e.name
}

// Encrypt implements types.EncryptionService. The returned ciphertext is the
// transit "vault:vN:..." string.
func (e *Engine) Encrypt(ctx context.Context, key *types.EncryptionKey, plaintext []byte) ([]byte, []byte, error) {
	if err := validateHandle(key); err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("vault: failed to generate nonce: %w", err)
	}

	path := fmt.Sprintf("%s/encrypt/%s", e.config.TransitPath, key.Handle.Label)
	secret, err := e.transit().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext":       base64.StdEncoding.EncodeToString(plaintext),
		"associated_data": base64.StdEncoding.EncodeToString(nonce),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vault: transit encryption failed: %w", err)
	}

	ciphertext, err := stringField(secret, "ciphertext")
	if err != nil {
		return nil, nil, err
	}
	return []byte(ciphertext), nonce, nil
}

// Decrypt implements types.EncryptionService.
func (e *Engine) Decrypt(ctx context.Context, key *types.EncryptionKey, ciphertext, nonce []byte) ([]byte, error) {
	if err := validateHandle(key); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(string(ciphertext), "vault:") {
		return nil, fmt.Errorf("vault: %w: ciphertext not produced by transit", types.ErrAuthenticationFailed)
	}

	path := fmt.Sprintf("%s/decrypt/%s", e.config.TransitPath, key.Handle.Label)
	secret, err := e.transit().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext":      string(ciphertext),
		"associated_data": base64.StdEncoding.EncodeToString(nonce),
	})
	if err != nil {
		if isKeyMismatch(err) {
			return nil, fmt.Errorf("vault: %w", types.ErrAuthenticationFailed)
		}
		return nil, fmt.Errorf("vault: transit decryption failed: %w", err)
	}

	encoded, err := stringField(secret, "plaintext")
	if err != nil {
		return nil, err
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode plaintext: %v", ErrInvalidResponse, err)
	}
	return plaintext, nil
}

// GenerateRandom implements types.EncryptionService using the transit
// random endpoint.
func (e *Engine) GenerateRandom(n int) ([]byte, error) {
	path := fmt.Sprintf("%s/random/%d", e.config.TransitPath, n)
	secret, err := e.transit().WriteWithContext(context.Background(), path, map[string]interface{}{
		"format": "base64",
	})
	if err != nil {
		return nil, fmt.Errorf("vault: random bytes: %w", err)
	}
	encoded, err := stringField(secret, "random_bytes")
	if err != nil {
		return nil, err
	}
	out, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode random bytes: %v", ErrInvalidResponse, err)
	}
	return out, nil
}

// EnsureKey implements types.KeyProvisioner.
func (e *Engine) EnsureKey(ctx context.Context, label string) error {
	path := fmt.Sprintf("%s/keys/%s", e.config.TransitPath, label)
	secret, err := e.transit().ReadWithContext(ctx, path)
	if err != nil {
		return fmt.Errorf("vault: read key %s: %w", label, err)
	}
	if secret != nil {
		return nil
	}
	if !e.config.CreateMissingKeys {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, label)
	}

	_, err = e.transit().WriteWithContext(ctx, path, map[string]interface{}{
		"type":                   "aes256-gcm96",
		"exportable":             false,
		"allow_plaintext_backup": false,
	})
	if err != nil {
		return fmt.Errorf("vault: create key %s: %w", label, err)
	}
	e.logger.Info("created transit key", "name", label)
	return nil
}

// Reconnect implements types.EncryptionService. Errors answered by Vault
// leave the client alone.
func (e *Engine) Reconnect(_ context.Context, cause error) error {
	var respErr *vault.ResponseError
	if cause == nil || errors.As(cause, &respErr) || errors.Is(cause, context.Canceled) {
		return nil
	}

	client, err := e.connect()
	if err != nil {
		return fmt.Errorf("vault: reconnect: %w", err)
	}

	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	e.logger.Info("rebuilt vault client", "cause", cause)
	return nil
}

// Close implements types.EncryptionService.
func (e *Engine) Close() error {
	return nil
}

func isKeyMismatch(err error) bool {
	var respErr *vault.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusBadRequest {
		return false
	}
	for _, msg := range respErr.Errors {
		for _, m := range mismatchMessages {
			if strings.Contains(msg, m) {
				return true
			}
		}
	}
	return false
}

func stringField(secret *vault.Secret, field string) (string, error) {
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: no data returned", ErrInvalidResponse)
	}
	v, ok := secret.Data[field].(string)
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidResponse, field)
	}
	return v, nil
}

func validateHandle(key *types.EncryptionKey) error {
	if key == nil || key.Handle.Label == "" {
		return fmt.Errorf("vault: %w: transit key name is required", types.ErrInvalidKeyHandle)
	}
	return nil
}

var (
	_ types.EncryptionService = (*Engine)(nil)
	_ types.KeyProvisioner    = (*Engine)(nil)
)
