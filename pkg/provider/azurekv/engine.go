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

// Package azurekv implements an encryption engine backed by Azure Key Vault
// RSA keys. Values are sealed with a fresh AES-256 data key under AES-GCM;
// the data key is wrapped by Key Vault with RSA-OAEP-256 and stored in front
// of the sealed value.
package azurekv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/software"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

const dataKeySize = 32

// KeyVaultClient defines the subset of the Key Vault keys API the engine
// uses. *azkeys.Client satisfies it.
type KeyVaultClient interface {
	WrapKey(ctx context.Context, name, version string, params azkeys.KeyOperationParameters, options *azkeys.WrapKeyOptions) (azkeys.WrapKeyResponse, error)
	UnwrapKey(ctx context.Context, name, version string, params azkeys.KeyOperationParameters, options *azkeys.UnwrapKeyOptions) (azkeys.UnwrapKeyResponse, error)
	GetKey(ctx context.Context, name, version string, options *azkeys.GetKeyOptions) (azkeys.GetKeyResponse, error)
	CreateKey(ctx context.Context, name string, params azkeys.CreateKeyParameters, options *azkeys.CreateKeyOptions) (azkeys.CreateKeyResponse, error)
	GetRandomBytes(ctx context.Context, params azkeys.GetRandomBytesParameters, options *azkeys.GetRandomBytesOptions) (azkeys.GetRandomBytesResponse, error)
}

// Engine is the Azure Key Vault encryption provider.
type Engine struct {
	name    string
	config  *Config
	logger  *logging.Logger
	sealer  *software.Engine
	connect func() (KeyVaultClient, error)

	mu     sync.RWMutex
	client KeyVaultClient
}

// New creates an engine authenticating with a service principal when
// configured, otherwise with DefaultAzureCredential.
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
func NewWithClient(name string, config *Config, client KeyVaultClient, logger *logging.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	e := newEngine(name, config, logger)
	e.client = client
	e.connect = func() (KeyVaultClient, error) { return client, nil }
	return e, nil
}

func newEngine(name string, config *Config, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Engine{
		name:   name,
		config: config,
		logger: logger.With("provider", name, "type", types.ProviderAzureKV),
		sealer: software.New(name),
	}
}

func (e *Engine) dial() (KeyVaultClient, error) {
	var cred azcore.TokenCredential
	if e.config.HasServicePrincipal() {
		c, err := azidentity.NewClientSecretCredential(
			e.config.TenantID,
			e.config.ClientID,
			e.config.ClientSecret,
			&azidentity.ClientSecretCredentialOptions{AdditionallyAllowedTenants: []string{"*"}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create client secret credential: %w", err)
		}
		cred = c
	} else {
		c, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
			AdditionallyAllowedTenants: []string{"*"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
		cred = c
	}

	client, err := azkeys.NewClient(e.config.VaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Key Vault client: %w", err)
	}
	return client, nil
}

func (e *Engine) vaultClient() KeyVaultClient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// Type implements types.EncryptionService.
func (e *Engine) Type() types.ProviderType {
	return types.ProviderAzureKV
}

// Name implements types.EncryptionService.
func (e *Engine) Name() string {
	return e.name
}

// Encrypt implements types.EncryptionService. The ciphertext layout is a
// big-endian uint16 wrapped key length, the wrapped key, then the AES-GCM
// sealed value.
func (e *Engine) Encrypt(ctx context.Context, key *types.EncryptionKey, plaintext []byte) ([]byte, []byte, error) {
	name, version, err := splitKeyRef(key)
	if err != nil {
		return nil, nil, err
	}

	dataKey, err := e.sealer.GenerateRandom(dataKeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("azurekv: failed to generate data key: %w", err)
	}
	sealed, nonce, err := e.sealer.Encrypt(ctx, dataKeyFor(dataKey, e.sealer), plaintext)
	if err != nil {
		return nil, nil, err
	}

	resp, err := e.vaultClient().WrapKey(ctx, name, version, azkeys.KeyOperationParameters{
		Algorithm: to.Ptr(azkeys.EncryptionAlgorithmRSAOAEP256),
		Value:     dataKey,
	}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("azurekv: wrap data key with %s: %w", name, err)
	}

	out := make([]byte, 2, 2+len(resp.Result)+len(sealed))
	binary.BigEndian.PutUint16(out, uint16(len(resp.Result)))
	out = append(out, resp.Result...)
	out = append(out, sealed...)
	return out, nonce, nil
}

// Decrypt implements types.EncryptionService.
func (e *Engine) Decrypt(ctx context.Context, key *types.EncryptionKey, ciphertext, nonce []byte) ([]byte, error) {
	name, version, err := splitKeyRef(key)
	if err != nil {
		return nil, err
	}

	wrapped, sealed, ok := splitEnvelope(ciphertext)
	if !ok {
		return nil, fmt.Errorf("azurekv: %w: envelope not produced by this engine", types.ErrAuthenticationFailed)
	}

	resp, err := e.vaultClient().UnwrapKey(ctx, name, version, azkeys.KeyOperationParameters{
		Algorithm: to.Ptr(azkeys.EncryptionAlgorithmRSAOAEP256),
		Value:     wrapped,
	}, nil)
	if err != nil {
		// Key Vault answers 400 when the wrapped key was not produced by
		// this RSA key.
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("azurekv: %w: %s", types.ErrAuthenticationFailed, respErr.ErrorCode)
		}
		return nil, fmt.Errorf("azurekv: unwrap data key with %s: %w", name, err)
	}

	return e.sealer.Decrypt(ctx, dataKeyFor(resp.Result, e.sealer), sealed, nonce)
}

// GenerateRandom implements types.EncryptionService. Key Vault only offers
// random bytes on Managed HSM; standard vaults return an error.
func (e *Engine) GenerateRandom(n int) ([]byte, error) {
	resp, err := e.vaultClient().GetRandomBytes(context.Background(), azkeys.GetRandomBytesParameters{
		Count: to.Ptr(int32(n)),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("azurekv: get random bytes: %w", err)
	}
	return resp.Value, nil
}

// EnsureKey implements types.KeyProvisioner.
func (e *Engine) EnsureKey(ctx context.Context, label string) error {
	name, version, err := splitKeyRef(types.NewEncryptionKey(types.KeyHandle{Label: label}, e))
	if err != nil {
		return err
	}

	_, err = e.vaultClient().GetKey(ctx, name, version, nil)
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusNotFound {
		return fmt.Errorf("azurekv: get key %s: %w", name, err)
	}
	if !e.config.CreateMissingKeys {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}

	_, err = e.vaultClient().CreateKey(ctx, name, azkeys.CreateKeyParameters{
		Kty:     to.Ptr(azkeys.KeyTypeRSAHSM),
		KeySize: to.Ptr(int32(3072)),
		KeyOps:  []*azkeys.KeyOperation{to.Ptr(azkeys.KeyOperationWrapKey), to.Ptr(azkeys.KeyOperationUnwrapKey)},
	}, nil)
	if err != nil {
		return fmt.Errorf("azurekv: create key %s: %w", name, err)
	}
	e.logger.Info("created wrapping key", "name", name)
	return nil
}

// Reconnect implements types.EncryptionService. Failures answered by Key
// Vault are left alone; transport and credential failures rebuild the client.
func (e *Engine) Reconnect(_ context.Context, cause error) error {
	var respErr *azcore.ResponseError
	if cause == nil || errors.As(cause, &respErr) || errors.Is(cause, context.Canceled) {
		return nil
	}

	client, err := e.connect()
	if err != nil {
		return fmt.Errorf("azurekv: reconnect: %w", err)
	}

	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	e.logger.Info("rebuilt Key Vault client", "cause", cause)
	return nil
}

// Close implements types.EncryptionService.
func (e *Engine) Close() error {
	return nil
}

// splitKeyRef parses "name" or "name/version".
func splitKeyRef(key *types.EncryptionKey) (string, string, error) {
	if key == nil || key.Handle.Label == "" {
		return "", "", fmt.Errorf("azurekv: %w: key name is required", types.ErrInvalidKeyHandle)
	}
	name, version, _ := strings.Cut(key.Handle.Label, "/")
	return name, version, nil
}

func splitEnvelope(ciphertext []byte) (wrapped, sealed []byte, ok bool) {
	if len(ciphertext) < 2 {
		return nil, nil, false
	}
	n := int(binary.BigEndian.Uint16(ciphertext))
	if n == 0 || len(ciphertext) < 2+n {
		return nil, nil, false
	}
	return ciphertext[2 : 2+n], ciphertext[2+n:], true
}

func dataKeyFor(secret []byte, sealer *software.Engine) *types.EncryptionKey {
	return types.NewEncryptionKey(types.KeyHandle{Label: "data-key", Secret: secret}, sealer)
}

var (
	_ types.EncryptionService = (*Engine)(nil)
	_ types.KeyProvisioner    = (*Engine)(nil)
)
