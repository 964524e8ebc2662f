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

// Package gcpkms implements an encryption engine backed by symmetric Google
// Cloud KMS crypto keys. The per-value nonce is sent as additional
// authenticated data.
package gcpkms

import (
	"context"
	"crypto/rand"
	"fmt"
	"hash/crc32"
	"sync"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

const nonceSize = 12

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// KMSClient defines the subset of the Cloud KMS API the engine uses.
type KMSClient interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest) (*kmspb.DecryptResponse, error)
	GenerateRandomBytes(ctx context.Context, req *kmspb.GenerateRandomBytesRequest) (*kmspb.GenerateRandomBytesResponse, error)
	GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest) (*kmspb.CryptoKey, error)
	CreateCryptoKey(ctx context.Context, req *kmspb.CreateCryptoKeyRequest) (*kmspb.CryptoKey, error)
	Close() error
}

// realKMSClient wraps the actual GCP KMS client to implement our interface.
type realKMSClient struct {
	*kms.KeyManagementClient
}

func (r *realKMSClient) Encrypt(ctx context.Context, req *kmspb.EncryptRequest) (*kmspb.EncryptResponse, error) {
	return r.KeyManagementClient.Encrypt(ctx, req)
}

func (r *realKMSClient) Decrypt(ctx context.Context, req *kmspb.DecryptRequest) (*kmspb.DecryptResponse, error) {
	return r.KeyManagementClient.Decrypt(ctx, req)
}

func (r *realKMSClient) GenerateRandomBytes(ctx context.Context, req *kmspb.GenerateRandomBytesRequest) (*kmspb.GenerateRandomBytesResponse, error) {
	return r.KeyManagementClient.GenerateRandomBytes(ctx, req)
}

func (r *realKMSClient) GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest) (*kmspb.CryptoKey, error) {
	return r.KeyManagementClient.GetCryptoKey(ctx, req)
}

func (r *realKMSClient) CreateCryptoKey(ctx context.Context, req *kmspb.CreateCryptoKeyRequest) (*kmspb.CryptoKey, error) {
	return r.KeyManagementClient.CreateCryptoKey(ctx, req)
}

// Engine is the Cloud KMS encryption provider.
type Engine struct {
	name    string
	config  *Config
	logger  *logging.Logger
	connect func(context.Context) (KMSClient, error)

	mu     sync.RWMutex
	client KMSClient
}

// New creates an engine connected with Application Default Credentials or
// the configured credentials file.
func New(ctx context.Context, name string, config *Config, logger *logging.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	e := newEngine(name, config, logger)
	e.connect = e.dial

	client, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	e.client = client
	return e, nil
}

// NewWithClient creates an engine with a custom client.
// This is primarily used for testing with mock clients.
func NewWithClient(name string, config *Config, client KMSClient, logger *logging.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	e := newEngine(name, config, logger)
	e.client = client
	e.connect = func(context.Context) (KMSClient, error) { return client, nil }
	return e, nil
}

func newEngine(name string, config *Config, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Engine{
		name:   name,
		config: config,
		logger: logger.With("provider", name, "type", types.ProviderGCPKMS),
	}
}

func (e *Engine) dial(ctx context.Context) (KMSClient, error) {
	var opts []option.ClientOption
	if e.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(e.config.CredentialsFile))
	}
	// Add custom endpoint if provided (for testing with emulator)
	if e.config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(e.config.Endpoint))
	}

	client, err := kms.NewKeyManagementClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS client: %w", err)
	}
	return &realKMSClient{KeyManagementClient: client}, nil
}

func (e *Engine) kmsClient() KMSClient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// Type implements types.EncryptionService.
func (e *Engine) Type() types.ProviderType {
	return types.ProviderGCPKMS
}

// Name implements types.EncryptionService.
func (e *Engine) Name() string {
	return e.name
}

// Encrypt implements types.EncryptionService.
func (e *Engine) Encrypt(ctx context.Context, key *types.EncryptionKey, plaintext []byte) ([]byte, []byte, error) {
	if err := validateHandle(key); err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("gcpkms: failed to generate nonce: %w", err)
	}

	req := &kmspb.EncryptRequest{
		Name:                              e.config.CryptoKeyName(key.Handle.Label),
		Plaintext:                         plaintext,
		PlaintextCrc32C:                   wrapperspb.Int64(crc32c(plaintext)),
		AdditionalAuthenticatedData:       nonce,
		AdditionalAuthenticatedDataCrc32C: wrapperspb.Int64(crc32c(nonce)),
	}
	resp, err := e.kmsClient().Encrypt(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("gcpkms: encrypt with %s: %w", key.Handle.Label, err)
	}

	if !resp.VerifiedPlaintextCrc32C || !resp.VerifiedAdditionalAuthenticatedDataCrc32C {
		return nil, nil, fmt.Errorf("%w: request corrupted in transit", ErrChecksumMismatch)
	}
	if resp.CiphertextCrc32C != nil && resp.CiphertextCrc32C.Value != crc32c(resp.Ciphertext) {
		return nil, nil, fmt.Errorf("%w: ciphertext", ErrChecksumMismatch)
	}
	return resp.Ciphertext, nonce, nil
}

// Decrypt implements types.EncryptionService.
func (e *Engine) Decrypt(ctx context.Context, key *types.EncryptionKey, ciphertext, nonce []byte) ([]byte, error) {
	if err := validateHandle(key); err != nil {
		return nil, err
	}

	req := &kmspb.DecryptRequest{
		Name:                              e.config.CryptoKeyName(key.Handle.Label),
		Ciphertext:                        ciphertext,
		CiphertextCrc32C:                  wrapperspb.Int64(crc32c(ciphertext)),
		AdditionalAuthenticatedData:       nonce,
		AdditionalAuthenticatedDataCrc32C: wrapperspb.Int64(crc32c(nonce)),
	}
	resp, err := e.kmsClient().Decrypt(ctx, req)
	if err != nil {
		// Cloud KMS rejects ciphertext from another key or with other AAD
		// as an invalid argument.
		if status.Code(err) == codes.InvalidArgument {
			return nil, fmt.Errorf("gcpkms: %w: %v", types.ErrAuthenticationFailed, err)
		}
		return nil, fmt.Errorf("gcpkms: decrypt with %s: %w", key.Handle.Label, err)
	}

	if resp.PlaintextCrc32C != nil && resp.PlaintextCrc32C.Value != crc32c(resp.Plaintext) {
		return nil, fmt.Errorf("%w: plaintext", ErrChecksumMismatch)
	}
	return resp.Plaintext, nil
}

// GenerateRandom implements types.EncryptionService using the Cloud HSM RNG.
func (e *Engine) GenerateRandom(n int) ([]byte, error) {
	resp, err := e.kmsClient().GenerateRandomBytes(context.Background(), &kmspb.GenerateRandomBytesRequest{
		Location:        e.config.LocationName(),
		LengthBytes:     int32(n),
		ProtectionLevel: kmspb.ProtectionLevel_HSM,
	})
	if err != nil {
		return nil, fmt.Errorf("gcpkms: generate random: %w", err)
	}
	if resp.DataCrc32C != nil && resp.DataCrc32C.Value != crc32c(resp.Data) {
		return nil, fmt.Errorf("%w: random bytes", ErrChecksumMismatch)
	}
	return resp.Data, nil
}

// EnsureKey implements types.KeyProvisioner.
func (e *Engine) EnsureKey(ctx context.Context, label string) error {
	name := e.config.CryptoKeyName(label)
	_, err := e.kmsClient().GetCryptoKey(ctx, &kmspb.GetCryptoKeyRequest{Name: name})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("gcpkms: get crypto key %s: %w", name, err)
	}
	if !e.config.CreateMissingKeys {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}

	_, err = e.kmsClient().CreateCryptoKey(ctx, &kmspb.CreateCryptoKeyRequest{
		Parent:      e.config.KeyRingName(),
		CryptoKeyId: label,
		CryptoKey: &kmspb.CryptoKey{
			Purpose: kmspb.CryptoKey_ENCRYPT_DECRYPT,
			VersionTemplate: &kmspb.CryptoKeyVersionTemplate{
				Algorithm:       kmspb.CryptoKeyVersion_GOOGLE_SYMMETRIC_ENCRYPTION,
				ProtectionLevel: kmspb.ProtectionLevel_HSM,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("gcpkms: create crypto key %s: %w", label, err)
	}
	e.logger.Info("created crypto key", "name", name)
	return nil
}

// Reconnect implements types.EncryptionService. Only an unavailable
// service replaces the gRPC connection.
func (e *Engine) Reconnect(ctx context.Context, cause error) error {
	if status.Code(cause) != codes.Unavailable {
		return nil
	}

	client, err := e.connect(ctx)
	if err != nil {
		return fmt.Errorf("gcpkms: reconnect: %w", err)
	}

	e.mu.Lock()
	old := e.client
	e.client = client
	e.mu.Unlock()

	if old != nil && old != client {
		e.logger.MaybeError(old.Close())
	}
	e.logger.Info("reconnected KMS client", "cause", cause)
	return nil
}

// Close implements types.EncryptionService.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// crc32c computes the CRC32C checksum used by GCP KMS for data integrity.
func crc32c(data []byte) int64 {
	return int64(crc32.Checksum(data, crc32cTable))
}

func validateHandle(key *types.EncryptionKey) error {
	if key == nil || key.Handle.Label == "" {
		return fmt.Errorf("gcpkms: %w: crypto key name is required", types.ErrInvalidKeyHandle)
	}
	return nil
}

var (
	_ types.EncryptionService = (*Engine)(nil)
	_ types.KeyProvisioner    = (*Engine)(nil)
)
