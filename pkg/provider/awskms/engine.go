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

// Package awskms implements an encryption engine backed by symmetric AWS KMS
// keys. The per-value nonce is bound to the ciphertext as encryption
// context, so a ciphertext only opens under the key and nonce it was
// produced with.
package awskms

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

const (
	nonceSize = 12

	// contextNonceKey is the encryption context entry carrying the nonce.
	contextNonceKey = "keycanary:nonce"
)

// KMSClient defines the subset of the AWS KMS API the engine uses.
type KMSClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	GenerateRandom(ctx context.Context, params *kms.GenerateRandomInput, optFns ...func(*kms.Options)) (*kms.GenerateRandomOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// Engine is the AWS KMS encryption provider.
type Engine struct {
	name    string
	config  *Config
	logger  *logging.Logger
	connect func(context.Context) (KMSClient, error)

	mu     sync.RWMutex
	client KMSClient
}

// New creates an engine using the default AWS credential chain, or static
// credentials when configured.
func New(ctx context.Context, name string, config *Config, logger *logging.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	e := newEngine(name, config, logger)
	e.connect = e.loadClient

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
		logger: logger.With("provider", name, "type", types.ProviderAWSKMS),
	}
}

func (e *Engine) loadClient(ctx context.Context) (KMSClient, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(e.config.Region))

	// Use static credentials if provided
	if e.config.AccessKeyID != "" && e.config.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			e.config.AccessKeyID,
			e.config.SecretAccessKey,
			e.config.SessionToken,
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*kms.Options)
	if e.config.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(e.config.Endpoint)
		})
	}
	return kms.NewFromConfig(cfg, clientOpts...), nil
}

func (e *Engine) kmsClient() KMSClient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// Type implements types.EncryptionService.
func (e *Engine) Type() types.ProviderType {
	return types.ProviderAWSKMS
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
		return nil, nil, fmt.Errorf("awskms: failed to generate nonce: %w", err)
	}

	out, err := e.kmsClient().Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(key.Handle.Label),
		Plaintext:         plaintext,
		EncryptionContext: encryptionContext(nonce),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("awskms: encrypt with %s: %w", key.Handle.Label, err)
	}
	return out.CiphertextBlob, nonce, nil
}

// Decrypt implements types.EncryptionService.
func (e *Engine) Decrypt(ctx context.Context, key *types.EncryptionKey, ciphertext, nonce []byte) ([]byte, error) {
	if err := validateHandle(key); err != nil {
		return nil, err
	}

	out, err := e.kmsClient().Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(key.Handle.Label),
		CiphertextBlob:    ciphertext,
		EncryptionContext: encryptionContext(nonce),
	})
	if err != nil {
		if isKeyMismatch(err) {
			return nil, fmt.Errorf("awskms: %w: %v", types.ErrAuthenticationFailed, err)
		}
		return nil, fmt.Errorf("awskms: decrypt with %s: %w", key.Handle.Label, err)
	}
	return out.Plaintext, nil
}

// GenerateRandom implements types.EncryptionService using the KMS RNG.
func (e *Engine) GenerateRandom(n int) ([]byte, error) {
	out, err := e.kmsClient().GenerateRandom(context.Background(), &kms.GenerateRandomInput{
		NumberOfBytes: aws.Int32(int32(n)),
	})
	if err != nil {
		return nil, fmt.Errorf("awskms: generate random: %w", err)
	}
	return out.Plaintext, nil
}

// EnsureKey implements types.KeyProvisioner. KMS keys are created out of
// band; this only verifies that the key exists and is enabled.
func (e *Engine) EnsureKey(ctx context.Context, label string) error {
	out, err := e.kmsClient().DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(label)})
	if err != nil {
		var nf *kmstypes.NotFoundException
		if errors.As(err, &nf) {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, label)
		}
		return fmt.Errorf("awskms: describe key %s: %w", label, err)
	}
	if out.KeyMetadata != nil && out.KeyMetadata.KeyState != kmstypes.KeyStateEnabled {
		return fmt.Errorf("%w: %s is %s", ErrKeyDisabled, label, out.KeyMetadata.KeyState)
	}
	return nil
}

// Reconnect implements types.EncryptionService. A failure the service
// answered with an API error leaves the client alone; transport failures
// rebuild it.
func (e *Engine) Reconnect(ctx context.Context, cause error) error {
	var apiErr smithy.APIError
	if cause == nil || errors.As(cause, &apiErr) || errors.Is(cause, context.Canceled) {
		return nil
	}

	client, err := e.connect(ctx)
	if err != nil {
		return fmt.Errorf("awskms: reconnect: %w", err)
	}

	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	e.logger.Info("rebuilt KMS client", "cause", cause)
	return nil
}

// Close implements types.EncryptionService.
func (e *Engine) Close() error {
	return nil
}

func encryptionContext(nonce []byte) map[string]string {
	return map[string]string{contextNonceKey: base64.StdEncoding.EncodeToString(nonce)}
}

// isKeyMismatch reports whether KMS rejected the ciphertext as belonging to
// another key or another encryption context.
func isKeyMismatch(err error) bool {
	var incorrect *kmstypes.IncorrectKeyException
	var invalid *kmstypes.InvalidCiphertextException
	return errors.As(err, &incorrect) || errors.As(err, &invalid)
}

func validateHandle(key *types.EncryptionKey) error {
	if key == nil || key.Handle.Label == "" {
		return fmt.Errorf("awskms: %w: key id is required", types.ErrInvalidKeyHandle)
	}
	return nil
}

var (
	_ types.EncryptionService = (*Engine)(nil)
	_ types.KeyProvisioner    = (*Engine)(nil)
)
