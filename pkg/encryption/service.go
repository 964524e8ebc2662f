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

// Package encryption is the encrypt/decrypt entry point for stored secrets.
//
// RetryingService runs every operation against the current key set under a
// shared lock. When a provider operation fails, the failing caller flags the
// service for recovery before giving up the shared lock, then takes the
// exclusive lock, reconnects the provider, reloads the key set and retries
// once. Callers that failed alongside it find the flag already cleared and
// retry against the recovered state without reconnecting again.
package encryption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/metrics"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

var tracer = otel.Tracer("github.com/jeremyhahn/go-keycanary/pkg/encryption")

// KeySource is the view of the key set the service needs.
type KeySource interface {
	Get(id uuid.UUID) (*types.EncryptionKey, bool)
	Active() (*types.EncryptionKey, error)
	Reload(ctx context.Context) error
}

// Service encrypts and decrypts raw bytes.
type Service interface {
	Encrypt(ctx context.Context, plaintext []byte) (*types.EncryptedValue, error)
	Decrypt(ctx context.Context, value *types.EncryptedValue) ([]byte, error)
}

// RetryingService is safe for concurrent use.
type RetryingService struct {
	keys   KeySource
	logger *logging.Logger

	mu             sync.RWMutex
	needsReconnect atomic.Bool
}

// NewRetryingService returns a service backed by keys.
func NewRetryingService(keys KeySource, logger *logging.Logger) *RetryingService {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &RetryingService{keys: keys, logger: logger.With("component", "encryption")}
}

// lookupError marks a key lookup failure, which is returned without
// recovery.
type lookupError struct{ err error }

func (e *lookupError) Error() string { return e.err.Error() }
func (e *lookupError) Unwrap() error { return e.err }

// attempt runs one operation. It returns the key it used, or nil when the
// key could not be resolved.
type attempt[T any] func(ctx context.Context) (T, *types.EncryptionKey, error)

// Encrypt seals plaintext under the active key.
func (s *RetryingService) Encrypt(ctx context.Context, plaintext []byte) (*types.EncryptedValue, error) {
	ctx, span := tracer.Start(ctx, "encryption.Encrypt")
	defer span.End()

	return run(ctx, s, metrics.OpEncrypt, func(ctx context.Context) (*types.EncryptedValue, *types.EncryptionKey, error) {
		key, err := s.keys.Active()
		if err != nil {
			return nil, nil, &lookupError{err}
		}
		ciphertext, nonce, err := key.Provider.Encrypt(ctx, key, plaintext)
		if err != nil {
			return nil, key, err
		}
		return &types.EncryptedValue{KeyID: key.ID, Ciphertext: ciphertext, Nonce: nonce}, key, nil
	})
}

// Decrypt opens value with the key it names.
func (s *RetryingService) Decrypt(ctx context.Context, value *types.EncryptedValue) ([]byte, error) {
	if value == nil {
		return nil, ErrNilValue
	}
	ctx, span := tracer.Start(ctx, "encryption.Decrypt")
	defer span.End()
	span.SetAttributes(attribute.String("key_id", value.KeyID.String()))

	return run(ctx, s, metrics.OpDecrypt, func(ctx context.Context) ([]byte, *types.EncryptionKey, error) {
		key, ok := s.keys.Get(value.KeyID)
		if !ok {
			return nil, nil, &lookupError{fmt.Errorf("%w: %s", ErrKeyNotFound, value.KeyID)}
		}
		plaintext, err := key.Provider.Decrypt(ctx, key, value.Ciphertext, value.Nonce)
		if err != nil {
			return nil, key, err
		}
		return plaintext, key, nil
	})
}

func run[T any](ctx context.Context, s *RetryingService, op string, fn attempt[T]) (T, error) {
	start := time.Now()

	result, key, err := try(ctx, s, fn, true)
	if err == nil {
		metrics.RecordOperation(op, providerLabel(key), metrics.StatusSuccess, time.Since(start).Seconds())
		return result, nil
	}

	var lookup *lookupError
	if errors.As(err, &lookup) {
		recordFailure(ctx, op, providerLabel(key), "key_lookup", lookup.err, start)
		return result, lookup.err
	}

	s.logger.Warn("encryption operation failed, recovering provider",
		"operation", op, "provider", providerLabel(key), "error", err)

	if rerr := s.reconnect(ctx, key, err); rerr != nil {
		recordFailure(ctx, op, providerLabel(key), "recovery", rerr, start)
		return result, rerr
	}

	result, key, err = try(ctx, s, fn, false)
	if err != nil {
		if errors.As(err, &lookup) {
			err = lookup.err
		}
		recordFailure(ctx, op, providerLabel(key), "retry", err, start)
		return result, err
	}
	metrics.RecordOperation(op, providerLabel(key), metrics.StatusRetried, time.Since(start).Seconds())
	return result, nil
}

// try runs fn under the shared lock. When flag is set, a provider failure
// marks the service for recovery before the lock is released.
func try[T any](ctx context.Context, s *RetryingService, fn attempt[T], flag bool) (T, *types.EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, key, err := fn(ctx)
	if err != nil && flag && key != nil {
		s.needsReconnect.Store(true)
	}
	return result, key, err
}

// reconnect reconnects the failed key's provider and reloads the key set,
// unless another caller already did so for the same failure window.
func (s *RetryingService) reconnect(ctx context.Context, key *types.EncryptionKey, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.needsReconnect.CompareAndSwap(true, false) {
		s.logger.Debug("provider already recovered by a concurrent operation")
		return nil
	}

	ctx, span := tracer.Start(ctx, "encryption.recover")
	defer span.End()

	metrics.RecordReconnect(providerLabel(key))
	if err := key.Provider.Reconnect(ctx, cause); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("encryption: reconnect %s: %w", providerLabel(key), err)
	}
	if err := s.keys.Reload(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.logger.Info("provider recovered", "provider", providerLabel(key))
	return nil
}

func recordFailure(ctx context.Context, op, provider, errType string, err error, start time.Time) {
	metrics.RecordOperation(op, provider, metrics.StatusError, time.Since(start).Seconds())
	metrics.RecordError(op, provider, errType)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func providerLabel(key *types.EncryptionKey) string {
	if key == nil || key.Provider == nil {
		return "none"
	}
	return fmt.Sprintf("%s/%s", key.Provider.Type(), key.Provider.Name())
}

var _ Service = (*RetryingService)(nil)
