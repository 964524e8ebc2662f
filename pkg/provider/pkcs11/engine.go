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

//go:build pkcs11

// Package pkcs11 implements the hardware security module engine. Keys never
// leave the token; every operation opens a short-lived session, resolves the
// secret key object by label and runs AES-GCM on the device.
package pkcs11

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

const (
	nonceSize = 12
	tagBits   = 128
	keyBytes  = 32
)

// Engine is the PKCS#11 encryption provider.
type Engine struct {
	name   string
	config *Config
	logger *logging.Logger

	// mu guards p11ctx and slot. Operations hold the read side; Reconnect
	// swaps the library context under the write side.
	mu     sync.RWMutex
	p11ctx *pkcs11.Ctx
	slot   uint
}

// New loads the PKCS#11 library and resolves the configured token.
func New(name string, config *Config, logger *logging.Logger) (types.EncryptionService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	e := &Engine{
		name:   name,
		config: config,
		logger: logger.With("provider", name, "type", types.ProviderHSM),
	}
	if err := e.open(); err != nil {
		return nil, err
	}
	return e, nil
}

// Type implements types.EncryptionService.
func (e *Engine) Type() types.ProviderType {
	return types.ProviderHSM
}

// Name implements types.EncryptionService.
func (e *Engine) Name() string {
	return e.name
}

// Encrypt implements types.EncryptionService. The returned ciphertext
// carries the GCM tag appended, as produced by the token.
func (e *Engine) Encrypt(_ context.Context, key *types.EncryptionKey, plaintext []byte) ([]byte, []byte, error) {
	if err := validateHandle(key); err != nil {
		return nil, nil, err
	}

	var ciphertext, nonce []byte
	err := e.withSession(func(session pkcs11.SessionHandle) error {
		handle, err := e.findKey(session, key.Handle.Label)
		if err != nil {
			return err
		}

		nonce, err = e.p11ctx.GenerateRandom(session, nonceSize)
		if err != nil {
			return wrap("C_GenerateRandom", err)
		}

		params := pkcs11.NewGCMParams(nonce, nil, tagBits)
		defer params.Free()

		mechanism := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_GCM, params)}
		if err := e.p11ctx.EncryptInit(session, mechanism, handle); err != nil {
			return wrap("C_EncryptInit", err)
		}
		ciphertext, err = e.p11ctx.Encrypt(session, plaintext)
		if err != nil {
			return wrap("C_Encrypt", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, nonce, nil
}

// Decrypt implements types.EncryptionService.
func (e *Engine) Decrypt(_ context.Context, key *types.EncryptionKey, ciphertext, nonce []byte) ([]byte, error) {
	if err := validateHandle(key); err != nil {
		return nil, err
	}
	// A nonce of another size cannot have come from this engine.
	if len(nonce) != nonceSize {
		return nil, fmt.Errorf("pkcs11: %w: nonce length %d", types.ErrAuthenticationFailed, len(nonce))
	}

	var plaintext []byte
	err := e.withSession(func(session pkcs11.SessionHandle) error {
		handle, err := e.findKey(session, key.Handle.Label)
		if err != nil {
			return err
		}

		params := pkcs11.NewGCMParams(nonce, nil, tagBits)
		defer params.Free()

		mechanism := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_GCM, params)}
		if err := e.p11ctx.DecryptInit(session, mechanism, handle); err != nil {
			return wrap("C_DecryptInit", err)
		}
		plaintext, err = e.p11ctx.Decrypt(session, ciphertext)
		if err != nil {
			return wrap("C_Decrypt", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// GenerateRandom implements types.EncryptionService using the token RNG.
func (e *Engine) GenerateRandom(n int) ([]byte, error) {
	var out []byte
	err := e.withSession(func(session pkcs11.SessionHandle) error {
		var err error
		out, err = e.p11ctx.GenerateRandom(session, n)
		if err != nil {
			return wrap("C_GenerateRandom", err)
		}
		return nil
	})
	return out, err
}

// EnsureKey implements types.KeyProvisioner. A missing key is generated
// only when GenerateMissingKeys is set.
func (e *Engine) EnsureKey(_ context.Context, label string) error {
	return e.withSession(func(session pkcs11.SessionHandle) error {
		_, err := e.findKey(session, label)
		if err == nil || !errors.Is(err, ErrKeyNotFound) {
			return err
		}
		if !e.config.GenerateMissingKeys {
			return err
		}

		template := []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
			pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_AES),
			pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
			pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
			pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(label)),
			pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true),
			pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true),
			pkcs11.NewAttribute(pkcs11.CKA_VALUE_LEN, keyBytes),
			pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
			pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
		}
		mechanism := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_KEY_GEN, nil)}
		if _, err := e.p11ctx.GenerateKey(session, mechanism, template); err != nil {
			return wrap("C_GenerateKey", err)
		}
		e.logger.Info("generated secret key on token", "label", label)
		return nil
	})
}

// Reconnect implements types.EncryptionService. Only session, login and
// device failures cause the library to be re-initialized.
func (e *Engine) Reconnect(_ context.Context, cause error) error {
	if !NeedsReconnect(cause) {
		e.logger.Debug("failure does not require reconnect", "error", cause)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Warn("reinitializing PKCS#11 library", "cause", cause)
	e.closeLocked()
	return e.openLocked()
}

// Close implements types.EncryptionService.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
	return nil
}

func (e *Engine) open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openLocked()
}

func (e *Engine) openLocked() error {
	p11ctx := pkcs11.New(e.config.Library)
	if p11ctx == nil {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, e.config.Library)
	}
	if err := p11ctx.Initialize(); err != nil && !isCode(err, ckrCryptokiAlreadyInit) {
		p11ctx.Destroy()
		return wrap("C_Initialize", err)
	}

	slot, err := e.findSlot(p11ctx)
	if err != nil {
		_ = p11ctx.Finalize()
		p11ctx.Destroy()
		return err
	}

	e.p11ctx = p11ctx
	e.slot = slot
	e.logger.Debug("PKCS#11 token ready", "slot", slot)
	return nil
}

func (e *Engine) closeLocked() {
	if e.p11ctx == nil {
		return
	}
	if err := e.p11ctx.Finalize(); err != nil {
		e.logger.Debug("C_Finalize failed", "error", err)
	}
	e.p11ctx.Destroy()
	e.p11ctx = nil
}

func (e *Engine) findSlot(p11ctx *pkcs11.Ctx) (uint, error) {
	if e.config.Slot != nil {
		return uint(*e.config.Slot), nil
	}

	slots, err := p11ctx.GetSlotList(true)
	if err != nil {
		return 0, wrap("C_GetSlotList", err)
	}
	for _, slot := range slots {
		info, err := p11ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if info.Label == e.config.TokenLabel {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrTokenNotFound, e.config.TokenLabel)
}

// withSession runs fn inside a logged-in session on the configured slot.
// We never call C_Logout: it would end the login for every session.
func (e *Engine) withSession(fn func(pkcs11.SessionHandle) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.p11ctx == nil {
		return classify("C_OpenSession", ckrCryptokiNotInitialized)
	}

	session, err := e.p11ctx.OpenSession(e.slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return wrap("C_OpenSession", err)
	}
	defer e.p11ctx.CloseSession(session)

	if err := e.p11ctx.Login(session, pkcs11.CKU_USER, e.config.PIN); err != nil && !isCode(err, ckrUserAlreadyLoggedIn) {
		return wrap("C_Login", err)
	}

	return fn(session)
}

func (e *Engine) findKey(session pkcs11.SessionHandle, label string) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
	}
	if err := e.p11ctx.FindObjectsInit(session, template); err != nil {
		return 0, wrap("C_FindObjectsInit", err)
	}

	handles, _, err := e.p11ctx.FindObjects(session, 1)
	if err != nil {
		_ = e.p11ctx.FindObjectsFinal(session)
		return 0, wrap("C_FindObjects", err)
	}
	// Must finalize before starting another operation on the session.
	if err := e.p11ctx.FindObjectsFinal(session); err != nil {
		return 0, wrap("C_FindObjectsFinal", err)
	}

	if len(handles) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, label)
	}
	return handles[0], nil
}

func validateHandle(key *types.EncryptionKey) error {
	if key == nil || key.Handle.Label == "" {
		return fmt.Errorf("pkcs11: %w: key label is required", types.ErrInvalidKeyHandle)
	}
	return nil
}

func isCode(err error, code uint) bool {
	var perr pkcs11.Error
	return errors.As(err, &perr) && uint(perr) == code
}

func wrap(op string, err error) error {
	var perr pkcs11.Error
	if errors.As(err, &perr) {
		return classify(op, uint(perr))
	}
	return fmt.Errorf("pkcs11: %s: %w", op, err)
}

var (
	_ types.EncryptionService = (*Engine)(nil)
	_ types.KeyProvisioner    = (*Engine)(nil)
)
