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

// Package password holds encryption passwords in memory and derives AES key
// material from them.
package password

import (
	"crypto/sha512"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

const (
	// Iterations is the PBKDF2 work factor for encryption passwords.
	Iterations = 100000

	// KeySize is the length of derived keys (AES-256).
	KeySize = 32

	// SaltSize is the length of freshly generated salts.
	SaltSize = 48
)

var (
	// ErrEmptyPassword is returned when an empty password is provided.
	ErrEmptyPassword = errors.New("password cannot be empty")

	// ErrPasswordZeroed is returned when the password has been zeroed.
	ErrPasswordZeroed = errors.New("password has been zeroed")

	// ErrEmptySalt is returned when deriving without a salt.
	ErrEmptySalt = errors.New("password: salt is required")
)

// ClearPassword stores a password in memory as cleartext until Clear is
// called.
type ClearPassword struct {
	password []byte
}

// NewClearPassword copies password into a new ClearPassword.
func NewClearPassword(password []byte) (*ClearPassword, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	p := make([]byte, len(password))
	copy(p, password)
	return &ClearPassword{password: p}, nil
}

// NewClearPasswordFromString creates a ClearPassword from a string.
func NewClearPasswordFromString(password string) (*ClearPassword, error) {
	return NewClearPassword([]byte(password))
}

// String returns the password as a string.
func (p *ClearPassword) String() (string, error) {
	if p.password == nil {
		return "", ErrPasswordZeroed
	}
	return string(p.password), nil
}

// Bytes returns a copy of the password, or nil once cleared.
func (p *ClearPassword) Bytes() []byte {
	if p.password == nil {
		return nil
	}
	result := make([]byte, len(p.password))
	copy(result, p.password)
	return result
}

// Clear zeroes the password. It cannot be used afterwards.
func (p *ClearPassword) Clear() {
	if p.password != nil {
		subtle.ConstantTimeCopy(1, p.password, make([]byte, len(p.password)))
		p.password = nil
	}
}

// DeriveKey runs PBKDF2-HMAC-SHA384 over the password and salt. The same
// password and salt always produce the same key.
func (p *ClearPassword) DeriveKey(salt []byte) ([]byte, error) {
	if p.password == nil {
		return nil, ErrPasswordZeroed
	}
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}
	return pbkdf2.Key(p.password, salt, Iterations, KeySize, sha512.New384), nil
}

// Equal compares two passwords in constant time.
func Equal(a, b types.Password) (bool, error) {
	aBytes := a.Bytes()
	if aBytes == nil {
		return false, ErrPasswordZeroed
	}
	defer zero(aBytes)

	bBytes := b.Bytes()
	if bBytes == nil {
		return false, ErrPasswordZeroed
	}
	defer zero(bBytes)

	return subtle.ConstantTimeCompare(aBytes, bBytes) == 1, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var _ types.Password = (*ClearPassword)(nil)
