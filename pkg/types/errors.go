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

package types

import (
	"errors"
	"fmt"
)

// PKCS#11 return codes surfaced through BlockSizeError.
const (
	// ReturnCodeEncryptedDataInvalid (CKR_ENCRYPTED_DATA_INVALID) is what a
	// token reports when ciphertext was produced under a different key.
	ReturnCodeEncryptedDataInvalid uint = 0x40

	// ReturnCodeEncryptedDataLenRange (CKR_ENCRYPTED_DATA_LEN_RANGE).
	ReturnCodeEncryptedDataLenRange uint = 0x41
)

var (
	// ErrAuthenticationFailed is returned by providers when a ciphertext does
	// not authenticate under the supplied key.
	ErrAuthenticationFailed = errors.New("types: message authentication failed")

	// ErrMalformedCiphertext is returned when a ciphertext is structurally
	// invalid, such as a truncated tag.
	ErrMalformedCiphertext = errors.New("types: malformed ciphertext")

	// ErrIncorrectKey wraps any unexpected trial-decryption failure. It means
	// the key or the device is in a bad state, not that the key is different.
	ErrIncorrectKey = errors.New("types: incorrect key")

	// ErrUnknownProviderType is returned for unsupported provider types.
	ErrUnknownProviderType = errors.New("types: unknown provider type")

	// ErrInvalidKeyHandle is returned when a key handle lacks the material
	// its provider requires.
	ErrInvalidKeyHandle = errors.New("types: invalid key handle")
)

// BlockSizeError reports a device rejecting ciphertext length or content,
// carrying the device return code.
type BlockSizeError struct {
	Code uint
	Err  error
}

func (e *BlockSizeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("illegal block size (return code 0x%X): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("illegal block size (return code 0x%X)", e.Code)
}

func (e *BlockSizeError) Unwrap() error {
	return e.Err
}

// Benign reports whether the code is the device's own wrong-key signal.
func (e *BlockSizeError) Benign() bool {
	return e.Code == ReturnCodeEncryptedDataInvalid
}

// IsKeyMismatch reports whether err is an ordinary wrong-key signal from a
// trial decryption.
func IsKeyMismatch(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		return true
	}
	var bse *BlockSizeError
	return errors.As(err, &bse) && bse.Benign()
}

// IsIncorrectKey reports whether err is a fatal incorrect-key error.
func IsIncorrectKey(err error) bool {
	return errors.Is(err, ErrIncorrectKey)
}
