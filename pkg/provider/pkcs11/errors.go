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

package pkcs11

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("pkcs11: invalid configuration")

	// ErrLibraryNotFound is returned when the PKCS#11 library cannot be found.
	ErrLibraryNotFound = errors.New("pkcs11: library not found")

	// ErrInvalidPINLength is returned when the user PIN is too short.
	// PKCS#11 typically requires PINs to be at least 4 characters.
	ErrInvalidPINLength = errors.New("pkcs11: invalid pin length, must be at least 4 characters")

	// ErrTokenNotFound is returned when the specified token cannot be found.
	ErrTokenNotFound = errors.New("pkcs11: token not found")

	// ErrKeyNotFound is returned when no secret key carries the requested label.
	ErrKeyNotFound = errors.New("pkcs11: key not found")

	// ErrNotCompiled is returned when the binary was built without the
	// pkcs11 build tag.
	ErrNotCompiled = errors.New("pkcs11: support not compiled in, rebuild with -tags pkcs11")
)

// Cryptoki return codes the engine reacts to.
const (
	ckrGeneralError           uint = 0x05
	ckrDeviceError            uint = 0x30
	ckrDeviceMemory           uint = 0x31
	ckrDeviceRemoved          uint = 0x32
	ckrEncryptedDataInvalid   uint = 0x40
	ckrEncryptedDataLenRange  uint = 0x41
	ckrSessionClosed          uint = 0xB0
	ckrSessionHandleInvalid   uint = 0xB3
	ckrTokenNotPresent        uint = 0xE0
	ckrTokenNotRecognized     uint = 0xE1
	ckrUserAlreadyLoggedIn    uint = 0x100
	ckrUserNotLoggedIn        uint = 0x101
	ckrCryptokiNotInitialized uint = 0x190
	ckrCryptokiAlreadyInit    uint = 0x191
)

// reconnectCodes lists return codes after which the session, login or
// library state is gone and the library must be re-initialized.
var reconnectCodes = map[uint]bool{
	ckrGeneralError:           true,
	ckrDeviceError:            true,
	ckrDeviceMemory:           true,
	ckrDeviceRemoved:          true,
	ckrSessionClosed:          true,
	ckrSessionHandleInvalid:   true,
	ckrTokenNotPresent:        true,
	ckrTokenNotRecognized:     true,
	ckrUserNotLoggedIn:        true,
	ckrCryptokiNotInitialized: true,
}

// ReturnCodeError is a failed Cryptoki call.
type ReturnCodeError struct {
	Op   string
	Code uint
}

func (e *ReturnCodeError) Error() string {
	return fmt.Sprintf("pkcs11: %s failed with return code 0x%X", e.Op, e.Code)
}

// classify converts a Cryptoki return code from op into the error the rest
// of the system understands. Ciphertext rejections become a
// *types.BlockSizeError so trial decryption can tell a foreign ciphertext
// from a device fault.
func classify(op string, code uint) error {
	rc := &ReturnCodeError{Op: op, Code: code}
	switch code {
	case ckrEncryptedDataInvalid, ckrEncryptedDataLenRange:
		return &types.BlockSizeError{Code: code, Err: rc}
	default:
		return rc
	}
}

// NeedsReconnect reports whether err indicates that the Cryptoki session or
// library state was lost.
func NeedsReconnect(err error) bool {
	var rc *ReturnCodeError
	if !errors.As(err, &rc) {
		return false
	}
	return reconnectCodes[rc.Code]
}
