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
	"fmt"
	"os"
	"strings"
)

// Config contains configuration for the PKCS#11 engine.
type Config struct {
	// Library is the path to the PKCS#11 library file.
	// Examples:
	//   - /usr/lib/softhsm/libsofthsm2.so (SoftHSM)
	//   - /opt/nfast/toolkits/pkcs11/libcknfast.so (nCipher)
	Library string `yaml:"library" json:"library"`

	// TokenLabel selects the token by label. Ignored when Slot is set.
	TokenLabel string `yaml:"token_label,omitempty" json:"token_label,omitempty"`

	// Slot is the slot number where the token is located.
	Slot *int `yaml:"slot,omitempty" json:"slot,omitempty"`

	// PIN is the user PIN for the token.
	PIN string `yaml:"pin,omitempty" json:"-"`

	// GenerateMissingKeys creates an AES-256 secret key on the token when
	// the active key label does not exist yet.
	GenerateMissingKeys bool `yaml:"generate_missing_keys,omitempty" json:"generate_missing_keys,omitempty"`
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}

	if c.Library == "" {
		return fmt.Errorf("%w: library path is required", ErrInvalidConfig)
	}
	if _, err := os.Stat(c.Library); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, c.Library)
	}

	if c.Slot == nil && c.TokenLabel == "" {
		return fmt.Errorf("%w: slot or token label is required", ErrInvalidConfig)
	}

	if len(c.PIN) < 4 {
		return ErrInvalidPINLength
	}

	return nil
}

// IsSoftHSM returns true if the library path indicates SoftHSM is being used.
func (c *Config) IsSoftHSM() bool {
	return strings.Contains(c.Library, "libsofthsm")
}

// String returns a string representation of the config with sensitive data masked.
func (c *Config) String() string {
	pinMask := "****"
	if c.PIN == "" {
		pinMask = "<not set>"
	}

	slot := "<not set>"
	if c.Slot != nil {
		slot = fmt.Sprintf("%d", *c.Slot)
	}

	return fmt.Sprintf("PKCS#11 Config{Library: %s, TokenLabel: %s, Slot: %s, PIN: %s}",
		c.Library, c.TokenLabel, slot, pinMask)
}
