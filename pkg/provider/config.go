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

package provider

import (
	"fmt"

	"github.com/jeremyhahn/go-keycanary/pkg/provider/awskms"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/azurekv"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/gcpkms"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/pkcs11"
	"github.com/jeremyhahn/go-keycanary/pkg/provider/vault"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// Config describes one encryption provider and the keys it holds. Exactly
// one of the per-type sections is read, chosen by Type.
type Config struct {
	Name string              `yaml:"name" json:"name"`
	Type types.ProviderType  `yaml:"type" json:"type"`
	Keys []types.KeyMetadata `yaml:"keys" json:"keys"`

	PKCS11  *pkcs11.Config  `yaml:"pkcs11,omitempty" json:"pkcs11,omitempty"`
	AWSKMS  *awskms.Config  `yaml:"aws_kms,omitempty" json:"aws_kms,omitempty"`
	GCPKMS  *gcpkms.Config  `yaml:"gcp_kms,omitempty" json:"gcp_kms,omitempty"`
	AzureKV *azurekv.Config `yaml:"azure_kv,omitempty" json:"azure_kv,omitempty"`
	Vault   *vault.Config   `yaml:"vault,omitempty" json:"vault,omitempty"`
}

// Identity returns the cache key of the provider instance.
func (c *Config) Identity() string {
	return c.Type.String() + "/" + c.Name
}

// ActiveKeys returns the number of keys flagged active.
func (c *Config) ActiveKeys() int {
	n := 0
	for _, k := range c.Keys {
		if k.Active {
			n++
		}
	}
	return n
}

// Validate checks the provider section and its declared keys.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil provider config", ErrInvalidConfig)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: provider name is required", ErrInvalidConfig)
	}
	if !c.Type.IsValid() {
		return fmt.Errorf("%w: provider %s: %q", types.ErrUnknownProviderType, c.Name, c.Type)
	}

	for i, k := range c.Keys {
		switch {
		case c.Type.IsExternal() && k.DeviceRef == "":
			return fmt.Errorf("%w: provider %s key %d: device_ref is required", ErrInvalidConfig, c.Name, i)
		case !c.Type.IsExternal() && k.EncryptionPassword == "" && k.EncryptionKey == "":
			return fmt.Errorf("%w: provider %s key %d: encryption_password or encryption_key is required", ErrInvalidConfig, c.Name, i)
		case !c.Type.IsExternal() && k.EncryptionPassword != "" && k.EncryptionKey != "":
			return fmt.Errorf("%w: provider %s key %d: encryption_password and encryption_key are exclusive", ErrInvalidConfig, c.Name, i)
		}
	}

	if err := c.validateSection(); err != nil {
		return fmt.Errorf("provider %s: %w", c.Name, err)
	}
	return nil
}

func (c *Config) validateSection() error {
	missing := fmt.Errorf("%w: missing %s settings", ErrInvalidConfig, c.Type)
	switch c.Type {
	case types.ProviderHSM:
		if c.PKCS11 == nil {
			return missing
		}
		return c.PKCS11.Validate()
	case types.ProviderAWSKMS:
		if c.AWSKMS == nil {
			return missing
		}
		return c.AWSKMS.Validate()
	case types.ProviderGCPKMS:
		if c.GCPKMS == nil {
			return missing
		}
		return c.GCPKMS.Validate()
	case types.ProviderAzureKV:
		if c.AzureKV == nil {
			return missing
		}
		return c.AzureKV.Validate()
	case types.ProviderVaultTransit:
		if c.Vault == nil {
			return missing
		}
		return c.Vault.Validate()
	}
	return nil
}
