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

package azurekv

import (
	"fmt"
	"net/url"
)

// Config contains configuration for the Azure Key Vault engine.
type Config struct {
	// VaultURL is the Azure Key Vault URL.
	// Format: https://{vault-name}.vault.azure.net/
	VaultURL string `yaml:"vault_url" json:"vault_url"`

	// TenantID is the Azure Active Directory tenant ID.
	// Optional - if not provided, will use DefaultAzureCredential.
	TenantID string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`

	// ClientID is the Azure service principal client ID.
	ClientID string `yaml:"client_id,omitempty" json:"client_id,omitempty"`

	// ClientSecret is the Azure service principal client secret.
	ClientSecret string `yaml:"client_secret,omitempty" json:"-"`

	// CreateMissingKeys creates an RSA-HSM wrapping key when the active key
	// does not exist yet.
	CreateMissingKeys bool `yaml:"create_missing_keys,omitempty" json:"create_missing_keys,omitempty"`
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}

	if c.VaultURL == "" {
		return fmt.Errorf("%w: vault URL is required", ErrInvalidConfig)
	}
	if !isValidVaultURL(c.VaultURL) {
		return fmt.Errorf("%w: %s", ErrInvalidVaultURL, c.VaultURL)
	}

	// If service principal credentials are provided, all three must be present
	hasClientID := c.ClientID != ""
	hasClientSecret := c.ClientSecret != ""
	hasTenantID := c.TenantID != ""
	if hasClientID || hasClientSecret || hasTenantID {
		if !hasClientID || !hasClientSecret || !hasTenantID {
			return fmt.Errorf("%w: tenant_id, client_id, and client_secret must all be provided together", ErrInvalidConfig)
		}
	}

	return nil
}

// HasServicePrincipal reports whether client secret credentials are configured.
func (c *Config) HasServicePrincipal() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// String returns a string representation of the config with sensitive data masked.
func (c *Config) String() string {
	clientIDMask := "<not set>"
	if c.ClientID != "" {
		if len(c.ClientID) > 4 {
			clientIDMask = "****" + c.ClientID[len(c.ClientID)-4:]
		} else {
			clientIDMask = "****"
		}
	}

	clientSecretMask := "<not set>"
	if c.ClientSecret != "" {
		clientSecretMask = "****"
	}

	return fmt.Sprintf("Azure Key Vault Config{VaultURL: %s, ClientID: %s, ClientSecret: %s}",
		c.VaultURL, clientIDMask, clientSecretMask)
}

func isValidVaultURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Host != ""
}
