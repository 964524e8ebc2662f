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

package vault

import (
	"fmt"
	"net/url"
)

// DefaultTransitPath is the default mount of the transit secrets engine.
const DefaultTransitPath = "transit"

// Config holds the configuration for the Vault transit engine.
type Config struct {
	// Address is the Vault server address (e.g., "http://127.0.0.1:8200")
	Address string `yaml:"address" json:"address"`

	// Token is the Vault authentication token. When empty the client falls
	// back to VAULT_TOKEN.
	Token string `yaml:"token,omitempty" json:"-"`

	// TransitPath is the path to the Transit secrets engine (default: "transit")
	TransitPath string `yaml:"transit_path,omitempty" json:"transit_path,omitempty"`

	// Namespace is the Vault namespace (Enterprise feature, optional)
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// CACert is a PEM bundle used to verify the server certificate.
	CACert string `yaml:"ca_cert,omitempty" json:"ca_cert,omitempty"`

	// TLSSkipVerify disables TLS certificate verification (not recommended for production)
	TLSSkipVerify bool `yaml:"tls_skip_verify,omitempty" json:"tls_skip_verify,omitempty"`

	// CreateMissingKeys creates an aes256-gcm96 transit key when the active
	// key does not exist yet.
	CreateMissingKeys bool `yaml:"create_missing_keys,omitempty" json:"create_missing_keys,omitempty"`
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.Address == "" {
		return fmt.Errorf("%w: vault address is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Address)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: invalid vault address %q", ErrInvalidConfig, c.Address)
	}
	if c.TransitPath == "" {
		c.TransitPath = DefaultTransitPath
	}
	return nil
}

// String returns a string representation with the token masked.
func (c *Config) String() string {
	token := "<not set>"
	if c.Token != "" {
		token = "****"
	}
	return fmt.Sprintf("Vault Config{Address: %s, TransitPath: %s, Namespace: %s, Token: %s}",
		c.Address, c.TransitPath, c.Namespace, token)
}
