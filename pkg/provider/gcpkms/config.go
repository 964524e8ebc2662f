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

package gcpkms

import (
	"fmt"
	"os"
	"strings"
)

// Config contains configuration for the GCP KMS engine.
type Config struct {
	// ProjectID is the GCP project ID where the KMS resources are located.
	ProjectID string `yaml:"project_id" json:"project_id"`

	// LocationID is the GCP location (region) for KMS resources.
	// Examples: "us-east1", "us-central1", "global"
	LocationID string `yaml:"location_id" json:"location_id"`

	// KeyRingID is the key ring holding the crypto keys.
	KeyRingID string `yaml:"key_ring_id" json:"key_ring_id"`

	// CredentialsFile is the path to a service account JSON key file.
	// Optional. If not provided, uses Application Default Credentials (ADC).
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`

	// Endpoint is a custom KMS API endpoint, such as an emulator.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// CreateMissingKeys creates the active crypto key in the key ring when it
	// does not exist yet.
	CreateMissingKeys bool `yaml:"create_missing_keys,omitempty" json:"create_missing_keys,omitempty"`
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.ProjectID == "" {
		return fmt.Errorf("%w: project ID is required", ErrInvalidConfig)
	}
	if c.LocationID == "" {
		return fmt.Errorf("%w: location ID is required", ErrInvalidConfig)
	}
	if c.KeyRingID == "" {
		return fmt.Errorf("%w: key ring ID is required", ErrInvalidConfig)
	}
	if c.CredentialsFile != "" {
		if _, err := os.Stat(c.CredentialsFile); os.IsNotExist(err) {
			return fmt.Errorf("%w: credentials file not found: %s", ErrInvalidConfig, c.CredentialsFile)
		}
	}
	return nil
}

// LocationName returns the fully qualified location resource name.
func (c *Config) LocationName() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.ProjectID, c.LocationID)
}

// KeyRingName returns the fully qualified key ring resource name.
// Format: projects/{project}/locations/{location}/keyRings/{keyRing}
func (c *Config) KeyRingName() string {
	return fmt.Sprintf("%s/keyRings/%s", c.LocationName(), c.KeyRingID)
}

// CryptoKeyName resolves a device reference to a crypto key resource name.
// Fully qualified names are returned unchanged.
func (c *Config) CryptoKeyName(ref string) string {
	if strings.HasPrefix(ref, "projects/") {
		return ref
	}
	return fmt.Sprintf("%s/cryptoKeys/%s", c.KeyRingName(), ref)
}
