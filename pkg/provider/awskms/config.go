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

package awskms

import (
	"fmt"
	"strings"
)

// Config contains configuration for the AWS KMS engine.
type Config struct {
	// Region is the AWS region holding the keys.
	// Examples: "us-east-1", "us-west-2", "eu-west-1"
	Region string `yaml:"region" json:"region"`

	// AccessKeyID is the AWS access key ID.
	// Optional - if not provided, will use IAM role or environment credentials.
	AccessKeyID string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`

	// SecretAccessKey is the AWS secret access key.
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"-"`

	// SessionToken is the AWS session token for temporary credentials.
	SessionToken string `yaml:"session_token,omitempty" json:"-"`

	// Endpoint is a custom KMS endpoint URL, such as LocalStack.
	// Example: "http://localhost:4566"
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}

	if c.Region == "" {
		return fmt.Errorf("%w: region is required", ErrInvalidConfig)
	}
	if !isValidRegion(c.Region) {
		return fmt.Errorf("%w: %s", ErrInvalidRegion, c.Region)
	}

	// If static credentials are provided, both access key and secret must be present
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return fmt.Errorf("%w: both access_key_id and secret_access_key must be provided together", ErrInvalidConfig)
	}

	return nil
}

// String returns a string representation of the config with sensitive data masked.
func (c *Config) String() string {
	accessKeyMask := "<not set>"
	if c.AccessKeyID != "" {
		if len(c.AccessKeyID) > 4 {
			accessKeyMask = "****" + c.AccessKeyID[len(c.AccessKeyID)-4:]
		} else {
			accessKeyMask = "****"
		}
	}

	secretKeyMask := "<not set>"
	if c.SecretAccessKey != "" {
		secretKeyMask = "****"
	}

	endpointDisplay := "<default>"
	if c.Endpoint != "" {
		endpointDisplay = c.Endpoint
	}

	return fmt.Sprintf("AWS KMS Config{Region: %s, AccessKeyID: %s, SecretAccessKey: %s, Endpoint: %s}",
		c.Region, accessKeyMask, secretKeyMask, endpointDisplay)
}

// isValidRegion performs basic validation of AWS region format.
func isValidRegion(region string) bool {
	// Allow "local" for LocalStack testing
	if region == "local" {
		return true
	}

	parts := strings.Split(region, "-")
	if len(parts) < 2 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, c := range part {
			if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
				return false
			}
		}
	}
	return true
}
