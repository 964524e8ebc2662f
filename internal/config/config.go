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

// Package config loads the keycanary YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/mapper"
	"github.com/jeremyhahn/go-keycanary/pkg/provider"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// Canary storage backends.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// DefaultListenAddress is where `keycanary serve` exposes health and metrics.
const DefaultListenAddress = "127.0.0.1:9464"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete keycanary configuration.
type Config struct {
	Logging    LoggingConfig      `yaml:"logging"`
	Storage    StorageConfig      `yaml:"storage"`
	Encryption EncryptionConfig   `yaml:"encryption"`
	Server     ServerConfig       `yaml:"server"`
	Providers  []*provider.Config `yaml:"providers"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects where canaries are persisted.
type StorageConfig struct {
	Backend string `yaml:"backend"`

	// Path is the directory for the file backend or the database file for
	// sqlite.
	Path string `yaml:"path"`

	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`
}

// EncryptionConfig controls canary creation and waiting.
type EncryptionConfig struct {
	mapper.Settings `yaml:",inline"`
}

// ServerConfig controls the health and metrics listener.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	Metrics       bool   `yaml:"metrics"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		Logging:    LoggingConfig{Level: "info", Format: logging.FormatText},
		Storage:    StorageConfig{Backend: StorageMemory},
		Encryption: EncryptionConfig{Settings: mapper.DefaultSettings()},
		Server:     ServerConfig{ListenAddress: DefaultListenAddress, Metrics: true},
	}
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if level := os.Getenv("KEYCANARY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("KEYCANARY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if backend := os.Getenv("KEYCANARY_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := os.Getenv("KEYCANARY_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if dsn := os.Getenv("KEYCANARY_STORAGE_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}

	if v := os.Getenv("KEYCANARY_KEY_CREATION_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Warning: invalid KEYCANARY_KEY_CREATION_ENABLED value %q, keeping %t: %v",
				v, cfg.Encryption.KeyCreationEnabled, err)
		} else {
			cfg.Encryption.KeyCreationEnabled = enabled
		}
	}
	if v := os.Getenv("KEYCANARY_CANARY_WAIT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("Warning: invalid KEYCANARY_CANARY_WAIT_TIMEOUT value %q, keeping %s: %v",
				v, cfg.Encryption.CanaryWaitTimeout, err)
		} else {
			cfg.Encryption.CanaryWaitTimeout = d
		}
	}

	if addr := os.Getenv("KEYCANARY_LISTEN_ADDRESS"); addr != "" {
		cfg.Server.ListenAddress = addr
	}

	for _, p := range cfg.Providers {
		if p == nil {
			continue
		}
		switch {
		case p.PKCS11 != nil:
			if lib := os.Getenv("PKCS11_LIBRARY"); lib != "" {
				p.PKCS11.Library = lib
			}
			if pin := os.Getenv("PKCS11_PIN"); pin != "" {
				p.PKCS11.PIN = pin
			}
		case p.AWSKMS != nil:
			if region := os.Getenv("AWS_REGION"); region != "" {
				p.AWSKMS.Region = region
			}
			if endpoint := os.Getenv("AWS_ENDPOINT"); endpoint != "" {
				p.AWSKMS.Endpoint = endpoint
			}
		case p.GCPKMS != nil:
			if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
				p.GCPKMS.CredentialsFile = credsFile
			}
		case p.AzureKV != nil:
			if clientSecret := os.Getenv("AZURE_CLIENT_SECRET"); clientSecret != "" {
				p.AzureKV.ClientSecret = clientSecret
			}
		case p.Vault != nil:
			if addr := os.Getenv("VAULT_ADDR"); addr != "" {
				p.Vault.Address = addr
			}
			if token := os.Getenv("VAULT_TOKEN"); token != "" {
				p.Vault.Token = token
			}
			if namespace := os.Getenv("VAULT_NAMESPACE"); namespace != "" {
				p.Vault.Namespace = namespace
			}
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be text or json)", ErrInvalidConfig, c.Logging.Format)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile, StorageSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage path is required for the %s backend", ErrInvalidConfig, c.Storage.Backend)
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage dsn is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: invalid storage backend: %q (must be memory, file, sqlite, or postgres)", ErrInvalidConfig, c.Storage.Backend)
	}

	if c.Encryption.CanaryWaitTimeout <= 0 {
		return fmt.Errorf("%w: canary_wait_timeout must be positive", ErrInvalidConfig)
	}
	if c.Encryption.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("%w: at least one provider must be configured", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Providers))
	active := 0
	for _, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate provider name %q", ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = true
		active += p.ActiveKeys()
	}

	switch {
	case active == 0:
		return fmt.Errorf("%w: %w", ErrInvalidConfig, mapper.ErrNoActiveKey)
	case active > 1:
		return fmt.Errorf("%w: %w", ErrInvalidConfig, mapper.ErrMultipleActiveKeys)
	}
	return nil
}

// Keys returns every declared key with the provider it belongs to.
func (c *Config) Keys() []DeclaredKey {
	var keys []DeclaredKey
	for _, p := range c.Providers {
		for _, k := range p.Keys {
			keys = append(keys, DeclaredKey{Provider: p.Identity(), Type: p.Type, Metadata: k})
		}
	}
	return keys
}

// DeclaredKey is one configured key.
type DeclaredKey struct {
	Provider string             `json:"provider"`
	Type     types.ProviderType `json:"type"`
	Metadata types.KeyMetadata  `json:"key"`
}
