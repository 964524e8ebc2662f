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

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-keycanary/internal/app"
	"github.com/jeremyhahn/go-keycanary/internal/config"
	"github.com/jeremyhahn/go-keycanary/pkg/logging"
)

// DefaultConfigFile is read when --config and KEYCANARY_CONFIG are unset.
const DefaultConfigFile = "/etc/keycanary/keycanary.yaml"

// Options holds global CLI flags
type Options struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose forces debug logging
	Verbose bool
}

// NewOptions creates Options with default values
func NewOptions() *Options {
	return &Options{OutputFormat: string(OutputFormatText)}
}

// configPath resolves the configuration file location.
func (o *Options) configPath() string {
	if o.ConfigFile != "" {
		return o.ConfigFile
	}
	if env := os.Getenv("KEYCANARY_CONFIG"); env != "" {
		return env
	}
	return DefaultConfigFile
}

// loadConfig reads the configuration, applying --verbose.
func (o *Options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath())
	if err != nil {
		return nil, err
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// logger builds the CLI logger. Logs go to stderr so stdout stays
// parseable.
func (o *Options) logger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})
}

// openApp loads configuration and maps keys.
func (o *Options) openApp(ctx context.Context) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := o.logger(cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption keys: %w", err)
	}
	return a, nil
}
