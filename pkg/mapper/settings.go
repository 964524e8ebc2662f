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

package mapper

import (
	"errors"
	"time"
)

var (
	// ErrNoActiveKey is returned when no configured key is flagged active.
	ErrNoActiveKey = errors.New("No active key was found.")

	// ErrMultipleActiveKeys is returned when more than one configured key
	// is flagged active.
	ErrMultipleActiveKeys = errors.New("More than one active key was found.")

	// ErrCanaryWaitTimeout is returned when the active key canary was not
	// created by another process within the wait timeout.
	ErrCanaryWaitTimeout = errors.New("Timed out waiting for active key canary to be created.")
)

const (
	// DefaultCanaryWaitTimeout bounds the wait for another process to
	// create the active key canary.
	DefaultCanaryWaitTimeout = 600 * time.Second

	// DefaultPollInterval is how often the canary store is polled while
	// waiting.
	DefaultPollInterval = time.Second
)

// Settings controls how the active key canary is obtained.
type Settings struct {
	// KeyCreationEnabled lets this process create the active key canary.
	// Processes with creation disabled wait for one that has it enabled.
	KeyCreationEnabled bool `yaml:"key_creation_enabled" json:"key_creation_enabled"`

	// CanaryWaitTimeout bounds the wait when creation is disabled.
	CanaryWaitTimeout time.Duration `yaml:"canary_wait_timeout" json:"canary_wait_timeout"`

	// PollInterval is the delay between canary store polls.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// DefaultSettings returns settings for a single-process deployment.
func DefaultSettings() Settings {
	return Settings{
		KeyCreationEnabled: true,
		CanaryWaitTimeout:  DefaultCanaryWaitTimeout,
		PollInterval:       DefaultPollInterval,
	}
}

func (s Settings) withDefaults() Settings {
	if s.CanaryWaitTimeout <= 0 {
		s.CanaryWaitTimeout = DefaultCanaryWaitTimeout
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	return s
}
