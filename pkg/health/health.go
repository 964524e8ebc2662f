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

// Package health runs liveness and readiness checks for keycanary.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component works with reduced capacity.
	StatusDegraded Status = "degraded"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs one readiness check. It should return quickly.
type CheckFunc func(ctx context.Context) CheckResult

// Checker follows Kubernetes probe semantics: liveness never depends on
// providers, readiness runs the registered checks, startup fails until
// MarkStarted.
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
	}
}

// RegisterCheck adds or replaces the check called name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkStarted marks initialization as complete.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// Live reports that the process is running.
func (c *Checker) Live(context.Context) CheckResult {
	return CheckResult{Name: "liveness", Status: StatusHealthy, Message: "Service is alive"}
}

// Ready runs every registered check, ordered by name.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()
	sort.Strings(names)

	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		start := time.Now()
		result := checks[name](ctx)
		result.Latency = time.Since(start)
		if result.Name == "" {
			result.Name = name
		}
		results = append(results, result)
	}
	return results
}

// Startup fails until MarkStarted is called.
func (c *Checker) Startup(context.Context) CheckResult {
	c.mu.RLock()
	started := c.started
	startTime := c.startTime
	c.mu.RUnlock()

	if !started {
		return CheckResult{Name: "startup", Status: StatusUnhealthy, Message: "Service initialization not complete"}
	}
	return CheckResult{
		Name:    "startup",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("Service fully initialized (uptime: %s)", time.Since(startTime).Round(time.Second)),
	}
}

// AggregateStatus returns unhealthy if any result is unhealthy, otherwise
// degraded if any is degraded, otherwise healthy.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// KeySource is the part of the key set the key check reads.
type KeySource interface {
	ActiveUUID() uuid.UUID
	Len() int
}

// KeySetCheck is healthy while the key set has an active key.
func KeySetCheck(keys KeySource) CheckFunc {
	return func(context.Context) CheckResult {
		active := keys.ActiveUUID()
		if active == uuid.Nil {
			return CheckResult{Name: "keyset", Status: StatusUnhealthy, Message: "no active encryption key"}
		}
		return CheckResult{
			Name:    "keyset",
			Status:  StatusHealthy,
			Message: fmt.Sprintf("active key %s, %d keys", active, keys.Len()),
		}
	}
}

// CanaryLister is the part of the canary store the store check reads.
type CanaryLister interface {
	FindAll(ctx context.Context) ([]*types.EncryptionKeyCanary, error)
}

// CanaryStoreCheck is degraded while the canary store cannot be read.
// Encryption keeps working from the loaded key set, but a reload would
// fail.
func CanaryStoreCheck(store CanaryLister) CheckFunc {
	return func(ctx context.Context) CheckResult {
		canaries, err := store.FindAll(ctx)
		if err != nil {
			return CheckResult{Name: "canary_store", Status: StatusDegraded, Message: "canary store unavailable", Error: err.Error()}
		}
		return CheckResult{Name: "canary_store", Status: StatusHealthy, Message: fmt.Sprintf("%d canaries", len(canaries))}
	}
}
