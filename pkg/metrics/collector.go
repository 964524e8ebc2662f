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

package metrics

import (
	"context"
	"runtime"
	"time"
)

// ResourceCollector periodically updates process gauges while the server
// runs.
type ResourceCollector struct {
	interval time.Duration
	started  time.Time
}

// StartResourceCollector collects every interval until ctx is cancelled.
//
// Example:
//
//	metrics.StartResourceCollector(ctx, 30*time.Second)
func StartResourceCollector(ctx context.Context, interval time.Duration) *ResourceCollector {
	rc := &ResourceCollector{interval: interval, started: time.Now()}
	go rc.run(ctx)
	return rc
}

func (rc *ResourceCollector) run(ctx context.Context) {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.collect()
		}
	}
}

func (rc *ResourceCollector) collect() {
	if !IsEnabled() {
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	Goroutines.Set(float64(runtime.NumGoroutine()))
	MemoryAllocBytes.Set(float64(memStats.Alloc))
	ServerUptime.Set(time.Since(rc.started).Seconds())
}
