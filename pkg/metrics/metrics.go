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

// Package metrics provides Prometheus instrumentation for key mapping and
// the encrypt/decrypt path.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all keycanary metrics
	Namespace = "keycanary"

	// Label names
	LabelOperation  = "operation"
	LabelProvider   = "provider"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
	StatusRetried = "retried"

	// Operation names
	OpEncrypt = "encrypt"
	OpDecrypt = "decrypt"
	OpMatch   = "match"
	OpCreate  = "create_canary"
)

var (
	// OperationsTotal counts encrypt/decrypt operations by provider and outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of encryption operations by type, provider, and status",
		},
		[]string{LabelOperation, LabelProvider, LabelStatus},
	)

	// OperationDuration tracks operation latency including any retry.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of encryption operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation, LabelProvider},
	)

	// ErrorsTotal counts failures by operation, provider, and error type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, provider, and error type",
		},
		[]string{LabelOperation, LabelProvider, LabelErrorType},
	)

	// ReconnectsTotal counts recovery cycles by provider.
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconnects_total",
			Help:      "Total number of provider reconnect and reload cycles",
		},
		[]string{LabelProvider},
	)

	// ReloadsTotal counts key set reloads by outcome.
	ReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reloads_total",
			Help:      "Total number of key set reloads by status",
		},
		[]string{LabelStatus},
	)

	// KeysTotal is the number of keys in the current key set.
	KeysTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "keys_total",
			Help:      "Number of identified encryption keys",
		},
	)

	// CanariesCreatedTotal counts canaries written for a new active key.
	CanariesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "canaries_created_total",
			Help:      "Total number of canaries created for the active key",
		},
	)

	// CanaryWaitSeconds tracks how long startup waited for another process
	// to publish the active key canary.
	CanaryWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "canary_wait_seconds",
			Help:      "Time spent waiting for the active key canary",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordOperation records an encrypt or decrypt with its duration and status.
//
// Example:
//
//	start := time.Now()
//	value, err := svc.Encrypt(ctx, plaintext)
//	metrics.RecordOperation(metrics.OpEncrypt, "hsm/primary", metrics.Status(err), time.Since(start).Seconds())
func RecordOperation(operation, provider, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, provider, status).Inc()
	OperationDuration.WithLabelValues(operation, provider).Observe(duration)
}

// RecordError records a failed operation. errorType should be a short
// identifier such as "key_not_found" or "incorrect_key".
func RecordError(operation, provider, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, provider, errorType).Inc()
}

// RecordReconnect records one reconnect and reload cycle.
func RecordReconnect(provider string) {
	if !enabled.Load() {
		return
	}
	ReconnectsTotal.WithLabelValues(provider).Inc()
}

// RecordReload records a key set reload.
func RecordReload(status string) {
	if !enabled.Load() {
		return
	}
	ReloadsTotal.WithLabelValues(status).Inc()
}

// SetKeysTotal sets the number of identified keys.
func SetKeysTotal(count float64) {
	if !enabled.Load() {
		return
	}
	KeysTotal.Set(count)
}

// RecordCanaryCreated records a newly written active key canary.
func RecordCanaryCreated() {
	if !enabled.Load() {
		return
	}
	CanariesCreatedTotal.Inc()
}

// ObserveCanaryWait records the time spent waiting for the active canary.
func ObserveCanaryWait(seconds float64) {
	if !enabled.Load() {
		return
	}
	CanaryWaitSeconds.Observe(seconds)
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// Status maps an error to StatusSuccess or StatusError.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
