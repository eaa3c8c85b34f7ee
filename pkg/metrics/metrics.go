// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keybox.
//
// go-keybox is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for vault key and
// backup operations. A short-lived CLI process cannot be scraped, so the
// registry is written to a node_exporter textfile with WriteTextfile.
package metrics

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all keybox metrics
	Namespace = "keybox"

	// Label names
	LabelOperation = "operation"
	LabelBackend   = "backend"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelResult    = "result"
	LabelMode      = "mode"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpEncrypt = "encrypt"
	OpDecrypt = "decrypt"
	OpWrap    = "wrap"
	OpUnwrap  = "unwrap"
	OpEnroll  = "enroll"
	OpUnlock  = "unlock"
	OpExport  = "export"
	OpImport  = "import"
	OpCommit  = "commit"

	// Restore item results
	ResultUpserted = "upserted"
	ResultSkipped  = "skipped"
	ResultDeleted  = "deleted"
)

var processStart = time.Now()

var (
	// OperationsTotal tracks the total number of operations by type, backend, and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of keybox operations by type, backend, and status",
		},
		[]string{LabelOperation, LabelBackend, LabelStatus},
	)

	// OperationDuration tracks the duration of operations in seconds.
	// PBKDF2 at 310k iterations dominates encrypt/decrypt, hence the upper buckets.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of keybox operations in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation, LabelBackend},
	)

	// ErrorsTotal tracks the total number of errors by operation, backend, and error type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, backend, and error type",
		},
		[]string{LabelOperation, LabelBackend, LabelErrorType},
	)

	// KeyDerivationsTotal counts passphrase key derivations.
	KeyDerivationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "key_derivations_total",
			Help:      "Total number of passphrase key derivations",
		},
	)

	// RestoreItemsTotal counts restored entries by mode and result.
	RestoreItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "restore_items_total",
			Help:      "Total number of restored entries by mode and result",
		},
		[]string{LabelMode, LabelResult},
	)

	// RateLimitedTotal counts attempts rejected by the limiter.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of attempts rejected by the rate limiter",
		},
		[]string{LabelOperation},
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

	// ProcessUptime tracks seconds since the process started.
	ProcessUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "process_uptime_seconds",
			Help:      "Seconds since the process started",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordOperation records an operation with its duration and status.
func RecordOperation(operation, backend, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, backend, status).Inc()
	OperationDuration.WithLabelValues(operation, backend).Observe(duration)
}

// RecordError records an error event with context about where it occurred.
func RecordError(operation, backend, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, backend, errorType).Inc()
}

// Track starts timing operation and returns a function that records the
// outcome. Typical use:
//
//	done := metrics.Track(metrics.OpUnlock, "bolt")
//	defer func() { done(err) }()
func Track(operation, backend string) func(err error) {
	start := time.Now()
	return func(err error) {
		status := StatusSuccess
		if err != nil {
			status = StatusError
			RecordError(operation, backend, ErrorType(err))
		}
		RecordOperation(operation, backend, status, time.Since(start).Seconds())
	}
}

// RecordKeyDerivation increments the key derivation counter.
func RecordKeyDerivation() {
	if !enabled.Load() {
		return
	}
	KeyDerivationsTotal.Inc()
}

// RecordRestoreItems adds n items with the given result for mode.
func RecordRestoreItems(mode, result string, n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	RestoreItemsTotal.WithLabelValues(mode, result).Add(float64(n))
}

// RecordRateLimited increments the rate limited counter for operation.
func RecordRateLimited(operation string) {
	if !enabled.Load() {
		return
	}
	RateLimitedTotal.WithLabelValues(operation).Inc()
}

// ErrorType maps err to a low-cardinality label value.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, vaulterr.ErrFormat):
		return "format"
	case errors.Is(err, vaulterr.ErrAuthentication):
		return "authentication"
	case errors.Is(err, vaulterr.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, vaulterr.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, vaulterr.ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, vaulterr.ErrCeremonyRequired):
		return "ceremony_required"
	case errors.Is(err, vaulterr.ErrConfirmationRequired):
		return "confirmation_required"
	case errors.Is(err, vaulterr.ErrProfileMismatch):
		return "profile_mismatch"
	case errors.Is(err, vaulterr.ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}

// CollectResources updates the goroutine, memory and uptime gauges.
func CollectResources() {
	if !enabled.Load() {
		return
	}

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	MemoryAllocBytes.Set(float64(memStats.Alloc))

	ProcessUptime.Set(time.Since(processStart).Seconds())
}

// WriteTextfile collects resource gauges and writes the default registry in
// the Prometheus text format to path, for the node_exporter textfile
// collector.
func WriteTextfile(path string) error {
	CollectResources()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
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
