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

package health

import (
	"bytes"
	"context"
	"errors"

	"github.com/jeremyhahn/go-keybox/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
)

// ProbeKey is written and removed by StorageCheck.
const ProbeKey = "health/probe"

// StorageCheck round-trips a probe value through backend. A backend that
// cannot apply batches atomically is reported as degraded.
func StorageCheck(backend storage.Backend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		result := CheckResult{Name: "storage"}
		probe := []byte("ok")
		if err := backend.Put(ProbeKey, probe, nil); err != nil {
			return unhealthy(result, "write failed", err)
		}
		got, err := backend.Get(ProbeKey)
		if err != nil {
			return unhealthy(result, "read failed", err)
		}
		if !bytes.Equal(got, probe) {
			return unhealthy(result, "read back a different value", nil)
		}
		if err := backend.Delete(ProbeKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return unhealthy(result, "delete failed", err)
		}

		if _, ok := backend.(storage.Transactional); !ok {
			result.Status = StatusDegraded
			result.Message = "writes are not transactional; replace imports are applied sequentially"
			return result
		}
		result.Status = StatusHealthy
		result.Message = "read/write ok"
		return result
	}
}

// RNGCheck draws a few bytes from rng.
func RNGCheck(rng rand.Resolver) CheckFunc {
	return func(ctx context.Context) CheckResult {
		result := CheckResult{Name: "rng"}
		if !rng.Available() {
			return unhealthy(result, "random source unavailable", nil)
		}
		b, err := rng.Rand(32)
		if err != nil {
			return unhealthy(result, "read failed", err)
		}
		if bytes.Equal(b, make([]byte, len(b))) {
			return unhealthy(result, "random source returned zeros", nil)
		}
		result.Status = StatusHealthy
		result.Message = "random source ok"
		return result
	}
}

func unhealthy(r CheckResult, msg string, err error) CheckResult {
	r.Status = StatusUnhealthy
	r.Message = msg
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
