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

package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}

	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}

	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordOperation(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	OperationDuration.Reset()

	RecordOperation(OpEncrypt, "memory", StatusSuccess, 0.5)
	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpEncrypt, "memory", StatusSuccess)); got != 1 {
		t.Errorf("Expected 1 operation recorded, got %v", got)
	}
	if count := testutil.CollectAndCount(OperationDuration); count != 1 {
		t.Errorf("Expected 1 histogram series, got %d", count)
	}
}

func TestRecordOperationWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()
	OperationsTotal.Reset()

	RecordOperation(OpDecrypt, "memory", StatusSuccess, 0.1)
	RecordKeyDerivation()
	if count := testutil.CollectAndCount(OperationsTotal); count != 0 {
		t.Errorf("Expected no operations when disabled, got %d", count)
	}
}

func TestTrack(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	ErrorsTotal.Reset()

	Track(OpUnlock, "bolt")(nil)
	Track(OpUnlock, "bolt")(vaulterr.Authentication(vaulterr.OpUnwrap))

	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpUnlock, "bolt", StatusSuccess)); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpUnlock, "bolt", StatusError)); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues(OpUnlock, "bolt", "authentication")); got != 1 {
		t.Errorf("authentication errors = %v, want 1", got)
	}
}

func TestRecordRestoreItems(t *testing.T) {
	Enable()
	RestoreItemsTotal.Reset()

	RecordRestoreItems("merge", ResultUpserted, 3)
	RecordRestoreItems("merge", ResultSkipped, 0)

	if got := testutil.ToFloat64(RestoreItemsTotal.WithLabelValues("merge", ResultUpserted)); got != 3 {
		t.Errorf("upserted = %v, want 3", got)
	}
	if count := testutil.CollectAndCount(RestoreItemsTotal); count != 1 {
		t.Errorf("zero additions should not create a series, got %d", count)
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{vaulterr.Format(vaulterr.OpDecrypt, "bad"), "format"},
		{vaulterr.StorageUnavailable(vaulterr.OpStore, errors.New("x")), "storage_unavailable"},
		{vaulterr.New(vaulterr.OpUnlock, vaulterr.ErrNotEnrolled), "not_enrolled"},
		{vaulterr.New(vaulterr.OpImport, vaulterr.ErrProfileMismatch), "profile_mismatch"},
		{vaulterr.New(vaulterr.OpUnlock, vaulterr.ErrRateLimited), "rate_limited"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := ErrorType(tt.err); got != tt.want {
			t.Errorf("ErrorType(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	Enable()
	RecordRateLimited(OpUnlock)

	path := filepath.Join(t.TempDir(), "keybox.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, name := range []string{"keybox_rate_limited_total", "keybox_goroutines", "keybox_process_uptime_seconds"} {
		if !strings.Contains(out, name) {
			t.Errorf("textfile missing %s", name)
		}
	}
}
