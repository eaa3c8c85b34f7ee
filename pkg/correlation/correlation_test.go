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

package correlation

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestWithCorrelationID(t *testing.T) {
	tests := []struct {
		name          string
		ctx           context.Context
		correlationID string
		want          string
	}{
		{
			name:          "Add correlation ID to context",
			ctx:           context.Background(),
			correlationID: "test-correlation-id",
			want:          "test-correlation-id",
		},
		{
			name:          "Add correlation ID to nil context",
			ctx:           nil,
			correlationID: "test-correlation-id-2",
			want:          "test-correlation-id-2",
		},
		{
			name:          "Empty correlation ID is ignored",
			ctx:           context.Background(),
			correlationID: "",
			want:          "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithCorrelationID(tt.ctx, tt.correlationID)
			if ctx == nil {
				t.Fatal("WithCorrelationID returned nil context")
			}
			if got := GetCorrelationID(ctx); got != tt.want {
				t.Errorf("GetCorrelationID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCorrelationID_Missing(t *testing.T) {
	if got := GetCorrelationID(context.Background()); got != "" {
		t.Errorf("GetCorrelationID() = %q, want empty", got)
	}
	//nolint:staticcheck // nil context is tolerated
	if got := GetCorrelationID(nil); got != "" {
		t.Errorf("GetCorrelationID(nil) = %q, want empty", got)
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Fatal("NewID returned duplicate IDs")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("NewID() = %q is not a UUID: %v", a, err)
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" || GetCorrelationID(ctx) != id {
		t.Fatalf("Ensure() did not attach id: %q", id)
	}

	again, id2 := Ensure(ctx, NewID())
	if id2 != id || again != ctx {
		t.Error("Ensure() should keep an existing id")
	}
}

func TestEnsure_Inherited(t *testing.T) {
	parent := NewID()
	ctx, id := Ensure(context.Background(), "", "not-a-uuid", parent)
	if id != parent || GetCorrelationID(ctx) != parent {
		t.Errorf("Ensure() = %q, want inherited %q", id, parent)
	}
}
