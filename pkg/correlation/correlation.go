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

// Package correlation carries a per-operation correlation ID through a
// context so that log lines from the codec, the key manager and the restore
// service can be tied to one user action.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// WithCorrelationID returns ctx carrying id. An empty id leaves ctx as is.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// GetCorrelationID returns the ID carried by ctx, or "".
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// NewID generates a new UUID v4 correlation ID.
func NewID() string {
	return uuid.NewString()
}

// Ensure returns ctx carrying a correlation ID. An ID already on ctx wins,
// then inherited, then a fresh one.
func Ensure(ctx context.Context, inherited ...string) (context.Context, string) {
	if id := GetCorrelationID(ctx); id != "" {
		return ctx, id
	}
	for _, id := range inherited {
		if _, err := uuid.Parse(id); err == nil {
			return WithCorrelationID(ctx, id), id
		}
	}
	id := NewID()
	return WithCorrelationID(ctx, id), id
}
