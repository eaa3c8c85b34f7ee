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

package rand

import (
	"errors"
)

// chain draws from its first resolver and moves to the next one only when
// a draw fails. Every failure is reported if all of them fail.
type chain []Resolver

var _ Resolver = chain(nil)

// WithFallback returns a Resolver that reads from primary and retries a
// failed draw on fallback. A nil fallback returns primary unchanged.
func WithFallback(primary, fallback Resolver) Resolver {
	if fallback == nil {
		return primary
	}
	return chain{primary, fallback}
}

func newAutoResolver(cfg *Config) (Resolver, error) {
	primary, err := newSoftwareResolver()
	if err != nil {
		return nil, err
	}
	if cfg.FallbackMode == "" || cfg.FallbackMode == ModeAuto {
		return primary, nil
	}
	fallback, err := newResolver(&Config{Mode: cfg.FallbackMode})
	if err != nil {
		return nil, err
	}
	return WithFallback(primary, fallback), nil
}

func (c chain) Rand(n int) ([]byte, error) {
	var errs []error
	for _, r := range c {
		b, err := r.Rand(n)
		if err == nil {
			return b, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// Read implements io.Reader.
func (c chain) Read(p []byte) (int, error) {
	b, err := c.Rand(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, b), nil
}

// Source reports the primary source.
func (c chain) Source() Source {
	return c[0].Source()
}

func (c chain) Available() bool {
	for _, r := range c {
		if r.Available() {
			return true
		}
	}
	return false
}

func (c chain) Close() error {
	var errs []error
	for _, r := range c {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
