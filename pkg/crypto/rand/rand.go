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

// Package rand provides the random number source used for salts, nonces and
// key material.
//
// Applications create a Resolver at startup and share it. The default
// software resolver reads from the operating system CSPRNG via crypto/rand.
// Tests may inject a deterministic or failing io.Reader with FromReader.
//
//	rng, _ := rand.NewResolver(rand.ModeAuto)
//	salt, _ := rng.Rand(16)
//
// All Resolver implementations are safe for concurrent use.
package rand

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Mode specifies which RNG source to use.
type Mode string

const (
	// ModeAuto selects the best available source, falling back to
	// FallbackMode on failure when one is configured.
	ModeAuto Mode = "auto"

	// ModeSoftware uses crypto/rand (stdlib secure random)
	ModeSoftware Mode = "software"
)

// ErrShortRead is returned when a source returns fewer bytes than requested.
var ErrShortRead = errors.New("rand: short read from source")

// Config contains RNG configuration.
type Config struct {
	// Mode specifies the primary RNG source to use.
	// Defaults to ModeAuto if not specified.
	Mode Mode

	// FallbackMode specifies the RNG source to use if primary mode fails.
	// If not specified, failures are returned as errors.
	FallbackMode Mode
}

// Source represents a random number generator.
type Source interface {
	// Rand returns n random bytes.
	Rand(n int) ([]byte, error)

	// Available returns true if this RNG source is available and ready.
	Available() bool

	// Close closes the RNG and releases any resources.
	Close() error
}

// Resolver provides the main interface for generating random numbers.
//
// Resolver implements io.Reader so it can be handed to any standard library
// function that expects a randomness source.
type Resolver interface {
	// Rand returns n random bytes from the configured RNG source.
	Rand(n int) ([]byte, error)

	// Read implements io.Reader.
	Read(p []byte) (n int, err error)

	// Source returns the underlying RNG Source being used.
	Source() Source

	// Available returns true if at least one RNG source is available.
	Available() bool

	// Close closes the resolver and releases any resources.
	Close() error
}

// NewResolver creates a new RNG resolver with the given configuration.
// config may be nil, a Mode or a *Config. If config is nil or empty, auto
// mode is used.
func NewResolver(config interface{}) (Resolver, error) {
	cfg := normalizeConfig(config)
	return newResolver(cfg)
}

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeSoftware:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown RNG mode: %s", s)
	}
}

// normalizeConfig converts various config types to *Config.
func normalizeConfig(config interface{}) *Config {
	if config == nil {
		return &Config{Mode: ModeAuto}
	}

	switch v := config.(type) {
	case Mode:
		return &Config{Mode: v}
	case *Config:
		if v == nil {
			return &Config{Mode: ModeAuto}
		}
		cfg := *v
		if cfg.Mode == "" {
			cfg.Mode = ModeAuto
		}
		return &cfg
	default:
		return &Config{Mode: ModeAuto}
	}
}

func newResolver(cfg *Config) (Resolver, error) {
	switch cfg.Mode {
	case ModeAuto:
		return newAutoResolver(cfg)
	case ModeSoftware:
		return newSoftwareResolver()
	default:
		return nil, fmt.Errorf("unknown RNG mode: %s", cfg.Mode)
	}
}

// SoftwareResolver uses crypto/rand from the Go standard library.
type SoftwareResolver struct{}

var _ Resolver = (*SoftwareResolver)(nil)

func newSoftwareResolver() (Resolver, error) {
	return &SoftwareResolver{}, nil
}

func (s *SoftwareResolver) Rand(n int) ([]byte, error) {
	return readFull(rand.Reader, n)
}

// Read implements io.Reader.
func (s *SoftwareResolver) Read(p []byte) (n int, err error) {
	return rand.Read(p)
}

func (s *SoftwareResolver) Source() Source {
	return &readerSource{r: rand.Reader}
}

func (s *SoftwareResolver) Available() bool {
	return true // crypto/rand always available
}

func (s *SoftwareResolver) Close() error {
	return nil
}

// ReaderResolver adapts an arbitrary io.Reader. It exists so tests can
// supply fixed or failing entropy.
type ReaderResolver struct {
	src *readerSource
}

var _ Resolver = (*ReaderResolver)(nil)

// FromReader returns a Resolver that reads from r.
func FromReader(r io.Reader) *ReaderResolver {
	return &ReaderResolver{src: &readerSource{r: r}}
}

func (rr *ReaderResolver) Rand(n int) ([]byte, error) {
	return rr.src.Rand(n)
}

// Read implements io.Reader.
func (rr *ReaderResolver) Read(p []byte) (int, error) {
	return io.ReadFull(rr.src.r, p)
}

func (rr *ReaderResolver) Source() Source {
	return rr.src
}

func (rr *ReaderResolver) Available() bool {
	return rr.src.Available()
}

func (rr *ReaderResolver) Close() error {
	return rr.src.Close()
}

type readerSource struct {
	r io.Reader
}

func (s *readerSource) Rand(n int) ([]byte, error) {
	return readFull(s.r, n)
}

func (s *readerSource) Available() bool {
	return s.r != nil
}

func (s *readerSource) Close() error {
	return nil
}

func readFull(r io.Reader, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("rand: negative length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrShortRead
		}
		return nil, fmt.Errorf("rand: %w", err)
	}
	return buf, nil
}
