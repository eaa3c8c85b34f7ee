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

package vaultkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keybox/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keybox/pkg/metrics"
	"github.com/jeremyhahn/go-keybox/pkg/passkey"
	"github.com/jeremyhahn/go-keybox/pkg/ratelimit"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// Status is the enrollment state of a profile.
type Status string

const (
	StatusNotEnrolled Status = "NOT_ENROLLED"
	StatusEnrolled    Status = "ENROLLED"
)

// DefaultCeremonyMaxAge bounds how old a passkey signal may be.
const DefaultCeremonyMaxAge = 2 * time.Minute

// Manager drives enrollment and unlock for profiles in a ProfileKeyStore.
type Manager struct {
	store   *ProfileKeyStore
	logger  logger.Logger
	now     func() time.Time
	maxAge  time.Duration
	limiter *ratelimit.Limiter
	rng     rand.Resolver
	limits  usageLimits
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the clock used for signal age checks and record timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCeremonyMaxAge sets the maximum signal age. Zero disables the check.
func WithCeremonyMaxAge(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.maxAge = d
	}
}

// WithLimiter throttles failed Unlock attempts per profile. A successful
// unlock clears the profile's budget.
func WithLimiter(l *ratelimit.Limiter) ManagerOption {
	return func(m *Manager) {
		m.limiter = l
	}
}

// WithRand sets the entropy source for key and nonce generation.
func WithRand(rng rand.Resolver) ManagerOption {
	return func(m *Manager) {
		if rng != nil {
			m.rng = rng
		}
	}
}

// WithUsageLimits caps the encryptions and plaintext bytes each returned
// MasterKey accepts. Zero selects the NIST SP 800-38D defaults.
func WithUsageLimits(invocations, bytes int64) ManagerOption {
	return func(m *Manager) {
		m.limits = usageLimits{invocations: invocations, bytes: bytes}
	}
}

// NewManager returns a Manager over store.
func NewManager(store *ProfileKeyStore, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("vaultkey: store cannot be nil")
	}
	m := &Manager{
		store:  store,
		logger: logger.NewNop(),
		now:    time.Now,
		maxAge: DefaultCeremonyMaxAge,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		rng, err := rand.NewResolver(rand.ModeSoftware)
		if err != nil {
			return nil, err
		}
		m.rng = rng
	}
	return m, nil
}

// Status reports whether profileID has both a wrapped record and an unwrap
// key.
func (m *Manager) Status(ctx context.Context, profileID string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	recordKey, unwrapKey, unlock, err := m.store.lockProfile(profileID)
	if err != nil {
		return "", err
	}
	defer unlock()

	for _, key := range []string{recordKey, unwrapKey} {
		ok, err := m.store.backend.Exists(key)
		if err != nil {
			return "", vaulterr.StorageUnavailable(vaulterr.OpStore, err)
		}
		if !ok {
			return StatusNotEnrolled, nil
		}
	}
	return StatusEnrolled, nil
}

// Enroll creates a fresh master key and unwrap key for profileID, replacing
// any previous enrollment. signal must come from a ceremony for profileID.
// Both slots are written in one batch while their locks are held.
func (m *Manager) Enroll(ctx context.Context, profileID string, signal passkey.Signal) (_ *MasterKey, err error) {
	done := metrics.Track(metrics.OpEnroll, "")
	defer func() { done(err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := signal.Validate(profileID, m.maxAge, m.now()); err != nil {
		return nil, vaulterr.New(vaulterr.OpEnroll, err)
	}
	log := m.logger.With(logger.Profile(profileID), logger.Op(vaulterr.OpEnroll))

	raw, err := m.rng.Rand(KeySize)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpEnroll, fmt.Errorf("generate master key: %w", err))
	}
	defer zero(raw)

	unwrapKey, err := NewUnwrapKey(m.rng)
	if err != nil {
		return nil, err
	}
	defer unwrapKey.Destroy()

	record, err := wrapAt(raw, unwrapKey, m.rng, m.now())
	if err != nil {
		return nil, err
	}
	recordData, err := json.Marshal(record)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpEnroll, err)
	}
	keyData, _ := unwrapKey.MarshalBinary()
	defer zero(keyData)

	mk, err := newMasterKey(raw, m.rng, m.limits)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpEnroll, err)
	}

	recordKey, unwrapPath, unlock, err := m.store.lockProfile(profileID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	atomic, err := storage.Apply(m.store.backend, []storage.Op{
		storage.PutOp(recordKey, recordData),
		storage.PutOp(unwrapPath, keyData),
	})
	if err != nil {
		log.ErrorContext(ctx, "enrollment failed", logger.Error(err))
		return nil, vaulterr.StorageUnavailable(vaulterr.OpEnroll, err)
	}
	if !atomic {
		log.DebugContext(ctx, "enrollment written without a transaction")
	}

	log.InfoContext(ctx, "profile enrolled")
	return mk, nil
}

// Unlock verifies that signal was issued for profileID, loads the profile's
// record and unwrap key and returns the master key. A record or unwrap key
// that cannot be decoded fails the same way as a wrong key.
func (m *Manager) Unlock(ctx context.Context, profileID string, signal passkey.Signal) (_ *MasterKey, err error) {
	done := metrics.Track(metrics.OpUnlock, "")
	defer func() { done(err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := signal.Validate(profileID, m.maxAge, m.now()); err != nil {
		return nil, vaulterr.New(vaulterr.OpUnlock, err)
	}
	log := m.logger.With(logger.Profile(profileID), logger.Op(vaulterr.OpUnlock))

	if !m.limiter.Allow(profileID) {
		metrics.RecordRateLimited(metrics.OpUnlock)
		log.WarnContext(ctx, "unlock rate limited")
		return nil, vaulterr.New(vaulterr.OpUnlock, vaulterr.ErrRateLimited)
	}

	recordKey, unwrapPath, unlock, err := m.store.lockProfile(profileID)
	if err != nil {
		return nil, err
	}
	recordData, haveRecord, err := m.store.get(recordKey)
	if err != nil {
		unlock()
		return nil, err
	}
	keyData, haveKey, err := m.store.get(unwrapPath)
	unlock()
	if err != nil {
		return nil, err
	}
	if !haveRecord || !haveKey {
		return nil, vaulterr.New(vaulterr.OpUnlock, vaulterr.ErrNotEnrolled)
	}

	mk, err := m.open(recordData, keyData)
	if err != nil {
		log.WarnContext(ctx, "unlock failed", logger.Error(err))
		return nil, vaulterr.Authentication(vaulterr.OpUnlock)
	}
	m.limiter.Reset(profileID)
	log.InfoContext(ctx, "profile unlocked")
	return mk, nil
}

// open decodes both slots and unwraps the master key. keyData is zeroed.
func (m *Manager) open(recordData, keyData []byte) (*MasterKey, error) {
	defer zero(keyData)
	record, _, err := decodeRecord(recordData)
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	unwrapKey, _, err := decodeUnwrapKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("decode unwrap key: %w", err)
	}
	defer unwrapKey.Destroy()
	return unwrap(record, unwrapKey, m.rng, m.limits)
}
