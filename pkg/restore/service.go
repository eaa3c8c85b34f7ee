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

package restore

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	passwordvalidator "github.com/wagslane/go-password-validator"

	"github.com/jeremyhahn/go-keybox/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keybox/pkg/backup"
	"github.com/jeremyhahn/go-keybox/pkg/docstore"
	"github.com/jeremyhahn/go-keybox/pkg/metrics"
	"github.com/jeremyhahn/go-keybox/pkg/ratelimit"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// DefaultMinPassphraseLength is the shortest passphrase accepted on export.
const DefaultMinPassphraseLength = 6

// DocumentStore supplies and consumes a profile's entries.
type DocumentStore interface {
	List(ctx context.Context, profileID string) ([]docstore.Entry, error)
	Commit(ctx context.Context, profileID string, deleteIDs []string, upserts []docstore.Entry) (atomic bool, err error)
	// Replace deletes every entry of profileID as of the moment it runs and
	// then upserts entries.
	Replace(ctx context.Context, profileID string, upserts []docstore.Entry) (deleted int, atomic bool, err error)
}

// Service exports and imports backups for a DocumentStore.
type Service struct {
	store         DocumentStore
	codec         *backup.Codec
	logger        logger.Logger
	limiter       *ratelimit.Limiter
	minPassphrase int
	minEntropy    float64
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCodec sets the backup codec.
func WithCodec(c *backup.Codec) Option {
	return func(s *Service) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLimiter throttles failed Prepare attempts per profile.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithMinPassphraseLength sets the export passphrase policy.
func WithMinPassphraseLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minPassphrase = n
		}
	}
}

// WithMinPassphraseEntropy rejects export passphrases whose estimated
// entropy is below bits. Zero disables the check.
func WithMinPassphraseEntropy(bits float64) Option {
	return func(s *Service) {
		if bits >= 0 {
			s.minEntropy = bits
		}
	}
}

// WithClock sets the clock used for plan timestamps and file names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService returns a Service over store.
func NewService(store DocumentStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("restore: store cannot be nil")
	}
	s := &Service{
		store:         store,
		logger:        logger.NewNop(),
		minPassphrase: DefaultMinPassphraseLength,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.codec == nil {
		s.codec = backup.NewCodec(backup.WithLogger(s.logger), backup.WithClock(s.now))
	}
	return s, nil
}

// Export is the outcome of a successful export.
type Export struct {
	Payload  *backup.EncryptedPayload
	Items    int
	FileName string
}

// Export encrypts every entry of profileID under passphrase.
func (s *Service) Export(ctx context.Context, profileID, passphrase string) (_ *Export, err error) {
	done := metrics.Track(metrics.OpExport, "")
	defer func() { done(err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(passphrase) < s.minPassphrase {
		return nil, vaulterr.InvalidInput(vaulterr.OpExport,
			"passphrase must be at least %d characters", s.minPassphrase)
	}
	if s.minEntropy > 0 {
		if err := passwordvalidator.Validate(passphrase, s.minEntropy); err != nil {
			return nil, vaulterr.InvalidInput(vaulterr.OpExport, "passphrase is not strong enough: %v", err)
		}
	}

	entries, err := s.store.List(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []docstore.Entry{}
	}

	payload, err := s.codec.Encrypt(Snapshot{UserID: profileID, Items: entries}, passphrase)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "backup exported",
		logger.Profile(profileID),
		logger.Int("items", len(entries)))

	return &Export{
		Payload:  payload,
		Items:    len(entries),
		FileName: backup.DefaultFileName(s.now()),
	}, nil
}

// Prepare decrypts req.Archive and stages a Plan. For ModeReplace the
// confirmation is checked before any decryption. Plan.Deletes previews the
// entries a replace would remove; Commit removes whatever exists when it runs.
func (s *Service) Prepare(ctx context.Context, req Request) (_ *Plan, err error) {
	done := metrics.Track(metrics.OpImport, "")
	defer func() { done(err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeMerge
	}
	if mode != ModeMerge && mode != ModeReplace {
		return nil, vaulterr.InvalidInput(vaulterr.OpImport, "unknown restore mode %q", mode)
	}
	if mode == ModeReplace && !req.Confirmed {
		return nil, vaulterr.New(vaulterr.OpImport, vaulterr.ErrConfirmationRequired)
	}
	if req.Passphrase == "" {
		return nil, vaulterr.InvalidInput(vaulterr.OpImport, "passphrase is empty")
	}
	if len(req.Archive) == 0 {
		return nil, vaulterr.InvalidInput(vaulterr.OpImport, "no backup file selected")
	}

	log := s.logger.With(logger.Profile(req.ProfileID), logger.String("mode", string(mode)))

	if !s.limiter.Allow(req.ProfileID) {
		metrics.RecordRateLimited(metrics.OpImport)
		log.WarnContext(ctx, "import rate limited")
		return nil, vaulterr.New(vaulterr.OpImport, vaulterr.ErrRateLimited)
	}

	archive, err := backup.Parse(req.Archive)
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := s.codec.Decrypt(archive, req.Passphrase, &snapshot); err != nil {
		log.WarnContext(ctx, "import rejected", logger.Error(err))
		return nil, err
	}
	if snapshot.UserID != req.ProfileID {
		log.WarnContext(ctx, "import rejected: backup belongs to another profile")
		return nil, vaulterr.New(vaulterr.OpImport, vaulterr.ErrProfileMismatch)
	}

	plan := &Plan{
		ID:        uuid.NewString(),
		ProfileID: req.ProfileID,
		Mode:      mode,
		CreatedAt: s.now().UTC(),
		Total:     len(snapshot.Items),
		confirmed: req.Confirmed,
	}
	for _, item := range snapshot.Items {
		entry, ok := normalize(item, req.ProfileID)
		if !ok {
			plan.Skipped++
			continue
		}
		plan.Upserts = append(plan.Upserts, entry)
	}

	if mode == ModeReplace {
		existing, err := s.store.List(ctx, req.ProfileID)
		if err != nil {
			return nil, err
		}
		for _, e := range existing {
			if id, ok := e.ID(); ok {
				plan.Deletes = append(plan.Deletes, id)
			}
		}
	}

	s.limiter.Reset(req.ProfileID)
	log.DebugContext(ctx, "import staged",
		logger.String("plan_id", plan.ID),
		logger.Int("upserts", len(plan.Upserts)),
		logger.Int("deletes", len(plan.Deletes)),
		logger.Int("skipped", plan.Skipped))
	return plan, nil
}

// Commit applies plan. Replace plans are applied as a single transaction
// when the store supports it. A plan can be committed once; a failed commit
// releases it for a retry.
func (s *Service) Commit(ctx context.Context, plan *Plan) (_ *Result, err error) {
	done := metrics.Track(metrics.OpCommit, "")
	defer func() { done(err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, vaulterr.InvalidInput(vaulterr.OpImport, "plan is nil")
	}
	if plan.Mode == ModeReplace && !plan.confirmed {
		return nil, vaulterr.New(vaulterr.OpImport, vaulterr.ErrConfirmationRequired)
	}
	if plan.Mode == ModeMerge && len(plan.Deletes) > 0 {
		return nil, vaulterr.InvalidInput(vaulterr.OpImport, "merge plan must not delete")
	}

	if !plan.claim() {
		return nil, vaulterr.InvalidInput(vaulterr.OpImport, "plan %s was already committed", plan.ID)
	}
	defer func() {
		if err != nil {
			plan.release()
		}
	}()

	log := s.logger.With(logger.Profile(plan.ProfileID), logger.String("plan_id", plan.ID))

	var (
		deleted int
		atomic  bool
	)
	if plan.Mode == ModeReplace {
		deleted, atomic, err = s.store.Replace(ctx, plan.ProfileID, plan.Upserts)
	} else {
		atomic, err = s.store.Commit(ctx, plan.ProfileID, nil, plan.Upserts)
	}
	if err != nil {
		log.ErrorContext(ctx, "import failed", logger.Error(err))
		return nil, err
	}
	if !atomic && plan.Mode == ModeReplace {
		log.WarnContext(ctx, "replace applied without a transaction; a failure may have left a partial restore")
	}

	result := &Result{
		PlanID:   plan.ID,
		Mode:     plan.Mode,
		Total:    plan.Total,
		Upserted: len(plan.Upserts),
		Skipped:  plan.Skipped,
		Deleted:  deleted,
		Atomic:   atomic,
	}
	metrics.RecordRestoreItems(string(plan.Mode), metrics.ResultUpserted, result.Upserted)
	metrics.RecordRestoreItems(string(plan.Mode), metrics.ResultSkipped, result.Skipped)
	metrics.RecordRestoreItems(string(plan.Mode), metrics.ResultDeleted, result.Deleted)

	log.InfoContext(ctx, "import committed",
		logger.Int("upserted", result.Upserted),
		logger.Int("skipped", result.Skipped),
		logger.Int("deleted", result.Deleted),
		logger.Bool("atomic", atomic))
	return result, nil
}

// Import runs Prepare and Commit.
func (s *Service) Import(ctx context.Context, req Request) (*Result, error) {
	plan, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Commit(ctx, plan)
}
