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

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jeremyhahn/go-keybox/internal/config"
	"github.com/jeremyhahn/go-keybox/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keybox/pkg/backup"
	"github.com/jeremyhahn/go-keybox/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keybox/pkg/docstore"
	"github.com/jeremyhahn/go-keybox/pkg/metrics"
	"github.com/jeremyhahn/go-keybox/pkg/passkey"
	"github.com/jeremyhahn/go-keybox/pkg/ratelimit"
	"github.com/jeremyhahn/go-keybox/pkg/restore"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/storage/bolt"
	"github.com/jeremyhahn/go-keybox/pkg/storage/file"
	"github.com/jeremyhahn/go-keybox/pkg/vaultkey"
)

// App wires the services a command needs from a Config.
type App struct {
	Config  *config.Config
	Logger  logger.Logger
	Backend storage.Backend
	RNG     rand.Resolver
	Limiter *ratelimit.Limiter
	Keys    *vaultkey.ProfileKeyStore
	Manager *vaultkey.Manager
	Docs    *docstore.Store
	Restore *restore.Service
}

// NewApp opens the configured backend and builds the services. Logs go to
// logOut.
func NewApp(cfg *config.Config, logOut io.Writer) (*App, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	log := logger.NewSlogAdapter(&logger.SlogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: logOut,
	})

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	mode, err := rand.ParseMode(cfg.RNG.Mode)
	if err != nil {
		return nil, err
	}
	fallback, err := rand.ParseMode(cfg.RNG.FallbackMode)
	if err != nil {
		return nil, err
	}
	rng, err := rand.NewResolver(&rand.Config{Mode: mode, FallbackMode: fallback})
	if err != nil {
		return nil, fmt.Errorf("failed to create random source: %w", err)
	}

	backend, err := openBackend(cfg.Storage)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:  cfg,
		Logger:  log.With(logger.Profile(cfg.Profile)),
		Backend: backend,
		RNG:     rng,
		Limiter: ratelimit.New(&ratelimit.Config{
			Enabled:           cfg.Unlock.RateLimit.Enabled,
			AttemptsPerMinute: cfg.Unlock.RateLimit.AttemptsPerMinute,
			Burst:             cfg.Unlock.RateLimit.Burst,
		}),
	}

	if app.Keys, err = vaultkey.NewProfileKeyStore(backend); err != nil {
		_ = app.Close()
		return nil, err
	}
	if app.Manager, err = vaultkey.NewManager(app.Keys,
		vaultkey.WithLogger(log),
		vaultkey.WithRand(rng),
		vaultkey.WithLimiter(app.Limiter),
		vaultkey.WithCeremonyMaxAge(cfg.Unlock.CeremonyMaxAge),
		vaultkey.WithUsageLimits(cfg.Vault.MaxEncryptions, cfg.Vault.MaxEncryptedBytes),
	); err != nil {
		_ = app.Close()
		return nil, err
	}
	if app.Docs, err = docstore.New(backend); err != nil {
		_ = app.Close()
		return nil, err
	}
	codec := backup.NewCodec(backup.WithRand(rng), backup.WithLogger(log))
	if app.Restore, err = restore.NewService(app.Docs,
		restore.WithCodec(codec),
		restore.WithLogger(log),
		restore.WithLimiter(app.Limiter),
		restore.WithMinPassphraseLength(cfg.Backup.MinPassphraseLength),
		restore.WithMinPassphraseEntropy(cfg.Backup.MinPassphraseEntropy),
	); err != nil {
		_ = app.Close()
		return nil, err
	}

	return app, nil
}

// Authenticator returns the passkey authenticator for this host.
func (a *App) Authenticator(in io.Reader, out io.Writer) passkey.Authenticator {
	return &passkey.ConsoleAuthenticator{In: in, Out: out}
}

// Close flushes metrics and releases the backend.
func (a *App) Close() error {
	var errs []error
	if a.Config.Metrics.Enabled && a.Config.Metrics.Textfile != "" {
		metrics.CollectResources()
		if err := metrics.WriteTextfile(a.Config.Metrics.Textfile); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	a.Limiter.Stop()
	if a.RNG != nil {
		if err := a.RNG.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func openBackend(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryBackend(), nil
	case config.BackendFile:
		backend, err := file.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage backend: %w", err)
		}
		return backend, nil
	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		backend, err := bolt.Open(cfg.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage backend: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
