package storywatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/hazyhaar/storywatch/storywatch/internal/credential"
	"github.com/hazyhaar/storywatch/storywatch/internal/deliver"
	"github.com/hazyhaar/storywatch/storywatch/internal/fetch"
	"github.com/hazyhaar/storywatch/storywatch/internal/ledger"
	"github.com/hazyhaar/storywatch/storywatch/internal/store"
	"github.com/hazyhaar/storywatch/storywatch/internal/sweep"
)

// LockName is the instance lock file inside the download directory.
const LockName = ".storywatch.lock"

// App is a fully wired storywatch process.
type App struct {
	cfg     *Config
	store   store.Store
	creds   *credential.Store
	fetcher *fetch.Client
	monitor *Monitor
	sweeper *sweep.Sweeper
	stats   *Stats
	lock    *flock.Flock
	logger  *slog.Logger
}

// AppOption configures Open.
type AppOption func(*appOptions)

type appOptions struct {
	mediaURLValidator func(string) error
}

// WithMediaURLValidator replaces the SSRF check applied to media URLs.
func WithMediaURLValidator(fn func(string) error) AppOption {
	return func(o *appOptions) { o.mediaURLValidator = fn }
}

// Open validates cfg and wires every component. Start-up order matters: the
// stored session is loaded before anything touches the network, so a missing
// session fails with ErrNotProvisioned and nothing else.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...AppOption) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o appOptions
	for _, fn := range opts {
		fn(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, stats: NewStats(), logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.lock, err = acquireLock(cfg.DownloadDir); err != nil {
		return nil, err
	}
	if a.store, err = store.Open(ctx, cfg.StorageURI, cfg.DBName); err != nil {
		return nil, fmt.Errorf("storywatch: open storage: %w", err)
	}
	if err := a.stats.Restore(ctx, a.store); err != nil {
		logger.Warn("storywatch: restore stats", "error", err)
	}

	if a.creds, err = openCredentials(a.store, cfg, logger); err != nil {
		return nil, err
	}
	sessionPath, err := a.creds.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("storywatch: session %q: %w", a.creds.Identity(), err)
	}

	a.fetcher, err = fetch.New(fetch.Config{
		BaseURL:      cfg.FetchBaseURL,
		Transport:    cfg.FetchTransport,
		BrowserURL:   cfg.BrowserURL,
		DownloadDir:  cfg.DownloadDir,
		URLValidator: o.mediaURLValidator,
		Logger:       logger,
	}, sessionPath)
	if err != nil {
		return nil, err
	}

	sender, err := deliver.New(deliver.Config{
		Token:       cfg.BotToken,
		ChatID:      cfg.ChatID,
		APIEndpoint: cfg.APIEndpoint,
		Timeout:     cfg.SendTimeout,
		Logger:      logger,
	}, a.stats)
	if err != nil {
		return nil, err
	}

	a.monitor = NewMonitor(MonitorConfig{Targets: cfg.Usernames, Interval: cfg.CheckInterval},
		a.fetcher, sender, ledger.New(a.store, logger), a.stats,
		WithSessionSaver(a.creds),
		WithStatsBackend(a.store),
		WithMonitorLogger(logger),
	)
	a.sweeper = sweep.New(cfg.DownloadDir, cfg.Retention, cfg.SweepInterval, logger)
	return a, nil
}

func openCredentials(st store.Store, cfg *Config, logger *slog.Logger) (*credential.Store, error) {
	opts := []credential.Option{credential.WithLogger(logger)}
	if cfg.CredentialKey != "" {
		sl, err := credential.NewSealer(cfg.CredentialKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfiguration, KeyCredentialKey, err)
		}
		opts = append(opts, credential.WithSealer(sl))
	}
	return credential.New(st, cfg.SessionUsername, opts...), nil
}

func acquireLock(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storywatch: download dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, LockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("storywatch: acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("storywatch: another instance holds %s", lock.Path())
	}
	return lock, nil
}

// Stats returns the process counters.
func (a *App) Stats() *Stats { return a.stats }

// Handler returns the liveness handler.
func (a *App) Handler() http.Handler {
	return HealthHandler(a.stats, a.monitor.Targets(), a.store, a.logger)
}

// RunOnce runs a single cycle.
func (a *App) RunOnce(ctx context.Context) CycleResult {
	return a.monitor.RunCycle(ctx)
}

// Run serves the liveness endpoint, starts the sweeper and cycles until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := HealthServer(":"+a.cfg.Port, a.Handler())
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("storywatch: health server starting", "port", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("storywatch: health server", "error", err)
			serveErr <- err
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sweeper.Run(sweepCtx)

	a.monitor.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("storywatch: health shutdown", "error", err)
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("storywatch: health server: %w", err)
	default:
		return nil
	}
}

// Close removes the transient session file and releases every resource.
// Safe to call on a partially opened App.
func (a *App) Close() error {
	var errs []error
	if a.creds != nil {
		errs = append(errs, a.creds.Cleanup())
	}
	if a.fetcher != nil {
		errs = append(errs, a.fetcher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
	}
	return errors.Join(errs...)
}

// Provision stores blob as the session of cfg.SessionUsername. The blob must
// be a valid session document.
func Provision(ctx context.Context, cfg *Config, blob []byte, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	if _, err := fetch.ParseSession(blob); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	st, err := store.Open(ctx, cfg.StorageURI, cfg.DBName)
	if err != nil {
		return fmt.Errorf("storywatch: open storage: %w", err)
	}
	defer st.Close()

	creds, err := openCredentials(st, cfg, logger)
	if err != nil {
		return err
	}
	if err := creds.Provision(ctx, blob); err != nil {
		return err
	}
	logger.Info("storywatch: session provisioned", "identity", creds.Identity(), "sealed", cfg.CredentialKey != "")
	return nil
}
