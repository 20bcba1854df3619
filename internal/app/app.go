package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AdamTech2025/twitter-autobot/internal/api"
	"github.com/AdamTech2025/twitter-autobot/internal/auth"
	"github.com/AdamTech2025/twitter-autobot/internal/config"
	"github.com/AdamTech2025/twitter-autobot/internal/confirm"
	"github.com/AdamTech2025/twitter-autobot/internal/coordinator"
	"github.com/AdamTech2025/twitter-autobot/internal/generator"
	"github.com/AdamTech2025/twitter-autobot/internal/logging"
	"github.com/AdamTech2025/twitter-autobot/internal/metrics"
	"github.com/AdamTech2025/twitter-autobot/internal/notifier"
	"github.com/AdamTech2025/twitter-autobot/internal/publisher"
	pubproviders "github.com/AdamTech2025/twitter-autobot/internal/publisher/providers"
	"github.com/AdamTech2025/twitter-autobot/internal/scheduler"
	"github.com/AdamTech2025/twitter-autobot/internal/store"
)

const shutdownTimeout = 30 * time.Second

// App holds the wired pipeline.
type App struct {
	mu     sync.RWMutex
	config *config.Config // replaced by ReloadSchedule

	Ledger      *store.Store
	Credentials *auth.CredentialStore
	Generator   *generator.Generator
	Notifier    *notifier.Notifier
	Publisher   publisher.Publisher
	Coordinator *coordinator.Coordinator
	Confirm     *confirm.Service

	logger *logrus.Logger
	sched  *scheduler.Scheduler
}

// New opens the ledger and builds every component from cfg.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ledger, err := OpenLedger(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, ledger, logger)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	return a, nil
}

// OpenLedger opens the configured database, defaulting sqlite to a file in
// the config directory.
func OpenLedger(ctx context.Context, cfg config.DatabaseConfig) (*store.Store, error) {
	dsn := cfg.DSN
	if cfg.Driver == config.DriverSQLite && dsn == "" {
		path, err := config.DefaultDatabasePath()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		dsn = path
	}
	ledger, err := store.New(ctx, cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return ledger, nil
}

// NewCredentialStore builds the credential store, unsealed only when no
// seal key is configured.
func NewCredentialStore(cfg *config.Config, ledger *store.Store, log *logrus.Entry) (*auth.CredentialStore, error) {
	var sealer *auth.Sealer
	if cfg.Auth.SealKey != "" {
		s, err := auth.NewSealer(cfg.Auth.SealKey)
		if err != nil {
			return nil, err
		}
		sealer = s
	} else {
		log.Warn("no seal key configured, credentials are stored in plaintext")
	}
	return auth.NewCredentialStore(ledger, sealer), nil
}

func build(cfg *config.Config, ledger *store.Store, logger *logrus.Logger) (*App, error) {
	creds, err := NewCredentialStore(cfg, ledger, logging.Component(logger, "auth"))
	if err != nil {
		return nil, err
	}

	gen, err := generator.New(cfg.Generator, logging.Component(logger, "generator"))
	if err != nil {
		return nil, err
	}

	notif, err := notifier.NewFromConfig(cfg.Email, logging.Component(logger, "notifier"))
	if err != nil {
		return nil, err
	}

	registry := publisher.NewRegistry()
	if cfg.Publisher.Platform == config.PlatformDryRun || cfg.Publisher.ConsumerKey == "" {
		registry.Register(config.PlatformDryRun, pubproviders.NewDryRunPublisher(logging.Component(logger, "dryrun")))
	}
	if cfg.Publisher.ConsumerKey != "" {
		registry.Register(config.PlatformX, pubproviders.NewXPublisher(
			cfg.Publisher.Endpoint,
			cfg.Publisher.ConsumerKey,
			cfg.Publisher.ConsumerSecret,
			cfg.Publisher.Timeout.Duration,
		))
	}
	pub := publisher.NewDedup(registry, ledger, logging.Component(logger, "publisher"))

	coord := coordinator.New(ledger, gen, notif, pub, creds,
		coordinator.OptionsFromConfig(cfg), logging.Component(logger, "coordinator"))

	return &App{
		config:      cfg,
		Ledger:      ledger,
		Credentials: creds,
		Generator:   gen,
		Notifier:    notif,
		Publisher:   pub,
		Coordinator: coord,
		Confirm:     confirm.New(ledger, coord, logging.Component(logger, "confirm")),
		logger:      logger,
	}, nil
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// Handler builds the HTTP surface.
func (a *App) Handler() http.Handler {
	cfg := a.Config()
	srv := api.New(api.Config{
		CronSecret: cfg.Server.CronSecret,
		SigningKey: cfg.Server.SigningKey,
	}, a.Coordinator, a.Ledger, a.Confirm, api.Probes{
		Ledger:    a.Ledger.Ping,
		Generator: a.Generator.Ping,
		Notifier:  a.Notifier.Ping,
		Publisher: a.Publisher.Ping,
	}, logging.Component(a.logger, "api"))
	return srv.Handler()
}

// Serve runs the HTTP server and, when enabled, the cron trigger until ctx
// is done, then shuts both down and cancels any active Run.
func (a *App) Serve(ctx context.Context) error {
	metrics.Register()
	cfg := a.Config()
	log := logging.Component(a.logger, "app")

	if cfg.Schedule.Enabled {
		if err := a.startScheduler(cfg); err != nil {
			return err
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	a.stopScheduler(shutdownCtx)
	if run := a.Coordinator.Active(); run != nil {
		a.Coordinator.Cancel()
		select {
		case <-run.Done():
		case <-shutdownCtx.Done():
			log.Warn("active run did not finish before shutdown")
		}
	}

	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

func (a *App) startScheduler(cfg *config.Config) error {
	sched, err := scheduler.New(cfg.Schedule.Timezone, cfg.Pipeline.RunTimeout.Duration, logging.Component(a.logger, "scheduler"))
	if err != nil {
		return err
	}
	if err := sched.AddPipelineJob(cfg.Schedule.Cron, a.Coordinator); err != nil {
		return err
	}
	sched.Start()

	a.mu.Lock()
	a.sched = sched
	a.mu.Unlock()
	return nil
}

func (a *App) stopScheduler(ctx context.Context) {
	a.mu.Lock()
	sched := a.sched
	a.sched = nil
	a.mu.Unlock()
	if sched == nil {
		return
	}
	select {
	case <-sched.Stop().Done():
	case <-ctx.Done():
	}
}

// ReloadSchedule re-reads the config file and applies a changed cron
// expression or timezone. Other settings need a restart.
func (a *App) ReloadSchedule() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.Component(a.logger, "app")

	a.mu.Lock()
	next := *a.config
	next.Schedule = cfg.Schedule
	sched := a.sched
	a.mu.Unlock()

	// Same timezone: swap the job on the running scheduler.
	if sched != nil && next.Schedule.Enabled && sched.Location().String() == next.Schedule.Timezone {
		if err := sched.ReschedulePipelineJob(next.Schedule.Cron, a.Coordinator); err != nil {
			return err
		}
		a.mu.Lock()
		a.config = &next
		a.mu.Unlock()
		log.WithField("cron", next.Schedule.Cron).Info("schedule reloaded")
		return nil
	}

	a.stopScheduler(context.Background())
	a.mu.Lock()
	a.config = &next
	current := a.config
	a.mu.Unlock()

	if !current.Schedule.Enabled {
		log.Info("schedule disabled by reload")
		return nil
	}
	if err := a.startScheduler(current); err != nil {
		return err
	}
	log.WithField("cron", current.Schedule.Cron).Info("schedule reloaded")
	return nil
}

// Close releases the ledger.
func (a *App) Close() error {
	return a.Ledger.Close()
}
