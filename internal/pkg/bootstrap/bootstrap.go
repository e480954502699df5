package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/ManuelReschke/MealPay/app/repository"
	"github.com/ManuelReschke/MealPay/internal/pkg/cache"
	"github.com/ManuelReschke/MealPay/internal/pkg/config"
	"github.com/ManuelReschke/MealPay/internal/pkg/database"
	"github.com/ManuelReschke/MealPay/internal/pkg/deadletter"
	"github.com/ManuelReschke/MealPay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/MealPay/internal/pkg/metrics"
	"github.com/ManuelReschke/MealPay/internal/pkg/orchestrator"
	"github.com/ManuelReschke/MealPay/internal/pkg/router"
	"github.com/ManuelReschke/MealPay/internal/pkg/secrets"
	"github.com/ManuelReschke/MealPay/internal/pkg/statechange"
)

const failedEventSweepInterval = 5 * time.Minute

// Services is the wired webhook pipeline.
type Services struct {
	Config       *config.Config
	Store        repository.Store
	Orchestrator *orchestrator.Orchestrator
	Registry     *prometheus.Registry
	RetryManager *jobqueue.Manager
	Checks       map[string]router.ReadinessCheck

	closers []func() error
}

// Build connects the configured backends and wires the orchestrator.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Checks:   map[string]router.ReadinessCheck{},
	}
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := s.openStore(cfg); err != nil {
		return nil, err
	}

	var (
		client *redis.Client
		seen   fiber.Storage
	)
	if cfg.Cache.Enabled {
		client = cache.NewClient(ctx, cfg.Cache)
		seen = cache.NewSeenStorage(cfg.Cache)
		s.closers = append(s.closers, client.Close, seen.Close)
		s.Checks["cache"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	var archiver deadletter.Archiver = deadletter.Nop{}
	if cfg.DeadLetter.Enabled {
		a, err := deadletter.NewS3Archiver(ctx, &cfg.DeadLetter, cfg.App.Env)
		if err != nil {
			s.Close()
			return nil, err
		}
		archiver = a
	}

	var publisher statechange.Publisher = statechange.Nop{}
	if cfg.StateChange.Enabled {
		p, err := statechange.NewKafkaPublisher(&cfg.StateChange)
		if err != nil {
			s.Close()
			return nil, err
		}
		publisher = p
		s.closers = append(s.closers, p.Close)
	}

	opts := orchestrator.Options{
		Store:                     s.Store,
		Secrets:                   secrets.Env{Key: cfg.Webhook.SecretsKey},
		Provider:                  cfg.Webhook.Provider,
		DefaultMaxDunningAttempts: cfg.Dunning.DefaultMaxAttempts,
		ClaimTTL:                  cfg.Webhook.ClaimTTL,
		SeenCache:                 seen,
		SeenTTL:                   cfg.Webhook.SeenTTL,
		Metrics:                   metrics.New(s.Registry),
		Archiver:                  archiver,
		Publisher:                 publisher,
		TracerProvider:            otel.GetTracerProvider(),
	}

	var queue *jobqueue.Queue
	if cfg.Webhook.RetryEnabled {
		queue = jobqueue.NewQueue(client, jobqueue.Options{
			Workers:     cfg.Webhook.RetryWorkers,
			MaxAttempts: cfg.Webhook.RetryMaxAttempts,
			Backoff:     cfg.Webhook.RetryBackoff,
		})
		opts.Retry = queue
	}

	orch, err := orchestrator.New(opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Orchestrator = orch

	if queue != nil {
		s.RetryManager = jobqueue.NewManager(queue, orch, failedEventSweepInterval)
	}
	return s, nil
}

func (s *Services) openStore(cfg *config.Config) error {
	if cfg.Database.Driver == "memory" {
		log.Warn("[Bootstrap] Using the in-memory store; state is lost on restart")
		s.Store = repository.NewMemoryStore()
		return nil
	}

	db, err := database.Open(cfg.Database, cfg.App.IsDev())
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	s.Store = repository.NewGormStore(db)
	s.closers = append(s.closers, sqlDB.Close)
	s.Checks["database"] = func(ctx context.Context) error { return sqlDB.PingContext(ctx) }
	return nil
}

// StartRetries starts the retry workers when retries are enabled.
func (s *Services) StartRetries() {
	if s.RetryManager == nil {
		return
	}
	s.RetryManager.Start(s.Reprocess)
}

// Reprocess re-runs a failed event; it is the retry queue handler.
func (s *Services) Reprocess(ctx context.Context, provider, eventID string) error {
	if provider != s.Orchestrator.Provider() {
		return fmt.Errorf("event %s belongs to provider %q, not %q", eventID, provider, s.Orchestrator.Provider())
	}
	_, err := s.Orchestrator.Reprocess(ctx, eventID)
	return err
}

// Close stops the retry workers and releases connections.
func (s *Services) Close() error {
	if s.RetryManager != nil {
		s.RetryManager.Stop()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
