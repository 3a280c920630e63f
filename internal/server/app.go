// Package server assembles the services from configuration and runs the HTTP
// API beside its background workers.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"pharmaudit/internal/audit/checksum"
	auditmetrics "pharmaudit/internal/audit/metrics"
	"pharmaudit/internal/audit/outbox"
	auditservice "pharmaudit/internal/audit/service"
	auditstore "pharmaudit/internal/audit/store"
	"pharmaudit/internal/authz"
	"pharmaudit/internal/platform/config"
	"pharmaudit/internal/platform/httpserver"
	"pharmaudit/internal/platform/kafka"
	platformmetrics "pharmaudit/internal/platform/metrics"
	"pharmaudit/internal/platform/postgres"
	platformredis "pharmaudit/internal/platform/redis"
	"pharmaudit/internal/ratelimit"
	"pharmaudit/internal/reports/analysis"
	"pharmaudit/internal/reports/export"
	reportmetrics "pharmaudit/internal/reports/metrics"
	reportservice "pharmaudit/internal/reports/service"
	reportstore "pharmaudit/internal/reports/store"
	"pharmaudit/internal/retention/archive"
	"pharmaudit/internal/retention/lock"
	retentionmetrics "pharmaudit/internal/retention/metrics"
	retentionmodels "pharmaudit/internal/retention/models"
	retentionservice "pharmaudit/internal/retention/service"
)

// App holds every wired component. Build it with New and release it with
// Close.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Audit     *auditservice.Service
	Reports   *reportservice.Service
	Retention *retentionservice.Manager

	checker            authz.Checker
	registry           *prometheus.Registry
	httpMetrics        *platformmetrics.Metrics
	db                 *sql.DB
	redis              *platformredis.Client
	archive            *archive.SQLite
	relay              *outbox.Relay
	producers          []*kafka.Producer
	reportScheduler    *reportservice.Scheduler
	retentionScheduler *retentionservice.Scheduler
	limiter            *ratelimit.Middleware
	health             []healthCheck
}

// New wires the application. Without a database URL the in-memory stores
// are used; without Redis the retention lock is process-local.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		checker:  authz.NewRoleChecker(nil),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.httpMetrics = platformmetrics.NewWithRegisterer(a.registry)

	hasher, err := checksum.New(cfg.Audit.ChecksumAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("checksum: %w", err)
	}

	var (
		eventStore  auditservice.Store
		expiring    retentionservice.EventStore
		reportStore reportservice.Store
		reportsTTL  retentionservice.ReportStore
	)
	if cfg.Database.URL != "" {
		a.db, err = postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(a.db); err != nil {
				return nil, err
			}
		}
		pgEvents := auditstore.NewPostgres(a.db)
		pgReports := reportstore.NewPostgres(a.db)
		eventStore, expiring = pgEvents, pgEvents
		reportStore, reportsTTL = pgReports, pgReports
		a.addHealth("postgres", a.db.PingContext)
	} else {
		logger.WarnContext(ctx, "no database configured, using in-memory stores")
		memEvents := auditstore.NewInMemory()
		memReports := reportstore.NewInMemory()
		eventStore, expiring = memEvents, memEvents
		reportStore, reportsTTL = memReports, memReports
	}

	a.Audit = auditservice.New(eventStore, hasher,
		auditservice.WithLogger(logger),
		auditservice.WithMetrics(auditmetrics.NewWithRegisterer(a.registry)),
		auditservice.WithDefaultRetentionYears(cfg.Audit.DefaultRetentionYears),
		auditservice.WithMaxPageSize(cfg.Audit.MaxPageSize),
	)

	if err := a.wireKafka(ctx); err != nil {
		return nil, err
	}

	artifacts, err := export.NewFileStore(cfg.Reports.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("report artifacts: %w", err)
	}
	reportOpts := []reportservice.Option{
		reportservice.WithLogger(logger),
		reportservice.WithMetrics(reportmetrics.NewWithRegisterer(a.registry)),
		reportservice.WithWeights(analysis.NewWeights(cfg.Reports.ViolationWeight, cfg.Reports.WarningWeight)),
		reportservice.WithAnalysisConfig(analysis.Config{FailedLoginThreshold: cfg.Reports.FailedLoginThreshold}),
		reportservice.WithWorkers(cfg.Reports.Workers, cfg.Reports.QueueSize),
		reportservice.WithRetentionYears(cfg.Reports.RetentionYears),
		reportservice.WithSegregationOfDuties(cfg.Reports.SegregationOfDuties),
		reportservice.WithGenerationTimeout(cfg.Reports.GenerationTimeout),
	}
	if p := a.distributionProducer(); p != nil {
		reportOpts = append(reportOpts, reportservice.WithNotifier(reportservice.NewKafkaNotifier(p)))
	}
	a.Reports = reportservice.New(reportStore, a.Audit, a.Audit, artifacts, a.checker, reportOpts...)

	a.reportScheduler, err = reportservice.NewScheduler(a.Reports, schedulesFrom(cfg.Reports.Schedules), cfg.Reports.ScheduleCheckEvery)
	if err != nil {
		return nil, fmt.Errorf("report schedules: %w", err)
	}

	locker, err := a.wireLock(ctx)
	if err != nil {
		return nil, err
	}
	a.wireRateLimit()

	a.archive, err = archive.Open(ctx, cfg.Retention.ArchivePath)
	if err != nil {
		return nil, err
	}
	a.addHealth("archive", a.archive.Health)

	policy, err := retentionmodels.ParsePolicy(cfg.Retention.Policy)
	if err != nil {
		return nil, err
	}
	a.Retention = retentionservice.New(expiring, reportsTTL, a.archive, locker, a.checker,
		retentionservice.WithLogger(logger),
		retentionservice.WithMetrics(retentionmetrics.NewWithRegisterer(a.registry)),
		retentionservice.WithPolicy(policy),
		retentionservice.WithBatchSize(cfg.Retention.BatchSize),
		retentionservice.WithLockTTL(cfg.Retention.LockTTL),
		retentionservice.WithArtifacts(artifacts),
		retentionservice.WithRecorder(a.Audit),
	)
	if cfg.Retention.Interval > 0 {
		a.retentionScheduler = retentionservice.NewScheduler(a.Retention, cfg.Retention.Interval)
	}
	return a, nil
}

// wireKafka connects the outbox relay. The relay needs both a broker and the
// Postgres outbox table.
func (a *App) wireKafka(ctx context.Context) error {
	cfg := a.Config.Kafka
	if len(cfg.Brokers) == 0 {
		return nil
	}
	if a.db != nil {
		producer, err := kafka.NewProducer(ctx, cfg)
		if err != nil {
			return err
		}
		a.producers = append(a.producers, producer)
		if err := producer.EnsureTopic(ctx, cfg.Partitions, cfg.ReplicationFactor); err != nil {
			return err
		}
		a.relay = outbox.NewRelay(outbox.NewPostgresStore(a.db), producer,
			outbox.WithLogger(a.Logger),
			outbox.WithMetrics(outbox.NewMetrics(a.registry)),
			outbox.WithInterval(cfg.PollInterval),
			outbox.WithBatchSize(cfg.BatchSize),
		)
	}

	dist := cfg
	dist.Topic = cfg.DistributionTopic
	producer, err := kafka.NewProducer(ctx, dist)
	if err != nil {
		return err
	}
	if err := producer.EnsureTopic(ctx, dist.Partitions, dist.ReplicationFactor); err != nil {
		producer.Close()
		return err
	}
	a.producers = append(a.producers, producer)
	return nil
}

func (a *App) distributionProducer() *kafka.Producer {
	for _, p := range a.producers {
		if p.Topic() == a.Config.Kafka.DistributionTopic {
			return p
		}
	}
	return nil
}

func (a *App) wireLock(ctx context.Context) (lock.Locker, error) {
	client, err := platformredis.New(ctx, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		a.Logger.WarnContext(ctx, "no redis configured, retention lock is process-local")
		return lock.NewMemory(), nil
	}
	a.redis = client
	a.addHealth("redis", client.Health)
	return lock.NewRedis(client, ""), nil
}

// wireRateLimit shares windows through Redis when it is configured.
func (a *App) wireRateLimit() {
	cfg := a.Config.RateLimit
	if !cfg.Enabled {
		return
	}
	var store ratelimit.Store = ratelimit.NewMemory()
	if a.redis != nil {
		store = ratelimit.NewRedis(a.redis, "")
	}
	a.limiter = ratelimit.New(store, ratelimit.Limits{
		Window:   cfg.Window,
		Read:     cfg.Read,
		Write:    cfg.Write,
		Generate: cfg.Generate,
	}, a.Logger, ratelimit.NewMetrics(a.registry))
}

func schedulesFrom(in []config.Schedule) []reportservice.Schedule {
	out := make([]reportservice.Schedule, 0, len(in))
	for _, s := range in {
		out = append(out, reportservice.Schedule{
			ReportType:       s.ReportType,
			Framework:        s.Framework,
			Format:           s.Format,
			Every:            s.Every,
			DistributionList: s.DistributionList,
		})
	}
	return out
}

// Run serves HTTP and runs the background workers until ctx is cancelled,
// then shuts everything down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	srv := httpserver.New(a.Config.Server, a.Router())
	a.Reports.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.InfoContext(gctx, "pharmaudit listening", "addr", srv.Addr, "environment", a.Config.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if a.relay != nil {
			a.relay.Start(gctx)
			defer a.relay.Stop()
		}
		a.reportScheduler.Start(gctx)
		defer a.reportScheduler.Stop()
		if a.retentionScheduler != nil {
			a.retentionScheduler.Start(gctx)
			defer a.retentionScheduler.Stop()
		}

		<-gctx.Done()
		a.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return a.Reports.Close(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.Config.Server.ShutdownTimeout; d > 0 {
		return d
	}
	return 15 * time.Second
}

// Close releases connections. Safe on a partially built App.
func (a *App) Close() {
	for _, p := range a.producers {
		p.Close()
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.Logger.Warn("failed to close archive", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Warn("failed to close database", "error", err)
		}
	}
}
