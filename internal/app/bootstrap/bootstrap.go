package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	amendment "escrowline/contexts/deal-governance/amendment-service"
	amendmentmemory "escrowline/contexts/deal-governance/amendment-service/adapters/memory"
	amendmentpostgres "escrowline/contexts/deal-governance/amendment-service/adapters/postgres"
	authority "escrowline/contexts/deal-governance/authority-service"
	authoritymemory "escrowline/contexts/deal-governance/authority-service/adapters/memory"
	authoritypostgres "escrowline/contexts/deal-governance/authority-service/adapters/postgres"
	authorityredis "escrowline/contexts/deal-governance/authority-service/adapters/redis"
	authorityports "escrowline/contexts/deal-governance/authority-service/ports"
	invitation "escrowline/contexts/deal-governance/invitation-service"
	invitationmemory "escrowline/contexts/deal-governance/invitation-service/adapters/memory"
	invitationpostgres "escrowline/contexts/deal-governance/invitation-service/adapters/postgres"
	"escrowline/internal/app/approvalgate"
	"escrowline/internal/app/notifications"
	"escrowline/internal/platform/config"
	"escrowline/internal/platform/db"
	"escrowline/internal/platform/httpserver"
	"escrowline/internal/platform/messaging"
	"escrowline/internal/platform/metrics"
	"escrowline/internal/shared/audit"
	"escrowline/internal/shared/events"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const summaryCachePrefix = "escrowline:authority:summary"

// Runtime holds the wired services shared by the api and worker processes.
type Runtime struct {
	Config     config.Config
	Logger     *slog.Logger
	Bus        *messaging.Bus
	Metrics    *metrics.Registry
	Audit      audit.Sink
	Authority  authority.Module
	Amendment  amendment.Module
	Invitation invitation.Module

	checks  map[string]httpserver.Pinger
	closers []io.Closer
}

type APIApp struct {
	runtime *Runtime
	server  *httpserver.Server
}

type WorkerApp struct {
	runtime *Runtime
}

// Build wires every service from cfg. Without POSTGRES_DSN the services run
// on in-memory adapters; without REDIS_ADDR authority summaries are cached
// in process.
func Build(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{
		Config:  cfg,
		Logger:  logger,
		Bus:     messaging.NewBus(0, logger),
		Metrics: metrics.NewRegistry("escrowline"),
		checks:  make(map[string]httpserver.Pinger),
	}

	sink, err := rt.openAudit(cfg.AuditLogPath)
	if err != nil {
		return nil, err
	}
	rt.Audit = sink

	if cfg.UsesPostgres() {
		err = rt.wirePostgres(cfg)
	} else {
		err = rt.wireMemory(cfg)
	}
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	logger.Info("runtime wired",
		"event", "bootstrap_runtime_wired",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"postgres", cfg.UsesPostgres(),
		"redis", cfg.UsesRedis(),
	)
	return rt, nil
}

func (rt *Runtime) wireMemory(cfg config.Config) error {
	var seed Seed
	if path := strings.TrimSpace(cfg.SeedFile); path != "" {
		loaded, err := LoadSeed(path)
		if err != nil {
			return err
		}
		seed = loaded
	}

	authorityStore := authoritymemory.NewStore()
	var summaryCache authorityports.SummaryCache = authorityStore
	if cfg.UsesRedis() {
		summaryCache = rt.redisSummaryCache(cfg)
	}
	rt.Authority = authority.NewModule(authority.Dependencies{
		Repository:      authorityStore,
		SummaryCache:    summaryCache,
		Outbox:          authorityStore,
		Publisher:       rt.Bus,
		Dedup:           authorityStore,
		Audit:           rt.Audit,
		Metrics:         rt.Metrics,
		Clock:           authorityStore,
		IDGenerator:     authorityStore,
		SummaryCacheTTL: cfg.SummaryCacheTTL,
		OutboxBatchSize: cfg.OutboxBatchSize,
		Logger:          rt.Logger,
	})
	rt.Authority.Store = authorityStore

	amendmentStore := amendmentmemory.NewStore()
	applier := amendmentmemory.NewRecordingApplier()
	rt.Amendment = amendment.NewModule(amendment.Dependencies{
		Repository:      amendmentStore,
		Outbox:          amendmentStore,
		Publisher:       rt.Bus,
		Applier:         applier,
		Approvals:       approvalgate.New(rt.Authority.CanApprove),
		Audit:           rt.Audit,
		Metrics:         rt.Metrics,
		Clock:           amendmentStore,
		IDGenerator:     amendmentStore,
		OutboxBatchSize: cfg.OutboxBatchSize,
		Logger:          rt.Logger,
	})
	rt.Amendment.Store = amendmentStore
	rt.Amendment.Applier = applier

	invitationStore := invitationmemory.NewStore()
	rt.Invitation = invitation.NewModule(invitation.Dependencies{
		Repository:      invitationStore,
		Outbox:          invitationStore,
		Publisher:       rt.Bus,
		Audit:           rt.Audit,
		Metrics:         rt.Metrics,
		Clock:           invitationStore,
		IDGenerator:     invitationStore,
		OutboxBatchSize: cfg.OutboxBatchSize,
		Logger:          rt.Logger,
	})
	rt.Invitation.Store = invitationStore

	seed.apply(authorityStore, amendmentStore, invitationStore)
	if len(seed.Actors) > 0 || len(seed.Deals) > 0 {
		rt.Logger.Info("memory stores seeded",
			"event", "bootstrap_memory_seeded",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"actors", len(seed.Actors),
			"deals", len(seed.Deals),
		)
	}
	return nil
}

func (rt *Runtime) wirePostgres(cfg config.Config) error {
	pg, err := db.Connect(cfg.PostgresDSN, db.Options{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		Logger:          rt.Logger,
	})
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, pg)
	rt.checks["postgres"] = pg
	if cfg.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := pg.Migrate(ctx, rt.Logger)
		cancel()
		if err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.SeedFile) != "" {
		rt.Logger.Warn("seed file ignored with postgres",
			"event", "bootstrap_seed_ignored",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"seed_file", cfg.SeedFile,
		)
	}

	authorityRepo := authoritypostgres.NewRepository(pg.DB, rt.Logger)
	var summaryCache authorityports.SummaryCache = authoritymemory.NewStore()
	if cfg.UsesRedis() {
		summaryCache = rt.redisSummaryCache(cfg)
	}
	rt.Authority = authority.NewModule(authority.Dependencies{
		Repository:      authorityRepo,
		SummaryCache:    summaryCache,
		Outbox:          authorityRepo,
		Publisher:       rt.Bus,
		Dedup:           authorityRepo,
		Audit:           rt.Audit,
		Metrics:         rt.Metrics,
		Clock:           authoritypostgres.SystemClock{},
		IDGenerator:     authoritypostgres.UUIDGenerator{},
		SummaryCacheTTL: cfg.SummaryCacheTTL,
		OutboxBatchSize: cfg.OutboxBatchSize,
		Logger:          rt.Logger,
	})

	amendmentRepo := amendmentpostgres.NewRepository(pg.DB, rt.Logger)
	rt.Amendment = amendment.NewModule(amendment.Dependencies{
		Repository:      amendmentRepo,
		Outbox:          amendmentRepo,
		Publisher:       rt.Bus,
		Applier:         amendmentpostgres.NewChangeApplier(pg.DB, rt.Logger),
		Approvals:       approvalgate.New(rt.Authority.CanApprove),
		Audit:           rt.Audit,
		Metrics:         rt.Metrics,
		Clock:           amendmentpostgres.SystemClock{},
		IDGenerator:     amendmentpostgres.UUIDGenerator{},
		OutboxBatchSize: cfg.OutboxBatchSize,
		Logger:          rt.Logger,
	})

	invitationRepo := invitationpostgres.NewRepository(pg.DB, rt.Logger)
	rt.Invitation = invitation.NewModule(invitation.Dependencies{
		Repository:      invitationRepo,
		Outbox:          invitationRepo,
		Publisher:       rt.Bus,
		Audit:           rt.Audit,
		Metrics:         rt.Metrics,
		Clock:           invitationpostgres.SystemClock{},
		IDGenerator:     invitationpostgres.UUIDGenerator{},
		OutboxBatchSize: cfg.OutboxBatchSize,
		Logger:          rt.Logger,
	})
	return nil
}

func (rt *Runtime) redisSummaryCache(cfg config.Config) *authorityredis.SummaryCache {
	client := authorityredis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	cache := authorityredis.NewSummaryCache(client, summaryCachePrefix)
	rt.closers = append(rt.closers, client)
	rt.checks["redis"] = cache
	return cache
}

func (rt *Runtime) openAudit(path string) (audit.Sink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return audit.NewJSONSink(os.Stdout), nil
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log %q: %w", path, err)
	}
	rt.closers = append(rt.closers, file)
	return audit.NewJSONSink(file), nil
}

// Handlers returns the transport adapters for the HTTP server.
func (rt *Runtime) Handlers() httpserver.Handlers {
	return httpserver.Handlers{
		Authority:  rt.Authority.Handler,
		Amendment:  rt.Amendment.Handler,
		Invitation: rt.Invitation.Handler,
	}
}

// Subscribe attaches the enabled bus consumers for the lifetime of ctx.
func (rt *Runtime) Subscribe(ctx context.Context) error {
	if err := rt.Bus.Subscribe(ctx, events.Topic, "amendment-party-roster-cg", rt.Amendment.Roster.Handle); err != nil {
		return err
	}
	if rt.Config.EnableSummaryInvalidation {
		if err := rt.Bus.Subscribe(ctx, events.Topic, "authority-summary-invalidation-cg", rt.Authority.Consumer.Handle); err != nil {
			return err
		}
	}
	if rt.Config.EnableNotifications {
		dispatcher := notifications.NewDispatcher(notifications.LogSender{Logger: rt.Logger}, 0, rt.Logger)
		if err := rt.Bus.Subscribe(ctx, events.Topic, "governance-notifications-cg", dispatcher.Handle); err != nil {
			return err
		}
	}
	return nil
}

// RelayOnce drains one batch from every service outbox.
func (rt *Runtime) RelayOnce(ctx context.Context) error {
	return errors.Join(
		rt.Authority.Relay.RunOnce(ctx),
		rt.Amendment.Relay.RunOnce(ctx),
		rt.Invitation.Relay.RunOnce(ctx),
	)
}

// RunRelays calls RelayOnce every poll interval until ctx is done. Relay
// failures are logged and retried on the next tick.
func (rt *Runtime) RunRelays(ctx context.Context) {
	ticker := time.NewTicker(rt.Config.OutboxPollInterval)
	defer ticker.Stop()
	for {
		if err := rt.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			rt.Logger.Error("outbox relay pass failed",
				"event", "bootstrap_relay_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	rt, err := Build(cfg, logger)
	if err != nil {
		return nil, err
	}
	server := httpserver.New(rt.Handlers(), rt.Metrics, rt.checks, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{runtime: rt, server: server}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.UsesPostgres() {
		return nil, errors.New("POSTGRES_DSN is required for the worker")
	}
	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	rt, err := Build(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &WorkerApp{runtime: rt}, nil
}

// Run serves HTTP until ctx is done. In-memory outboxes live only in this
// process, so the api relays them itself when no database is configured.
func (a *APIApp) Run(ctx context.Context) error {
	rt := a.runtime
	if !rt.Config.UsesPostgres() {
		if err := rt.Subscribe(ctx); err != nil {
			return err
		}
		go rt.RunRelays(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	rt.Logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	}
}

func (a *APIApp) Close() error {
	return a.runtime.Close()
}

func (w *WorkerApp) Run(ctx context.Context) error {
	rt := w.runtime
	if err := rt.Subscribe(ctx); err != nil {
		return err
	}
	rt.Logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", rt.Config.OutboxPollInterval.String(),
	)
	rt.RunRelays(ctx)
	return nil
}

func (w *WorkerApp) Close() error {
	return w.runtime.Close()
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
