// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/api"
	"github.com/JakeFAU/streamwatch/internal/cache"
	"github.com/JakeFAU/streamwatch/internal/clock/system"
	"github.com/JakeFAU/streamwatch/internal/config"
	"github.com/JakeFAU/streamwatch/internal/fetch"
	"github.com/JakeFAU/streamwatch/internal/id/uuid"
	"github.com/JakeFAU/streamwatch/internal/learner"
	"github.com/JakeFAU/streamwatch/internal/logging"
	"github.com/JakeFAU/streamwatch/internal/orchestrator"
	"github.com/JakeFAU/streamwatch/internal/platform"
	"github.com/JakeFAU/streamwatch/internal/policy/ratelimit"
	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/prefetch"
	"github.com/JakeFAU/streamwatch/internal/progress"
	progresssinks "github.com/JakeFAU/streamwatch/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/streamwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/streamwatch/internal/quota"
	"github.com/JakeFAU/streamwatch/internal/schedule"
	gcsstorage "github.com/JakeFAU/streamwatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/streamwatch/internal/storage/local"
	memstore "github.com/JakeFAU/streamwatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/streamwatch/internal/storage/postgres"
	"github.com/JakeFAU/streamwatch/internal/telemetry"
)

// ErrNoPlatforms is returned when every platform is disabled.
var ErrNoPlatforms = errors.New("server: no platforms enabled")

// App contains the application's dependencies.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	clock   *system.Clock
	version string

	pool            *pgxpool.Pool
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	hub             *progress.Hub
	ring            *progresssinks.RingSink
	tracerShutdown  func(context.Context) error

	quota     *quota.Registry
	cache     *cache.Store
	tracker   *cache.AccessTracker
	learner   *learner.Learner
	scheduler *schedule.Scheduler
	orch      *orchestrator.Orchestrator
	apiServer *api.Server
}

// stateStores groups the persistence seams chosen by storage.backend.
type stateStores struct {
	quota   poller.QuotaStateStore
	records poller.RecordStore
	cache   poller.CachePersister
	seen    poller.SeenStore
}

// Build creates the application's dependencies. The returned App owns every
// client it opened; callers must Close it.
func Build(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return BuildWithLogger(ctx, cfg, version, logger)
}

// BuildWithLogger is Build with an injected logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, version string, logger *zap.Logger) (_ *App, err error) {
	if len(cfg.EnabledPlatforms()) == 0 {
		return nil, ErrNoPlatforms
	}
	app := &App{cfg: cfg, logger: logger, clock: system.New(), version: version}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
		}
	}()

	app.logger.Info("building application dependencies",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("schedules", cfg.Schedules.Source),
		zap.String("blob", cfg.Blob.Backend),
	)

	if cfg.Telemetry.TracingEnabled {
		tp, terr := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, version)
		if terr != nil {
			return nil, fmt.Errorf("tracer init failed: %w", terr)
		}
		app.tracerShutdown = tp.Shutdown
	}

	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	stores := app.stateStores()

	if err = app.setupQuota(ctx, stores.quota); err != nil {
		return nil, err
	}
	if err = app.setupCache(ctx, stores.cache); err != nil {
		return nil, err
	}
	if err = app.setupLearner(ctx, stores.records); err != nil {
		return nil, err
	}

	scheduleStore, err := app.setupScheduleStore()
	if err != nil {
		return nil, err
	}
	app.scheduler = schedule.New(scheduleStore, app.learner, app.clock, cfg.Poller.SlotTolerance, logger.Named("scheduler"))

	adapters := app.setupAdapters()
	executor := fetch.New(adapters, fetch.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}, app.clock, logger.Named("fetch"))

	predictor := prefetch.New(prefetch.Config{
		Enabled:   cfg.Prefetch.Enabled,
		Threshold: cfg.Prefetch.Threshold,
		MaxItems:  cfg.Prefetch.MaxItems,
		MinDays:   cfg.Prefetch.MinDays,
	}, app.tracker, logger.Named("prefetch"))

	if err = app.setupEvents(ctx); err != nil {
		return nil, err
	}

	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		return nil, err
	}

	ttl := make(map[string]time.Duration, len(cfg.Cache.TTL))
	for k, v := range cfg.Cache.TTL {
		ttl[k] = v
	}
	app.orch, err = orchestrator.New(orchestrator.Config{
		Workers:             cfg.Poller.Workers,
		TaskTimeout:         cfg.Poller.TaskTimeout,
		Interval:            cfg.Poller.Interval,
		MaintenanceInterval: cfg.Poller.MaintenanceInterval,
		SeenPerSource:       cfg.Poller.SeenPerSchedule,
		SeenRetention:       cfg.Poller.SeenRetention,
		CacheTTL:            ttl,
		DefaultTTL:          cfg.Cache.DefaultTTL,
		ArchiveRaw:          cfg.Poller.ArchiveRaw,
		PrefetchQuotaShare:  cfg.Prefetch.MaxQuotaShare,
		PrefetchMaxItems:    cfg.Prefetch.MaxItems,
	}, orchestrator.Deps{
		Scheduler: app.scheduler,
		Quota:     app.quota,
		Cache:     app.cache,
		Fetcher:   executor,
		Learner:   app.learner,
		Adapters:  adapters,
		Predictor: predictor,
		Events:    app.hub,
		Blobs:     blobs,
		Seen:      stores.seen,
		Clock:     app.clock,
		Logger:    logger.Named("orchestrator"),
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(api.Config{
		APIKey:         apiKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, api.Deps{
		Quota:     app.quota,
		Scheduler: app.scheduler,
		Learner:   app.learner,
		Cache:     app.cache,
		Tracker:   app.tracker,
		Events:    app.ring,
		Ready:     app.ready,
		Clock:     app.clock,
		Logger:    logger.Named("api"),
	})
	return app, nil
}

// Handler exposes the HTTP API, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Orchestrator exposes the tick loop, mainly for tests.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Run starts the poller and the HTTP server and blocks until ctx is canceled
// or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchDone := make(chan error, 1)
	go func() {
		orchDone <- a.orch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-orchDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("orchestrator stopped with error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		a.logger.Warn("orchestrator did not stop before shutdown timeout")
	}

	return a.Close(shutdownCtx)
}

// Close flushes events and releases every client the App opened.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		emitted, dropped := a.hub.Stats()
		a.logger.Info("event hub closed", zap.Int64("emitted", emitted), zap.Int64("dropped", dropped))
		a.hub = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	//nolint:errcheck // Sync fails on stderr for terminals.
	_ = a.logger.Sync()
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if !a.cfg.UsesPostgres() {
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	if a.cfg.DB.Migrate {
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("postgres schema applied")
	}
	return nil
}

func (a *App) stateStores() stateStores {
	if a.cfg.Storage.Backend == "postgres" {
		a.logger.Info("using postgres state backend")
		s := stateStores{
			quota:   pgstore.NewQuotaStore(a.pool),
			records: pgstore.NewRecordStore(a.pool),
			seen:    pgstore.NewSeenStore(a.pool),
		}
		if a.cfg.Cache.Persist {
			s.cache = pgstore.NewCacheStore(a.pool)
		}
		return s
	}
	a.logger.Info("using in-memory state backend")
	return stateStores{
		quota:   memstore.NewQuotaStore(),
		records: memstore.NewRecordStore(),
		seen:    memstore.NewSeenStore(),
	}
}

func (a *App) setupQuota(ctx context.Context, store poller.QuotaStateStore) error {
	reg, err := NewQuotaRegistry(ctx, a.cfg, store, a.clock, a.logger.Named("quota"))
	if err != nil {
		return err
	}
	a.quota = reg
	return nil
}

// NewQuotaRegistry builds one ledger per enabled platform and restores any
// persisted state for the current window.
func NewQuotaRegistry(
	ctx context.Context,
	cfg *config.Config,
	store poller.QuotaStateStore,
	clock poller.Clock,
	logger *zap.Logger,
) (*quota.Registry, error) {
	var ledgers []*quota.Ledger
	for _, p := range cfg.EnabledPlatforms() {
		pc := cfg.Platforms[string(p)]
		loc, err := time.LoadLocation(pc.Timezone)
		if err != nil {
			return nil, fmt.Errorf("platforms.%s.timezone: %w", p, err)
		}
		costs := make(map[poller.Operation]int, len(pc.Costs))
		for op, c := range pc.Costs {
			costs[poller.Operation(op)] = c
		}
		ledger, err := quota.NewLedger(quota.Config{
			Platform:     p,
			DailyLimit:   pc.DailyLimit,
			SafetyMargin: pc.SafetyMargin,
			Costs:        costs,
			DefaultCost:  pc.DefaultCost,
			Location:     loc,
		}, store, clock, logger)
		if err != nil {
			return nil, fmt.Errorf("quota ledger %s: %w", p, err)
		}
		ledgers = append(ledgers, ledger)
	}
	reg, err := quota.NewRegistry(ledgers...)
	if err != nil {
		return nil, fmt.Errorf("quota registry: %w", err)
	}
	if err := reg.Restore(ctx); err != nil {
		return nil, fmt.Errorf("quota restore: %w", err)
	}
	return reg, nil
}

func (a *App) setupCache(ctx context.Context, persister poller.CachePersister) error {
	a.cache = cache.New(a.clock, persister, a.logger.Named("cache"))
	if persister != nil {
		n, err := a.cache.Warm(ctx)
		if err != nil {
			return fmt.Errorf("cache warm: %w", err)
		}
		a.logger.Info("cache warmed", zap.Int("entries", n))
	}
	loc, err := time.LoadLocation(a.cfg.Prefetch.Timezone)
	if err != nil {
		return fmt.Errorf("prefetch.timezone: %w", err)
	}
	a.tracker = cache.NewAccessTracker(loc, a.cfg.Prefetch.WindowDays, a.cfg.Prefetch.MaxTrackedKeys)
	return nil
}

func (a *App) setupLearner(ctx context.Context, store poller.RecordStore) error {
	a.learner = learner.New(learner.Config{
		ScoreWindow:           a.cfg.Learner.ScoreWindow,
		RetentionDays:         a.cfg.Learner.RetentionDays,
		MaxRecordsPerSchedule: a.cfg.Learner.MaxRecords,
		LowValueAttempts:      a.cfg.Learner.LowValueAttempts,
	}, store, uuid.New(), a.clock, a.logger.Named("learner"))
	n, err := a.learner.Load(ctx)
	if err != nil {
		return fmt.Errorf("learner load: %w", err)
	}
	a.logger.Info("effectiveness history loaded", zap.Int("records", n))
	return nil
}

func (a *App) setupScheduleStore() (poller.ScheduleStore, error) {
	switch a.cfg.Schedules.Source {
	case "postgres":
		if a.pool == nil {
			return nil, errors.New("postgres schedule source requires db.dsn")
		}
		a.logger.Info("loading schedules from postgres")
		return pgstore.NewScheduleStore(a.pool, a.logger.Named("schedules")), nil
	default:
		a.logger.Info("loading schedules from file", zap.String("path", a.cfg.Schedules.Path))
		return schedule.NewFileStore(a.cfg.Schedules.Path, a.logger.Named("schedules")), nil
	}
}

func (a *App) setupAdapters() *platform.Registry {
	overrides := make(map[string]ratelimit.Rule)
	for _, p := range a.cfg.EnabledPlatforms() {
		pc := a.cfg.Platforms[string(p)]
		if pc.RPS > 0 {
			overrides[string(p)] = ratelimit.Rule{RPS: pc.RPS, Burst: pc.Burst}
		}
	}
	client := platform.NewClient(platform.ClientConfig{
		Timeout:   a.cfg.HTTP.Timeout,
		UserAgent: a.cfg.HTTP.UserAgent,
		Limiter: ratelimit.New(ratelimit.Config{
			Default:   ratelimit.Rule{RPS: 1, Burst: 1},
			Overrides: overrides,
		}),
	})

	var adapters []platform.Adapter
	for _, p := range a.cfg.EnabledPlatforms() {
		pc := a.cfg.Platforms[string(p)]
		switch p {
		case poller.PlatformYouTube:
			adapters = append(adapters, platform.NewYouTube(client, pc.BaseURL, pc.APIKey))
		case poller.PlatformTikTok:
			adapters = append(adapters, platform.NewTikTok(client, pc.BaseURL, pc.APIKey, a.clock))
		case poller.PlatformFacebook:
			adapters = append(adapters, platform.NewFacebook(client, pc.BaseURL, pc.APIKey))
		case poller.PlatformInstagram:
			adapters = append(adapters, platform.NewInstagram(client, pc.BaseURL, pc.APIKey))
		}
		a.logger.Info("platform enabled",
			zap.String("platform", string(p)),
			zap.Int("daily_limit", pc.DailyLimit),
			zap.Int("safety_margin", pc.SafetyMargin),
			zap.Float64("rps", pc.RPS),
		)
	}
	return platform.NewRegistry(adapters...)
}

func (a *App) setupEvents(ctx context.Context) error {
	a.ring = progresssinks.NewRingSink(a.cfg.Events.RingSize)
	sinkList := []progress.Sink{a.ring}
	if a.cfg.Events.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("events")))
	}
	if a.cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubPublisher = gcppublisher.New(client)
		sinkList = append(sinkList, progresssinks.NewPublishSink(
			a.pubsubPublisher, a.cfg.PubSub.TopicName, a.logger.Named("events_pubsub"),
		))
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Events.BufferSize,
		MaxBatchEvents: a.cfg.Events.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Events.MaxBatchWait,
		IDs:            uuid.New(),
		Clock:          a.clock,
		Logger:         a.logger.Named("event_hub"),
	}, sinkList...)
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) (poller.BlobStore, error) {
	switch a.cfg.Blob.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Blob.GCSBucket, Prefix: a.cfg.Blob.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving raw payloads to GCS", zap.String("bucket", a.cfg.Blob.GCSBucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Blob.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving raw payloads locally", zap.String("path", a.cfg.Blob.LocalDir))
		return store, nil
	case "memory":
		a.logger.Info("archiving raw payloads in memory")
		return memstore.NewBlobStore(), nil
	default:
		return nil, nil
	}
}
