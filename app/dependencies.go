package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/upb/llm-governance-gateway/config"
	"github.com/upb/llm-governance-gateway/internal/kvstore"
	"github.com/upb/llm-governance-gateway/internal/observability"
	"github.com/upb/llm-governance-gateway/middleware"
	"github.com/upb/llm-governance-gateway/repositories"
	"github.com/upb/llm-governance-gateway/repositories/postgres"
	"github.com/upb/llm-governance-gateway/repositories/sqlite"
	"github.com/upb/llm-governance-gateway/services/audit"
	"github.com/upb/llm-governance-gateway/services/breaker"
	"github.com/upb/llm-governance-gateway/services/budget"
	"github.com/upb/llm-governance-gateway/services/cache"
	"github.com/upb/llm-governance-gateway/services/gateway"
	"github.com/upb/llm-governance-gateway/services/policy"
	"github.com/upb/llm-governance-gateway/services/providers"
	"github.com/upb/llm-governance-gateway/services/providers/anthropic"
	"github.com/upb/llm-governance-gateway/services/providers/google"
	"github.com/upb/llm-governance-gateway/services/providers/openai"
	"github.com/upb/llm-governance-gateway/services/ratelimit"
	"github.com/upb/llm-governance-gateway/services/safety"
	"go.uber.org/zap"
)

const meterName = "github.com/upb/llm-governance-gateway"

// knownProviders are always tracked by a breaker so their status is
// reported even when no adapter is configured
var knownProviders = []string{"openai", "anthropic", "google"}

// memorySweepInterval bounds how long expired in-process entries hold memory
const memorySweepInterval = time.Minute

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	KV     kvstore.Store

	// Storage; exactly one backend is open
	RepoFactory  *postgres.RepositoryFactory
	SQLite       *sqlite.Store
	Repositories *repositories.Repositories

	// Governance services
	Providers *providers.Registry
	Policy    *policy.Client
	Safety    *safety.Evaluator
	Budget    *budget.Ledger
	Cache     *cache.Cache
	Breakers  *breaker.Registry
	Audit     *audit.Service
	Gateway   *gateway.Orchestrator

	// AuditTrail is nil when events are only logged
	AuditTrail repositories.AuditRepository

	// RateLimiter is nil when no request cap is configured
	RateLimiter *ratelimit.Service

	// Observability
	Meters  *observability.MeterRegistry
	Metrics *observability.Metrics

	// HTTP
	AdminAuth *middleware.AdminAuth
	Requester *middleware.RequesterMiddleware

	shutdownTracer func(context.Context) error
	stopCleanup    context.CancelFunc
	stopSweep      chan struct{}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initObservability(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		deps.closeQuietly()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initKV(ctx, cfg); err != nil {
		deps.closeQuietly()
		return nil, fmt.Errorf("failed to initialize key-value store: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		deps.closeQuietly()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		deps.closeQuietly()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.AdminAuth = middleware.NewAdminAuth(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.Role, logger)
	if !deps.AdminAuth.Enabled() {
		logger.Warn("admin jwt secret not set, operational endpoints are unauthenticated")
	}
	deps.Requester = middleware.NewRequesterMiddleware(logger)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.Providers.ListProviders()),
		zap.String("storage", cfg.Storage.Driver))
	return deps, nil
}

func (d *Dependencies) initObservability(cfg *config.Config) error {
	shutdown, err := observability.InitTracer(observability.TracingConfig{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.Observability.ServiceName,
		SampleRate:  cfg.Observability.TracingSampleRate,
		Output:      os.Stdout,
	})
	if err != nil {
		return err
	}
	d.shutdownTracer = shutdown

	meters, err := observability.InitMeter(cfg.Observability.ServiceName)
	if err != nil {
		return err
	}
	d.Meters = meters

	metrics, err := observability.NewMetrics(meters.Meter(meterName))
	if err != nil {
		return err
	}
	d.Metrics = metrics
	return nil
}

// initStorage opens the usage and audit store selected by STORAGE_DRIVER
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	switch cfg.Storage.Driver {
	case config.StorageDriverSQLite:
		store, err := sqlite.Open(cfg.Storage.SQLitePath, d.Logger)
		if err != nil {
			return err
		}
		d.SQLite = store
		d.Repositories = store.Repositories()

	default:
		factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		d.RepoFactory = factory

		if err := factory.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		d.Repositories = factory.NewRepositories()
	}

	d.Logger.Info("storage initialized", zap.String("driver", cfg.Storage.Driver))
	return nil
}

// initKV connects to Redis when configured, falling back to the in-process store
func (d *Dependencies) initKV(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.URL == "" {
		store := kvstore.NewMemoryStore(cfg.Redis.MemoryMaxEntries)
		d.stopSweep = make(chan struct{})
		go store.StartCleanupWorker(memorySweepInterval, d.stopSweep)
		d.KV = store
		d.Logger.Info("using in-memory key-value store",
			zap.Int("max_entries", cfg.Redis.MemoryMaxEntries))
		return nil
	}

	store, err := kvstore.NewRedisStore(ctx, kvstore.RedisConfig{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
	})
	if err != nil {
		return err
	}
	d.KV = store
	d.Logger.Info("connected to redis")
	return nil
}

// initProviders registers an adapter for every provider with an API key
func (d *Dependencies) initProviders(cfg *config.Config) error {
	var adapters []providers.Provider

	if cfg.Providers.OpenAI.Configured() {
		adapters = append(adapters, openai.NewOpenAIAdapter(providerConfig(cfg.Providers.OpenAI)))
	}
	if cfg.Providers.Anthropic.Configured() {
		adapters = append(adapters, anthropic.NewAdapter(providerConfig(cfg.Providers.Anthropic)))
	}
	if cfg.Providers.Google.Configured() {
		adapters = append(adapters, google.NewAdapter(providerConfig(cfg.Providers.Google)))
	}

	registry, err := providers.NewRegistry(adapters...)
	if err != nil {
		return err
	}
	if len(adapters) == 0 {
		d.Logger.Warn("no LLM providers configured")
	}

	d.Providers = registry
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	level, err := safety.ParseLevel(cfg.Safety.Level)
	if err != nil {
		return err
	}

	d.Policy = policy.NewClient(policy.Config{
		URL:              cfg.Policy.URL,
		AuthSecret:       cfg.Policy.AuthSecret,
		Issuer:           cfg.Policy.Issuer,
		Timeout:          cfg.Policy.Timeout,
		AllowedModels:    cfg.Policy.AllowedModels,
		AllowedProviders: cfg.Policy.AllowedProviders,
		MaxTokensLimit:   cfg.Policy.MaxTokensLimit,
	}, d.Logger)

	d.Safety = safety.NewEvaluator(safety.Config{
		Level:          level,
		BlockJailbreak: cfg.Safety.BlockJailbreak,
		CacheEnabled:   cfg.Safety.CacheEnabled,
		CacheTTL:       cfg.Safety.CacheTTL,
	}, d.KV, d.Logger)

	projects := make(map[string]budget.Limits, len(cfg.Budget.Projects))
	for id, p := range cfg.Budget.Projects {
		projects[id] = budget.Limits{Daily: p.Daily, Monthly: p.Monthly}
	}
	d.Budget = budget.NewLedger(d.Repositories.Usage, d.KV, budget.Config{
		DefaultDaily:   cfg.Budget.DefaultDaily,
		DefaultMonthly: cfg.Budget.DefaultMonthly,
		Projects:       projects,
		CacheTTL:       cfg.Budget.CacheTTL,
	}, d.Logger)

	cleanupCtx, stop := context.WithCancel(context.Background())
	d.stopCleanup = stop
	go d.Budget.StartCleanupWorker(cleanupCtx, cfg.Budget.CleanupInterval,
		time.Duration(cfg.Budget.RetentionDays)*24*time.Hour)

	d.Cache = cache.New(d.KV, cfg.Cache.TTL, cfg.Cache.Enabled, d.Logger)

	limiter := ratelimit.NewService(d.KV, ratelimit.Limits{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		RequestsPerHour:   cfg.RateLimit.RequestsPerHour,
		RequestsPerDay:    cfg.RateLimit.RequestsPerDay,
	}, d.Logger)
	if limiter.Enabled() {
		d.RateLimiter = limiter
	}

	d.Breakers = breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	}, knownProviders...)

	var writer audit.Writer = audit.NewLogWriter(d.Logger)
	if cfg.Audit.Persist {
		writer = d.Repositories.Audit
		d.AuditTrail = d.Repositories.Audit
	}
	d.Audit = audit.NewService(writer, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	if err := d.Audit.Start(); err != nil {
		return err
	}

	d.Gateway = gateway.NewOrchestrator(gateway.Config{
		ABTesting: cfg.ABTesting.Enabled,
		ABRatio:   cfg.ABTesting.Ratio,
		ABTimeout: cfg.ABTesting.Timeout,
	}, gateway.Dependencies{
		Policy:    d.Policy,
		Safety:    d.Safety,
		Budget:    d.Budget,
		Cache:     d.Cache,
		Breakers:  d.Breakers,
		Providers: d.Providers,
		Dispatcher: providers.NewDispatcher(providers.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			MinBackoff:  cfg.Retry.MinBackoff,
			MaxBackoff:  cfg.Retry.MaxBackoff,
			CallTimeout: cfg.Retry.CallTimeout,
		}, d.Logger),
		Tokens: providers.NewTokenEstimator(),
		Audit:  d.Audit,
		Store:  d.KV,
	}, d.Logger)

	return nil
}

func providerConfig(p config.ProviderConfig) providers.ProviderConfig {
	pc := providers.DefaultProviderConfig()
	pc.APIKey = p.APIKey
	pc.BaseURL = p.BaseURL
	if p.Timeout > 0 {
		pc.Timeout = p.Timeout
	}
	return pc
}

// UsageStore reports the usage repository for readiness probes
func (d *Dependencies) UsageStore() repositories.UsageRepository {
	return d.Repositories.Usage
}

// Close gracefully shuts down all dependencies. In-flight comparison
// requests are cancelled before the audit buffer is drained.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Gateway != nil {
		d.Gateway.Close()
	}
	if d.stopCleanup != nil {
		d.stopCleanup()
	}
	if d.stopSweep != nil {
		close(d.stopSweep)
		d.stopSweep = nil
	}

	if d.Audit != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain audit events: %w", err))
		}
	}

	if closer, ok := d.KV.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close key-value store: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}
	if d.SQLite != nil {
		if err := d.SQLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sqlite store: %w", err))
		}
	}

	if d.shutdownTracer != nil {
		if err := d.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
		}
	}
	if d.Meters != nil {
		if err := d.Meters.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop meter provider: %w", err))
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}

// closeQuietly releases whatever was opened before a failed initialization
func (d *Dependencies) closeQuietly() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = d.Close(ctx)
}
