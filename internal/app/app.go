package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/blueprint"
	"github.com/teresa-solution/tenant-provisioning-service/internal/config"
	"github.com/teresa-solution/tenant-provisioning-service/internal/crypto"
	"github.com/teresa-solution/tenant-provisioning-service/internal/events"
	"github.com/teresa-solution/tenant-provisioning-service/internal/jobs"
	"github.com/teresa-solution/tenant-provisioning-service/internal/platform"
	"github.com/teresa-solution/tenant-provisioning-service/internal/service"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
)

// App holds the wired components shared by the server and the CLI
type App struct {
	Config       *config.Config
	Store        store.TenantStore
	Queue        jobs.Queue
	Runner       *jobs.Runner
	Orchestrator *service.Orchestrator
	Tenants      *service.TenantService
	Reconciler   *service.Reconciler
	// Durable is false when jobs live in process memory only
	Durable bool

	redis     *redis.Client
	publisher events.Publisher
}

// SetupLogging configures the global zerolog logger
func SetupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if strings.EqualFold(cfg.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// New connects to Postgres, Redis and NATS as configured and wires the
// provisioning pipeline. Without REDIS_ADDR jobs and locks are in-process.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	clk := clock.New()
	a := &App{Config: cfg}

	cipher, err := crypto.NewCipher([]byte(cfg.Database.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	repo, err := store.NewTenantRepository(ctx, cfg.Database, cipher)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.Store = repo

	var locker jobs.Locker
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Store = store.NewCachedStore(repo, a.redis, cfg.Redis.CacheTTL)
		a.Queue = jobs.NewRedisQueue(a.redis, jobs.DefaultQueueKey, clk)
		locker = jobs.NewRedisLocker(a.redis, cfg.Jobs.LockTTL)
		a.Durable = true
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis for cache, job queue and tenant locks")
	} else {
		a.Queue = jobs.NewMemoryQueue(clk)
		locker = jobs.NewMemoryLocker()
		log.Warn().Msg("REDIS_ADDR not set, jobs are kept in memory and lost on restart")
	}

	pc, err := platform.NewClient(cfg.Platform)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}

	policy := service.RetryPolicy{MaxRetries: cfg.Jobs.MaxRetries, BaseDelay: cfg.Jobs.RetryBaseDelay}
	a.Orchestrator = service.NewOrchestrator(a.Store, blueprint.NewFileStore(cfg.TemplatePath), pc, a.Queue, policy, clk)

	if cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		a.publisher = pub
		a.Orchestrator.WithNotifier(events.NewNotifier(pub, cfg.NATS.Subject, clk))
	}

	a.Runner = jobs.NewRunner(a.Queue, locker, clk, jobs.Config{
		Workers:        cfg.Jobs.Workers,
		PollInterval:   cfg.Jobs.PollInterval,
		LockRetryDelay: cfg.Jobs.LockRetryDelay,
		JobTimeout:     cfg.Jobs.JobTimeout,
	})
	a.Runner.Handle(jobs.KindProvision, a.Orchestrator)
	a.Runner.Handle(jobs.KindCleanup, a.Orchestrator)

	a.Tenants = service.NewTenantService(a.Store, a.Orchestrator, pc)
	a.Reconciler = service.NewReconciler(a.Store, a.Orchestrator, clk, cfg.Jobs.StaleAfter)
	return a, nil
}

// Close releases every connection New opened
func (a *App) Close() error {
	var errs *multierror.Error
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.Store != nil {
		// CachedStore closes the Redis client along with the repository
		if err := a.Store.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if _, cached := a.Store.(*store.CachedStore); cached {
			return errs.ErrorOrNil()
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
