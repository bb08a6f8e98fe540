package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/stockalloc/internal/cache"
	"github.com/utafrali/stockalloc/internal/client/order"
	"github.com/utafrali/stockalloc/internal/config"
	"github.com/utafrali/stockalloc/internal/event"
	handler "github.com/utafrali/stockalloc/internal/handler/http"
	"github.com/utafrali/stockalloc/internal/repository/postgres"
	"github.com/utafrali/stockalloc/internal/service"
	"github.com/utafrali/stockalloc/migrations"
	"github.com/utafrali/stockalloc/pkg/database"
	"github.com/utafrali/stockalloc/pkg/health"
	"github.com/utafrali/stockalloc/pkg/httpclient"
	pkgkafka "github.com/utafrali/stockalloc/pkg/kafka"
	"github.com/utafrali/stockalloc/pkg/tracing"
)

// App wires together all dependencies and runs the stock allocation service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	consumers      []*pkgkafka.Consumer
	sweeper        *service.ExpirySweeper
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    handler.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
		Tracer:          database.NewQueryTracer(cfg.SlowQueryThreshold(), logger),
	}
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, handler.ServiceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("host", cfg.RedisHost), slog.Int("port", cfg.RedisPort))

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Repositories and services.
	repos := postgres.NewRepositories(pool)
	scope := postgres.NewTransactionScope(pool)
	events := event.NewProducer(producer, logger)
	directory := cache.NewWarehouseDirectory(redisClient, repos.Warehouses, cfg.WarehouseCacheTTL(), logger)

	planner := service.NewPlanner(service.NewWarehouseSelector(directory), repos.Batches, logger)
	locks := service.NewLockManager(scope, repos, events, logger, cfg.LockTTL())
	recorder := service.NewConsumptionRecorder(scope, repos.Stocks, events, logger)
	svc := handler.Services{
		Planner:  planner,
		Locks:    locks,
		Recorder: recorder,
		Guard:    service.NewBatchLifecycleGuard(scope, logger),
		Report:   service.NewStockReport(repos.Stocks),
	}
	if cfg.OrderServiceURL != "" {
		httpCfg := httpclient.DefaultConfig(handler.ServiceName)
		httpCfg.Timeout = cfg.OrderServiceTimeout()
		httpCfg.MaxRetries = 1
		doer := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpCfg),
			httpclient.DefaultCircuitBreakerConfig("order-service"),
			logger,
		)
		orders := order.NewClient(doer, cfg.OrderServiceURL, cfg.OrderServiceTimeout(), logger)
		svc.Checkout = service.NewCheckoutCoordinator(planner, locks, recorder, scope, orders, logger)
	}
	sweeper := service.NewExpirySweeper(locks, repos.Batches, logger, cfg.LockSweepInterval())

	// Kafka consumers for payment and warehouse events.
	dedup := cache.NewEventStore(redisClient, time.Duration(cfg.EventDedupTTLHours)*time.Hour)
	consumers := event.NewConsumers(
		cfg.KafkaBrokers,
		cfg.KafkaEnableDLQ,
		event.NewConsumerHandler(locks, directory, logger),
		dedup,
		logger,
	)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	router := handler.NewRouter(svc, healthHandler, logger, cfg.PprofAllowedCIDRs)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		httpServer:     httpServer,
		consumers:      consumers,
		sweeper:        sweeper,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server, Kafka consumers and the expiry sweeper, then
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(a.consumers))

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for _, c := range a.consumers {
		go func(c *pkgkafka.Consumer) {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}(c)
	}

	go a.sweeper.Run(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops components in order: HTTP server, tracer, consumers,
// producer, Redis, PostgreSQL.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// Flush spans after the HTTP drain so in-flight request spans are kept.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// pinger is the part of the Kafka producer used for startup checks.
type pinger interface {
	Ping(ctx context.Context) error
}

const pingAttempts = 3

// pingKafkaWithRetry pings the producer with exponential backoff (1s, 2s
// with ±25% jitter between attempts).
func pingKafkaWithRetry(ctx context.Context, producer pinger, logger *slog.Logger) error {
	return pingWithBackoff(ctx, producer, logger, time.Second)
}

func pingWithBackoff(ctx context.Context, producer pinger, logger *slog.Logger, baseWait time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < pingAttempts; attempt++ {
		lastErr = producer.Ping(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == pingAttempts-1 {
			break
		}
		base := baseWait << uint(attempt)
		jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
		wait := base + jitter
		logger.Warn("kafka producer ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", pingAttempts),
			slog.Duration("backoff", wait),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("kafka producer ping failed after %d attempts: %w", pingAttempts, lastErr)
}
