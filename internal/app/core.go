package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/audit"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/config"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/event"
	handler "github.com/LemonWares-Technology/sjfulfillment-sub001/internal/handler/http"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository/memory"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository/postgres"
	redisrepo "github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository/redis"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/service"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/subscription"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/migrations"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/database"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/httpclient"
	pkgkafka "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/kafka"
)

const serviceName = "fulfillment"

// Core is the storage, messaging and service graph shared by the HTTP server
// and the one-shot accrual command.
type Core struct {
	Store    repository.Store
	Services handler.Services

	cfg      *config.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	redis    *goredis.Client
	producer *pkgkafka.Producer
}

// NewCore connects to the configured backends and builds the services.
func NewCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	c := &Core{cfg: cfg, logger: logger}
	if err := c.build(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Core) build(ctx context.Context) error {
	cfg, logger := c.cfg, c.logger

	var sequence repository.OrderNumberSequence
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		if err := c.connectPostgres(ctx); err != nil {
			return err
		}
		c.Store = postgres.NewStore(c.pool)
		sequence = postgres.NewOrderNumberSequence(c.pool)
	default:
		c.Store = memory.NewStore(memory.WithLockTimeout(cfg.LockTimeout))
		sequence = memory.NewOrderNumberSequence()
		logger.Warn("using in-memory storage; data is lost on restart")
	}

	if cfg.RedisEnabled {
		client, err := database.NewRedisClient(ctx, database.RedisConfig{
			Host:        cfg.RedisHost,
			Port:        cfg.RedisPort,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		c.redis = client
		sequence = redisrepo.NewOrderNumberSequence(client)
		logger.Info("connected to Redis", slog.String("addr", client.Options().Addr))
	}

	var publisher pkgkafka.Publisher = logPublisher{logger: logger}
	if cfg.KafkaEnabled {
		c.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := pingKafkaWithRetry(ctx, c.producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		publisher = c.producer
	}

	var sink audit.Sink = audit.NewLogSink(logger)
	if cfg.AuditSink == "kafka" {
		sink = audit.NewKafkaSink(publisher, logger)
	}

	subs, err := c.subscriptionReader()
	if err != nil {
		return err
	}

	events := event.NewProducer(publisher, logger)
	ledger := service.NewLedger(c.Store, events, sink, logger)
	allocator := service.NewAllocator(c.Store, ledger, logger)
	orders := service.NewOrderService(c.Store, allocator, sequence, events, sink, logger, cfg.WarehouseReassignPolicy)
	products := service.NewProductService(c.Store, ledger, sink, logger)

	c.Services = handler.Services{
		Ledger:   ledger,
		Orders:   orders,
		Products: products,
		Bulk:     service.NewBulkExecutor(orders, products, sink, logger, cfg.BulkMaxItems, cfg.BulkConcurrency),
		Billing:  service.NewBillingService(c.Store, subs, events, sink, logger, cfg.BillingLocation()),
	}
	return nil
}

func (c *Core) connectPostgres(ctx context.Context) error {
	cfg := c.cfg
	pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{
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
		LockTimeout:     cfg.LockTimeout,
		ApplicationName: serviceName,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	c.pool = pool
	c.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, serviceName)

	if cfg.RunMigrations {
		if err := database.RunMigrations(ctx, pool, migrations.FS, c.logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		c.logger.Info("database migrations completed")
	}

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, c.logger)
	}
	return nil
}

func (c *Core) subscriptionReader() (repository.SubscriptionReader, error) {
	switch c.cfg.SubscriptionSource {
	case "postgres":
		if c.pool == nil {
			return nil, errors.New("postgres subscription source needs the postgres storage driver")
		}
		return postgres.NewSubscriptionReader(c.pool), nil
	case "http":
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("subscription-service"),
			c.logger,
		)
		c.logger.Info("reading subscriptions over HTTP", slog.String("url", c.cfg.SubscriptionServiceURL))
		return subscription.NewClient(client, c.cfg.SubscriptionServiceURL, c.logger), nil
	default:
		return memory.NewSubscriptionReader(), nil
	}
}

// Close releases every backend connection. It is safe on a partly built Core.
func (c *Core) Close() error {
	var errs []error
	if c.producer != nil {
		if err := c.producer.Close(); err != nil {
			c.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
	return errors.Join(errs...)
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := producer.Ping(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
