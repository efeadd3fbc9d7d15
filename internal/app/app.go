package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/config"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/event"
	handler "github.com/LemonWares-Technology/sjfulfillment-sub001/internal/handler/http"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/health"
	pkgkafka "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/kafka"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/tracing"
)

// billingActor is recorded as the actor of scheduled accruals.
const billingActor = "billing-scheduler"

// App wires together all dependencies and runs the fulfillment service.
type App struct {
	cfg             *config.Config
	logger          *slog.Logger
	core            *Core
	httpServer      *http.Server
	paymentConsumer *pkgkafka.Consumer
	tracerShutdown  func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	core, err := NewCore(ctx, cfg, logger)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, err
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		core:           core,
		tracerShutdown: tracerShutdown,
	}

	if cfg.KafkaEnabled {
		a.paymentConsumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:   cfg.KafkaBrokers,
			GroupID:   cfg.KafkaConsumerGroup,
			Topic:     event.TopicPaymentBillingCompleted,
			MinBytes:  1,
			MaxBytes:  10e6,
			EnableDLQ: true,
		}, pkgkafka.IdempotentHandler(a.idempotencyStore(), event.NewConsumer(core.Services.Billing, logger).HandlePaymentCompleted, logger), logger)
	}

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler.NewRouter(core.Services, a.healthHandler(), serviceName, logger),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// idempotencyStore keeps processed event ids in Redis when available so
// duplicates are caught across restarts and replicas.
func (a *App) idempotencyStore() pkgkafka.IdempotencyStore {
	if a.core.redis != nil {
		return pkgkafka.NewRedisIdempotencyStore(a.core.redis, "fulfillment:events", 24*time.Hour)
	}
	return pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
}

func (a *App) healthHandler() *health.Handler {
	h := health.NewHandler()
	h.RegisterCritical("storage", a.core.Store.Ping)
	if a.core.redis != nil {
		h.RegisterNonCritical("redis", func(ctx context.Context) error {
			return a.core.redis.Ping(ctx).Err()
		})
	}
	if a.core.producer != nil {
		h.RegisterNonCritical("kafka", a.core.producer.Ping)
	}
	return h
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server, the payment consumer and the billing job, then
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.paymentConsumer != nil {
		go func() {
			if err := a.paymentConsumer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("payment consumer: %w", err)
			}
		}()
	}

	if a.cfg.BillingAccrualEnabled {
		go a.runBillingAccrual(ctx, a.cfg.BillingAccrualInterval)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown())
}

// runBillingAccrual bills today's charges at start and then on every tick.
// Accrual is idempotent per merchant and day, so repeated runs are harmless.
func (a *App) runBillingAccrual(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.accrueToday(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) accrueToday(ctx context.Context) {
	records, err := a.core.Services.Billing.AccrueToday(ctx, nil, billingActor)
	if err != nil {
		a.logger.ErrorContext(ctx, "scheduled billing accrual failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "scheduled billing accrual completed", slog.Int("records", len(records)))
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumer
// 4. Kafka producer, Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.paymentConsumer != nil {
		if err := a.paymentConsumer.Close(); err != nil {
			a.logger.Error("payment consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.core.Close(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
