package app

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/distributor-api/internal/domain/discount"
	"github.com/xenking/distributor-api/internal/domain/order"
	"github.com/xenking/distributor-api/internal/events"
	"github.com/xenking/distributor-api/internal/handler"
	"github.com/xenking/distributor-api/internal/storage/postgres"
	redisstore "github.com/xenking/distributor-api/internal/storage/redis"
	"github.com/xenking/distributor-api/internal/token"
	"github.com/xenking/distributor-api/pkg/health"
	"github.com/xenking/distributor-api/pkg/httpmiddleware"
)

const serviceName = "distributor-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCPauseCheck(time.Second))

	opts := []order.Option{
		order.WithEmptyOrders(cfg.Orders.AllowEmpty),
		order.WithPlaceTimeout(cfg.Orders.PlaceTimeout),
		order.WithMaxPerPage(cfg.Orders.MaxPerPage),
		order.WithTelemetry(m.TracerProvider(), m.MeterProvider()),
	}

	// Optional Redis-backed Idempotency-Key support.
	if cfg.Redis.Addr != "" {
		rdb, err := redisstore.NewClient(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		opts = append(opts, order.WithIdempotency(
			redisstore.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL, cfg.Redis.PendingTTL),
		))
		lg.Info("Idempotency keys enabled", zap.String("redis", cfg.Redis.Addr))
	}

	// Optional order.placed events.
	if brokers := slices.DeleteFunc(slices.Clone(cfg.Kafka.Brokers), func(s string) bool { return s == "" }); len(brokers) > 0 {
		producer := events.NewProducer(brokers, cfg.Kafka.Topic, cfg.Kafka.Buffer, lg.Named("events"))
		producer.Start()
		defer producer.Close()

		opts = append(opts, order.WithPublisher(events.NewPublisher(producer)))
		lg.Info("Order events enabled",
			zap.Strings("brokers", brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	// Repositories.
	ledgerRepo := postgres.NewLedgerRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	shopRepo := postgres.NewShopRepository(pool)
	txManager := postgres.NewTxManager(pool, cfg.Orders.LockTimeout)

	// Domain services.
	orderService := order.NewService(
		txManager,
		shopRepo,
		ledgerRepo,
		discount.NewLookup(discountRepo),
		orderRepo,
		opts...,
	)

	h := handler.NewHandler(orderService, token.NewJWT([]byte(cfg.Auth.Secret)))

	router := chi.NewRouter()
	router.Use(
		middleware.RealIP,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
		httpmiddleware.LogRequests(),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes())

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Orders.PlaceTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           router,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
