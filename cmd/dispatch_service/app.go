package dispatchservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/observability"
	"ride-dispatch/internal/general/postgres"
	"ride-dispatch/internal/general/pricing"
	"ride-dispatch/internal/general/rabbitmq"
	"ride-dispatch/internal/general/redisgeo"
	"ride-dispatch/internal/general/websocket"
	dispatchservice "ride-dispatch/internal/software/dispatch/service"
	registryhandler "ride-dispatch/internal/software/registry/handler"
	registryservice "ride-dispatch/internal/software/registry/service"
	rideshandler "ride-dispatch/internal/software/rides/handler"
	ridesservice "ride-dispatch/internal/software/rides/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run wires the dispatch service and blocks until ctx is cancelled.
func Run(ctx context.Context, configPath string, maxConcurrent int) error {
	log := logger.New("dispatch-service")
	ctx = log.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "failed to load configuration", err, nil)
		return err
	}

	// Postgres holds ride requests and driver presence
	pool, err := postgres.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "db_connection_failed", "failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	// Redis answers proximity queries
	geo, err := redisgeo.NewIndex(ctx, cfg.Redis, log)
	if err != nil {
		log.Error(ctx, "redis_connection_failed", "failed to connect to Redis", err, nil)
		return err
	}
	defer geo.Close()

	// RabbitMQ carries requests, responses and status fanout
	rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "rabbitmq_connection_failed", "failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()
	pub := rabbitmq.NewMQPublisher(rmq)

	jwtManager := jwt.NewManager(cfg.JWT.SecretKey, 2*time.Hour)

	uow := postgres.NewUnitOfWork(pool)
	requestRepo := postgres.NewRideRequestRepo()
	presenceRepo := postgres.NewDriverPresenceRepo()

	estimator := pricing.NewFallback(pricing.NewClient(cfg.Pricing, log))

	registrySvc := registryservice.NewRegistryService(log, uow, presenceRepo, geo, pub, cfg.Dispatch)
	gateway := websocket.NewGateway(log, jwtManager, pub, registrySvc)
	ridesSvc := ridesservice.NewRideService(log, uow, requestRepo, registrySvc, estimator, pub, gateway, cfg.Dispatch)
	dispatchSvc := dispatchservice.NewDispatchService(log, uow, requestRepo, registrySvc, gateway, gateway, pub, rmq, cfg.Dispatch)

	dispatchSvc.RunBackgroundConsumers(ctx)

	mux := http.NewServeMux()
	registryhandler.NewRegistryHTTPHandler(registrySvc, log, jwtManager, gateway).RegisterRoutes(mux)
	rideshandler.NewRideHTTPHandler(ridesSvc, log, jwtManager).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	limitedHandler := withConcurrencyLimit(maxConcurrent, observability.CountHTTPRequests(mux))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           limitedHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("dispatch service started on port %d", cfg.HTTP.Port),
		map[string]any{"port": cfg.HTTP.Port, "max_concurrent": maxConcurrent},
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info(ctx, "shutdown_started", "shutting down HTTP server", nil)
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_shutdown_failed", "failed to gracefully shut down HTTP server", err, nil)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.HTTP.Port})
			return err
		}
	}

	return nil
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in progress at the same time.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
