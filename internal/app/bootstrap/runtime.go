package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/opsledger/treasury-infra/internal/adapters/cache"
	eventadapter "github.com/opsledger/treasury-infra/internal/adapters/events"
	httpadapter "github.com/opsledger/treasury-infra/internal/adapters/http"
	"github.com/opsledger/treasury-infra/internal/application"
	"github.com/opsledger/treasury-infra/internal/domain"
	"github.com/opsledger/treasury-infra/internal/monitoring"
	"github.com/opsledger/treasury-infra/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	alerts     *monitoring.AlertEngine
	consumer   *eventadapter.ConsumerWorker
	cleanupFn  func(context.Context)
}

// NewRuntime wires one instance of every core component. All dependencies are
// explicit: tests construct their own isolated instances the same way.
func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping treasury infra core",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"redis_enabled", cfg.RedisEnabled,
	)

	cleanup := func(context.Context) {}

	var sharedBackend ports.CacheBackend
	var eventLog ports.EventLog
	if cfg.RedisEnabled {
		redisClient, connErr := cacheadapter.Connect(ctx, cfg.RedisURL, cfg.RedisDialTimeout, cfg.RedisOpTimeout)
		if connErr != nil {
			return nil, fmt.Errorf("connect redis: %w", connErr)
		}
		if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
			// Reachability is not a boot requirement: every operation degrades
			// per-call and recovers when the store comes back.
			logger.Warn("redis unreachable at startup, operations will fall back until it recovers",
				"error", pingErr,
			)
		}
		sharedBackend = cacheadapter.NewRedisBackend(redisClient, cfg.CachePrefix, logger)
		eventLog = eventadapter.NewRedisStreamLog(redisClient, cfg.EventStream, cfg.EventRetention)
		cleanup = func(context.Context) { _ = redisClient.Close() }
	} else {
		logger.Info("running in local-only mode: no cross-process fan-out or durability")
		eventLog = eventadapter.NewLocalLog(cfg.EventRetention)
	}

	var forwarder ports.EventForwarder
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		kafkaForwarder, fwdErr := eventadapter.NewKafkaForwarder(cfg.KafkaBrokers, cfg.KafkaTopic)
		if fwdErr != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("init kafka forwarder: %w", fwdErr)
		}
		forwarder = kafkaForwarder
		prevCleanup := cleanup
		cleanup = func(c context.Context) {
			_ = kafkaForwarder.Close()
			prevCleanup(c)
		}
	}

	store := cacheadapter.NewStore(cacheadapter.StoreOptions{
		Shared:         sharedBackend,
		DefaultTTL:     cfg.DefaultCacheTTL,
		FallbackTTLCap: cfg.FallbackTTLCap,
		Logger:         logger,
	})
	tags := cacheadapter.NewTagIndex(store)
	warmer := cacheadapter.NewWarmer(store, logger)

	collector := monitoring.NewCollector(cfg.MetricBufferCap)
	alertEngine := monitoring.NewAlertEngine(monitoring.AlertEngineOptions{
		Collector:    collector,
		Logger:       logger,
		Capacity:     cfg.AlertBufferCap,
		DedupWindow:  cfg.DedupWindow,
		EvalInterval: cfg.EvalInterval,
	})
	for metric, t := range cfg.Thresholds {
		if thrErr := alertEngine.SetThreshold(metric, t); thrErr != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("register threshold: %w", thrErr)
		}
	}

	bus := eventadapter.NewBus(eventadapter.BusOptions{
		Log:       eventLog,
		Forwarder: forwarder,
		Logger:    logger,
	})

	// Raised alerts become bus events so dashboards and external consumers see
	// them like any other domain notification.
	alertEngine.OnAlert(func(ctx context.Context, alert domain.Alert) {
		_, _ = bus.Publish(ctx, domain.EventAlertTriggered, map[string]any{
			"alert_id": alert.ID,
			"title":    alert.Title,
			"message":  alert.Message,
			"level":    string(alert.Level),
		}, alert.Source, alert.Metadata)
	})

	// Every published event feeds the publish-rate metric the alerting rules
	// can watch.
	if subErr := bus.Subscribe([]domain.EventType{
		domain.EventTransactionCreated,
		domain.EventTransactionUpdated,
		domain.EventTransactionDeleted,
		domain.EventPaymentStatusChanged,
		domain.EventCacheInvalidated,
		domain.EventReportGenerated,
		domain.EventSystemHealth,
	}, func(_ context.Context, event domain.Event) error {
		collector.Record("events.published", 1, map[string]string{"type": string(event.Type)})
		return nil
	}); subErr != nil {
		cleanup(ctx)
		return nil, fmt.Errorf("subscribe metrics handler: %w", subErr)
	}

	svc := application.NewService(application.Dependencies{
		Config:  application.Config{Source: cfg.ServiceID},
		Cache:   store,
		Tags:    tags,
		Warmer:  warmer,
		Bus:     bus,
		Metrics: collector,
		Alerts:  alertEngine,
		Logger:  logger,
	})

	// The ops dashboard aggregates are the one warming target this layer owns;
	// business services register their own strategies through the service.
	if warmErr := svc.RegisterWarmingStrategy(cacheadapter.WarmingStrategy{
		Name: "ops-dashboard",
		Keys: []string{"dashboard:ops:alerts", "dashboard:ops:metrics"},
		TTL:  30 * time.Minute,
		Compute: func(_ context.Context, key string) (any, error) {
			switch key {
			case "dashboard:ops:alerts":
				return alertEngine.Alerts("", "", 20), nil
			default:
				return collector.Names(), nil
			}
		},
	}); warmErr != nil {
		cleanup(ctx)
		return nil, fmt.Errorf("register warming strategy: %w", warmErr)
	}

	handler := httpadapter.NewHandler(svc)
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		cleanup(ctx)
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	consumer := eventadapter.NewConsumerWorker(logger, bus, cfg.ConsumerGroup, cfg.ConsumerName)
	for _, eventType := range []domain.EventType{
		domain.EventTransactionCreated,
		domain.EventTransactionUpdated,
		domain.EventTransactionDeleted,
		domain.EventPaymentStatusChanged,
	} {
		if procErr := consumer.Handle(eventType, func(ctx context.Context, event domain.Event) error {
			id, _ := event.Data["transaction_id"].(string)
			svc.InvalidateTransactionCache(ctx, id)
			return nil
		}); procErr != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("register consumer processor: %w", procErr)
		}
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		alerts:     alertEngine,
		consumer:   consumer,
		cleanupFn:  cleanup,
	}, nil
}

// RunAPI serves the admin HTTP surface and gRPC health until shutdown.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

// RunWorker runs the alert evaluation loop and the consumer-group worker.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("alert evaluation loop started", "interval", r.cfg.EvalInterval.String())
		if err := r.alerts.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("alert engine: %w", err)
		}
	}()
	go func() {
		r.logger.Info("event consumer started", "group", r.cfg.ConsumerGroup, "consumer", r.cfg.ConsumerName)
		if err := r.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("consumer worker: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("worker failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}
