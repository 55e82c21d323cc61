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

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/cache"
	eventadapter "github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/events"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/gateway"
	grpcadapter "github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/grpc"
	httpadapter "github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/http"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/memory"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/metrics"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/notify"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/postgres"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/security"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	hub        *notify.Hub
	outbox     *eventadapter.OutboxWorker
	sweeps     *eventadapter.SweepScheduler
	cleanupFn  func(context.Context)
}

// storage is the repository set shared by the postgres and in-memory backends.
type storage struct {
	Orders      ports.OrderRepository
	Tabs        ports.TabRepository
	Payments    ports.PaymentRepository
	Points      ports.PointsRepository
	RewardRules ports.RewardRuleRepository
	Rewards     ports.RewardRepository
	Settings    ports.SettingsRepository
	Audit       ports.AuditLogRepository
	Idempotency ports.IdempotencyRepository
	Outbox      ports.OutboxRepository
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping order reconciliation service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage", cfg.Storage,
	)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Runtime, error) {
		cleanup()
		return nil, err
	}
	var readiness []func(context.Context) error

	var repos storage
	switch cfg.Storage {
	case StoragePostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxConns: cfg.MaxDBConns})
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fail(fmt.Errorf("gorm sql db: %w", err))
		}
		closers = append(closers, func() { _ = sqlDB.Close() })
		if cfg.Migrate {
			if err := postgres.RunMigrations(ctx, db); err != nil {
				return fail(fmt.Errorf("run migrations: %w", err))
			}
		}
		pg := postgres.NewRepositories(db)
		repos = storage(pg)
		readiness = append(readiness, sqlDB.PingContext)
	default:
		logger.Warn("using in-memory storage; state is lost on restart")
		mem := memory.NewRepositories()
		repos = storage{
			Orders:      mem.Orders,
			Tabs:        mem.Tabs,
			Payments:    mem.Payments,
			Points:      mem.Points,
			RewardRules: mem.RewardRules,
			Rewards:     mem.Rewards,
			Settings:    mem.Settings,
			Audit:       mem.Audit,
			Idempotency: mem.Idempotency,
			Outbox:      mem.Outbox,
		}
	}

	var (
		locker        ports.Locker = memory.NewLocker()
		settingsCache ports.SettingsCache
	)
	if cfg.RedisURL != "" {
		redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		locker = cacheadapter.NewRedisLocker(redisClient, cfg.LockMaxWait)
		settingsCache = cacheadapter.NewRedisSettingsCache(redisClient, cfg.SettingsCacheTTL)
		readiness = append(readiness, redisPing(redisClient))
	}

	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, nil)
		if err != nil {
			return fail(fmt.Errorf("init kafka publisher: %w", err))
		}
		closers = append(closers, func() { _ = kafka.Close() })
		publisher = kafka
	}

	recorder := metrics.NewRecorder()

	gatewayClient, err := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.GatewayBaseURL,
		SecretKey:     cfg.GatewaySecretKey,
		Timeout:       cfg.GatewayTimeout,
		MaxAttempts:   cfg.GatewayMaxAttempts,
		BaseBackoff:   cfg.GatewayBackoff,
		RatePerSecond: cfg.GatewayRatePerSecond,
		Burst:         cfg.GatewayBurst,
	}, recorder, logger)
	if err != nil {
		return fail(fmt.Errorf("init payment gateway: %w", err))
	}
	webhooks, err := gateway.NewWebhookVerifier(cfg.GatewaySecretKey)
	if err != nil {
		return fail(fmt.Errorf("init webhook verifier: %w", err))
	}

	var (
		inventory      ports.InventoryAdjuster
		localInventory *memory.Inventory
	)
	if cfg.InventoryGRPCTarget != "" {
		client, err := grpcadapter.DialInventory(cfg.InventoryGRPCTarget, 3*time.Second)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = client.Close() })
		inventory = client
	} else {
		localInventory = memory.NewInventory(cfg.InventoryStock)
		inventory = localInventory
	}

	hub := notify.NewHub(logger, cfg.WSAllowedOrigins)
	recorder.RegisterGaugeFunc("ws", "subscribers", "Connected websocket subscribers.", func() float64 {
		return float64(hub.Subscribers())
	})

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:        cfg.ServiceID,
			IdempotencyTTL:     cfg.IdempotencyTTL,
			MaxConflictRetries: cfg.MaxConflictRetries,
			LockTTL:            cfg.LockTTL,
			PaymentCallbackURL: cfg.PaymentCallbackURL,
			StalePaymentAge:    cfg.StalePaymentAge,
			SweepBatchSize:     cfg.SweepBatchSize,
		},
		Orders:        repos.Orders,
		Tabs:          repos.Tabs,
		Payments:      repos.Payments,
		Points:        repos.Points,
		RewardRules:   repos.RewardRules,
		Rewards:       repos.Rewards,
		Settings:      repos.Settings,
		Audit:         repos.Audit,
		Idempotency:   repos.Idempotency,
		Outbox:        repos.Outbox,
		Inventory:     inventory,
		Notifier:      hub,
		Gateway:       gatewayClient,
		Webhooks:      webhooks,
		Locker:        locker,
		SettingsCache: settingsCache,
		Metrics:       recorder,
		Logger:        logger,
	})

	tokens, err := security.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		return fail(fmt.Errorf("init token service: %w", err))
	}
	ready := func(ctx context.Context) error {
		for _, check := range readiness {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	handler := httpadapter.NewHandler(svc, tokens, hub, ready)
	router := httpadapter.NewRouter(handler, httpadapter.RouterOptions{
		Metrics:           recorder,
		RequestsPerSecond: cfg.HTTPRateLimit,
		Burst:             cfg.HTTPRateBurst,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.RegisterOrders(grpcServer, grpcadapter.NewOrderInternalServer(svc))
	if localInventory != nil {
		grpcadapter.RegisterInventory(grpcServer, grpcadapter.NewInventoryServer(localInventory))
	}

	outbox := eventadapter.NewOutboxWorker(logger, repos.Outbox, publisher, eventadapter.OutboxWorkerConfig{
		Interval:   cfg.OutboxPollInterval,
		BatchSize:  cfg.OutboxBatchSize,
		ClaimTTL:   cfg.OutboxClaimTTL,
		MaxRetries: cfg.OutboxMaxRetries,
	})
	sweeps, err := eventadapter.NewSweepScheduler(logger, sweepsFor(cfg, svc))
	if err != nil {
		return fail(err)
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		hub:        hub,
		outbox:     outbox,
		sweeps:     sweeps,
		cleanupFn: func(context.Context) {
			cleanup()
		},
	}, nil
}

func sweepsFor(cfg Config, svc *application.Service) []eventadapter.Sweep {
	return []eventadapter.Sweep{
		{Name: "reward_expiry", Schedule: cfg.RewardExpirySchedule, Run: svc.ExpireRewards, Timeout: time.Minute},
		{Name: "points_inactivity_expiry", Schedule: cfg.PointsExpirySchedule, Run: svc.ExpireInactivePoints, Timeout: 10 * time.Minute},
		{Name: "stale_payment_verify", Schedule: cfg.StalePaymentSchedule, Run: svc.VerifyStalePending, Timeout: 2 * time.Minute},
	}
}

func redisPing(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// RunAPI serves HTTP and gRPC together with the notification hub and the maintenance sweeps.
// In-memory storage cannot be shared with a separate worker process, so the outbox worker
// also runs in-process in that mode.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("listen gRPC: %w", err)
	}

	bgCtx, cancelBackground := context.WithCancel(ctx)
	background := r.startBackground(bgCtx, backgroundTasks(roleAPI, r.cfg.Storage))

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	cancelBackground()
	if err := background.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	r.cleanupFn(shutdownCtx)
	return runErr
}

// RunWorker publishes the outbox against shared storage.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r.cfg.Storage == StorageMemory {
		r.logger.Warn("worker started with in-memory storage; the api process already publishes its own outbox")
	}
	tasks := backgroundTasks(roleWorker, r.cfg.Storage)
	background := r.startBackground(ctx, tasks)
	r.logger.Info("worker started", "storage", r.cfg.Storage, "tasks", tasks)

	<-ctx.Done()
	r.logger.Info("shutdown signal received")
	err := background.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return err
}

type processRole string

const (
	roleAPI    processRole = "api"
	roleWorker processRole = "worker"
)

const (
	taskNotifyHub = "notify_hub"
	taskOutbox    = "outbox_worker"
	taskSweeps    = "sweep_scheduler"
)

// backgroundTasks lists the loops a process runs. Sweeps confirm orders and publish status
// notifications, so they run in the process that serves websocket subscribers.
func backgroundTasks(role processRole, storage string) []string {
	if role == roleWorker {
		return []string{taskOutbox}
	}
	tasks := []string{taskNotifyHub, taskSweeps}
	if storage == StorageMemory {
		tasks = append(tasks, taskOutbox)
	}
	return tasks
}

// startBackground runs the named loops until ctx is cancelled. Wait reports the first
// failure other than cancellation.
func (r *Runtime) startBackground(ctx context.Context, tasks []string) *errgroup.Group {
	loops := map[string]func(context.Context) error{
		taskNotifyHub: r.hub.Run,
		taskOutbox:    r.outbox.Run,
		taskSweeps:    r.sweeps.Run,
	}
	var g errgroup.Group
	for _, name := range tasks {
		name := name
		fn, ok := loops[name]
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("background task stopped", "task", name, "error", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return &g
}
