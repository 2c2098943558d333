package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/audit"
	"github.com/xela07ax/agent-orchestrator/internal/bus"
	"github.com/xela07ax/agent-orchestrator/internal/capability"
	"github.com/xela07ax/agent-orchestrator/internal/console/handler"
	"github.com/xela07ax/agent-orchestrator/internal/console/server"
	"github.com/xela07ax/agent-orchestrator/internal/engine"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
	"github.com/xela07ax/agent-orchestrator/internal/repository/postgres"
)

func newServeCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control plane, websocket streams and gRPC health service",
		RunE: func(*cobra.Command, []string) error {
			return serve(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to config file (default ./config.yaml or ./configs/config.yaml)")
	return cmd
}

func serve(configFile string) error {
	// 1. Конфигурация и логгер
	cfg, v, err := infra.LoadConfig(configFile)
	if err != nil {
		return err
	}
	logger, level, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	infra.WatchLogLevel(v, level, logger)

	// Контекст процесса: SIGINT/SIGTERM запускает graceful shutdown
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infra.InitTracing(appCtx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// 2. Метрики
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(promReg)

	// 3. Хранилище: Redis за ретраями и предохранителем
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	redisStore := infra.NewRedisStore(rdb)
	pingCtx, pingCancel := context.WithTimeout(appCtx, 3*time.Second)
	if err := redisStore.Ping(pingCtx); err != nil {
		// Побочные записи best-effort: без Redis control plane продолжает работать
		logger.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	pingCancel()

	store := engine.NewReliableStore(redisStore, engine.ReliabilitySettings{
		Name:        "redis",
		Attempts:    cfg.Engine.RetryAttempts,
		MaxRequests: cfg.Engine.CBMaxRequests,
		Interval:    cfg.Engine.CBInterval,
		Timeout:     cfg.Engine.CBTimeout,
		MaxFailures: cfg.Engine.CBMaxFailures,
	}, metrics)

	// 4. История действий и необязательный архив в Postgres
	activityOpts := []audit.Option{
		audit.WithCapacity(cfg.Engine.ActivityCapacity),
		audit.WithMetricsWindow(cfg.Engine.MetricsWindow),
		audit.WithDropCounter(metrics.DropCounter(engine.SideEffectActivity)),
	}
	var archive *audit.Archive
	if cfg.Database.URL != "" {
		repo, err := postgres.NewActivityRepo(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.Migrate(appCtx); err != nil {
			return err
		}

		archive = audit.NewArchive(repo, cfg.Engine.ArchiveBufferSize, cfg.Engine.ArchiveFlushInterval, logger)
		archive.OnBufferFill(func(n int) { metrics.ArchiveBufferFill.Set(float64(n)) })
		archive.Start()
		activityOpts = append(activityOpts, audit.WithArchive(archive))
		logger.Info("activity archive enabled")
	}
	activity := audit.NewActivityLog(store, logger, activityOpts...)

	// 5. Ядро: шина, heartbeat, реестр агентов
	events := bus.New(store, logger, bus.WithDropCounter(metrics.DropCounter(engine.SideEffectEvent)))
	beats := engine.NewHeartbeat(cfg.Engine.HeartbeatInterval, logger)
	beats.Start()

	registry := engine.NewRegistry(
		capability.DefaultCatalog(time.Now),
		activity,
		events,
		beats,
		store,
		metrics,
		logger,
		engine.WithDeployPolicy(cfg.Engine.DeployPolicy),
	)

	// gRPC health подписывается на реестр до первого развертывания
	grpcSrv, healthSrv := engine.NewGRPCServer(registry, logger)

	if cfg.Engine.SeedDefaultAgents {
		if err := registry.SeedDefaults(appCtx); err != nil {
			return err
		}
	}
	if cfg.Engine.ControlChannel {
		go engine.NewControlListener(store, registry, logger).Listen(appCtx)
	}

	// 6. HTTP: control plane и стримы
	gateway := engine.NewStreamGateway(registry, events, cfg.Engine.StreamInterval, metrics, logger)
	controlSrv := server.NewControlServer(cfg.Server, logger, promReg,
		handler.NewAgentHandler(registry, logger),
		handler.NewStreamHandler(gateway, cfg.Server.AllowedOrigins, logger),
	)

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      controlSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return appCtx },
	}

	lis, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)))
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC health server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()
	go func() {
		logger.Info("orchestrator started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	// 7. Graceful Shutdown
	var runErr error
	select {
	case <-appCtx.Done():
		logger.Info("orchestrator stopping...")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	healthSrv.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	grpcSrv.GracefulStop()

	registry.Shutdown()
	beats.Stop()
	if archive != nil {
		archive.Stop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", zap.Error(err))
	}

	logger.Info("orchestrator exited properly")
	return runErr
}
