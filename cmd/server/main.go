package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"selene.app/actioncore/common/id"
	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/common/otel"
	"selene.app/actioncore/core/config"
	"selene.app/actioncore/core/db"
	"selene.app/actioncore/internal/executor"
	"selene.app/actioncore/internal/gateway"
	"selene.app/actioncore/internal/http/middleware"
	httprouter "selene.app/actioncore/internal/http/router"
	"selene.app/actioncore/internal/queue"
	"selene.app/actioncore/internal/service"
	"selene.app/actioncore/internal/snapshot"
	"selene.app/actioncore/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("actioncore server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Telemetry first: the production log handler exports through its provider.
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "actioncore server starting",
		"env", cfg.Env,
		"store", cfg.Store,
		"otel", cfg.OTel.Enabled())

	if err := id.Init(cfg.NodeID); err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.GapQueue.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	health := map[string]httprouter.HealthCheck{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}

	txRunner, closeStore, err := openStore(ctx, cfg, health)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := checkAll(ctx, health); err != nil {
		return fmt.Errorf("startup dependency check: %w", err)
	}
	slog.InfoContext(ctx, "dependencies reachable", "checks", len(health))

	producer := queue.NewRedisProducer(redisClient, queue.ProducerConfig{
		ReportStream: cfg.GapQueue.ReportStream,
		ReviewStream: cfg.GapQueue.ReviewStream,
		NotifyStream: cfg.GapQueue.NotifyStream,
	})
	defer producer.Close()

	services := service.NewServices(service.ServicesConfig{
		TxRunner:  txRunner,
		Snapshots: snapshot.NewFileRegistry(cfg.Snapshots.Dir),
		Oracle:    gateway.NewAccessOracle(cfg.Gateway.AccessOracleURL, cfg.Gateway.Timeout, nil),
		Effects:   gateway.NewEffectExecutor(cfg.Gateway.EffectExecutorURL, cfg.Gateway.Timeout, nil),
		Forwarder: producer,
		Executor: executor.Config{
			LocalRetries: cfg.Gateway.LocalRetries,
			RetryBackoff: cfg.Gateway.RetryBackoff,
		},
		NewID: id.New,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, services, health),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "http server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
		}
		if telemetry != nil {
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}

// openStore picks the persistence backend. The postgres pool is migrated and
// registered as a health check; memory is for local runs only.
func openStore(ctx context.Context, cfg config.Config, health map[string]httprouter.HealthCheck) (store.TxRunner, func(), error) {
	if cfg.Store == config.StoreBackendMemory {
		slog.WarnContext(ctx, "using in-memory store, state is lost on restart")
		return store.NewMemoryTx(store.NewMemory()), func() {}, nil
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	health["postgres"] = database.Ping
	return store.NewPostgresTx(database), database.Close, nil
}

func setupRouter(cfg config.Config, services *service.Services, health map[string]httprouter.HealthCheck) *gin.Engine {
	router := gin.New()

	// The span must exist before Recovery and Logger read it.
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health"))

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{Health: health})
	return router
}

// checkAll runs every dependency check concurrently and fails on the first error.
func checkAll(ctx context.Context, checks map[string]httprouter.HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			if err := check(gctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
