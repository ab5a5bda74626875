package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"selene.app/actioncore/common/id"
	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/common/otel"
	"selene.app/actioncore/core/config"
	"selene.app/actioncore/core/db"
	"selene.app/actioncore/internal/queue"
	"selene.app/actioncore/internal/service"
	"selene.app/actioncore/internal/store"
	"selene.app/actioncore/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("actioncore worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	telemetry, err := otel.Setup(sigCtx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	logger.Setup(cfg)

	slog.InfoContext(sigCtx, "actioncore gap review worker starting",
		"env", cfg.Env,
		"stream", cfg.GapQueue.ReviewStream,
		"consumer_group", cfg.GapQueue.ReviewGroup,
		"consumer_name", cfg.GapQueue.ConsumerName)

	// Offset from the server's node so both processes can mint ids.
	if err := id.Init(cfg.NodeID + 1); err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	database, err := db.New(sigCtx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.GapQueue.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(sigCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	consumer, err := queue.NewRedisConsumer(sigCtx, redisClient, queue.ConsumerConfig{
		Stream:       cfg.GapQueue.ReviewStream,
		Group:        cfg.GapQueue.ReviewGroup,
		Consumer:     cfg.GapQueue.ConsumerName,
		DLQStream:    cfg.GapQueue.ReviewDLQ,
		BatchSize:    cfg.GapQueue.BatchSize,
		Block:        cfg.GapQueue.Block,
		MaxAttempts:  cfg.GapQueue.MaxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	producer := queue.NewRedisProducer(redisClient, queue.ProducerConfig{
		ReportStream: cfg.GapQueue.ReportStream,
		ReviewStream: cfg.GapQueue.ReviewStream,
		NotifyStream: cfg.GapQueue.NotifyStream,
	})

	gaps := service.NewGapReviewService(store.NewPostgresTx(database), id.New, time.Now)
	w := worker.New(consumer, gaps, producer, worker.Config{
		MaxAttempts: cfg.GapQueue.MaxAttempts,
	})
	reclaimer := worker.NewReclaimer(consumer, worker.ReclaimerConfig{
		MinIdle:   5 * time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	}, w.Handle)

	// The loops get their own context so a signal lets the in-flight review
	// finish; it is only cancelled when the drain deadline passes.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	var g errgroup.Group
	g.Go(func() error {
		if err := w.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		reclaimer.Run(runCtx)
		return nil
	})

	<-sigCtx.Done()
	slog.Info("draining gap review worker")

	drained := make(chan struct{})
	go func() {
		reclaimer.Stop()
		w.Stop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		slog.Warn("drain deadline exceeded, cancelling in-flight work")
		cancelRun()
	}
	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if telemetry != nil {
		if tErr := telemetry.Shutdown(shutdownCtx); tErr != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", tErr)
		}
	}

	slog.Info("worker shutdown complete")
	return err
}
