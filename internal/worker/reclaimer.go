package worker

import (
	"context"
	"log/slog"
	"time"

	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/internal/queue"
)

type ReclaimerConfig struct {
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
}

// Reclaimer periodically takes over reviews left pending by a consumer that
// died between read and ack.
type Reclaimer struct {
	consumer  ReclaimConsumer
	cfg       ReclaimerConfig
	processor queue.MessageProcessor

	*lifecycle
}

func NewReclaimer(consumer ReclaimConsumer, cfg ReclaimerConfig, processor queue.MessageProcessor) *Reclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Reclaimer{
		consumer:  consumer,
		cfg:       cfg,
		processor: processor,
		lifecycle: newLifecycle(),
	}
}

// Run blocks until ctx is done or Stop is called.
func (r *Reclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "actioncore.worker.reclaimer",
	})

	defer r.exited()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopping():
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			r.ReclaimOnce(ctx)
		}
	}
}

// ReclaimOnce runs one reclaim cycle and returns how many messages it took over.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) int {
	messages, err := r.consumer.Reclaim(ctx, r.cfg.MinIdle, r.cfg.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
		return 0
	}
	if len(messages) > 0 {
		slog.InfoContext(ctx, "reclaimed stale reviews", "count", len(messages))
	}

	failed := 0
	for _, msg := range messages {
		if err := r.processor(ctx, msg); err != nil {
			failed++
		}
	}
	if failed > 0 {
		slog.WarnContext(ctx, "reclaimed reviews failed again", "failed", failed, "claimed", len(messages))
	}
	return len(messages)
}
