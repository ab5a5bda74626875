package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/queue"
	"selene.app/actioncore/internal/service"
	"selene.app/actioncore/internal/store"
)

type Config struct {
	MaxAttempts  int
	ErrorBackoff time.Duration
}

// Worker applies reviewer decisions: PROPOSED → RESOLVED, requester
// notification, RESOLVED → NOTIFIED.
type Worker struct {
	consumer Consumer
	gaps     GapReviews
	notifier Notifier
	cfg      Config

	*lifecycle
}

func New(consumer Consumer, gaps GapReviews, notifier Notifier, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:  consumer,
		gaps:      gaps,
		notifier:  notifier,
		cfg:       cfg,
		lifecycle: newLifecycle(),
	}
}

// Run reads batches until ctx is done or Stop is called. A stop request is
// honoured between messages; the unprocessed rest of the batch stays pending
// for the reclaimer.
func (w *Worker) Run(ctx context.Context) error {
	defer w.exited()

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "actioncore.worker.gap_review"})
	slog.InfoContext(ctx, "gap review worker started")

	for {
		if err := w.processOneBatch(ctx); err != nil {
			slog.ErrorContext(ctx, "batch processing error", "error", err)
			t := time.NewTimer(w.cfg.ErrorBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopping():
			slog.InfoContext(ctx, "gap review worker stopping")
			return nil
		default:
		}
	}
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for i, msg := range messages {
		select {
		case <-w.stopping():
			slog.InfoContext(ctx, "stop requested mid-batch", "left_pending", len(messages)-i)
			return nil
		default:
		}
		// failures are already routed to requeue or the DLQ
		w.Handle(ctx, msg)
	}
	return nil
}

// Handle processes msg and routes a failure to requeue or the DLQ. It is the
// entry point shared with the reclaimer.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	err := w.processMessageSafe(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "review processing failed",
			"error", err,
			"message_id", msg.ID,
			"gap_id", msg.GapID)
		w.handleFailedMessage(ctx, msg, err)
	}
	return err
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in review processing",
				"panic", r,
				"message_id", msg.ID,
				"gap_id", msg.GapID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage applies one review and acks it. Each transition is idempotent
// so a redelivered review converges on NOTIFIED without a second notification
// once the record is past RESOLVED.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:  logger.Ptr(msg.TenantID),
		GapID:     logger.Ptr(msg.GapID),
		MessageID: logger.Ptr(msg.ID),
	})
	sc := logger.StartConsumerSpan(ctx, msg.TraceID, "worker.gap_review")
	defer sc.End()
	ctx = sc.Context()

	slog.InfoContext(ctx, "processing gap review", "attempt", msg.Attempt)

	rec, err := w.gaps.Resolve(ctx, msg.Review())
	if err != nil {
		sc.RecordError(err)
		return fmt.Errorf("resolving gap: %w", err)
	}

	if rec.Status != model.GapNotified {
		if err := w.notifier.Notify(ctx, service.Notification(rec)); err != nil {
			sc.RecordError(err)
			return fmt.Errorf("notifying requesters: %w", err)
		}
		if rec, err = w.gaps.MarkNotified(ctx, msg.TenantID, msg.GapID); err != nil {
			sc.RecordError(err)
			return fmt.Errorf("marking gap notified: %w", err)
		}
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Redelivery is safe: the record is already NOTIFIED.
		slog.WarnContext(ctx, "failed to ACK review", "error", err)
	}

	slog.InfoContext(ctx, "gap review applied", "status", rec.Status)
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if permanent(err) || msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "review cannot be applied, sending to DLQ",
			"message_id", msg.ID,
			"gap_id", msg.GapID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed review",
		"message_id", msg.ID,
		"gap_id", msg.GapID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue review", "error", requeueErr)
	}
}

// permanent errors fail the same way on every attempt.
func permanent(err error) bool {
	return errors.Is(err, model.ErrInvalidInput) ||
		errors.Is(err, model.ErrInvalidTransition) ||
		errors.Is(err, store.ErrNotFound)
}
