package worker

import (
	"context"
	"time"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/queue"
)

// Consumer abstracts the review stream for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

type ReclaimConsumer interface {
	Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
}

// GapReviews applies review transitions to gap records.
type GapReviews interface {
	Resolve(ctx context.Context, review model.GapReview) (model.GapRecord, error)
	MarkNotified(ctx context.Context, tenantID string, gapID int64) (model.GapRecord, error)
}

type Notifier interface {
	Notify(ctx context.Context, note model.GapNotification) error
}
