package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/internal/model"
)

type ProducerConfig struct {
	ReportStream string // PROPOSED gap reports for reviewers
	ReviewStream string // reviewer decisions, read by the worker
	NotifyStream string // requester notifications
}

// Producer writes gap reports, review decisions and notifications to their
// streams.
type Producer struct {
	client *redis.Client
	cfg    ProducerConfig
}

func NewRedisProducer(client *redis.Client, cfg ProducerConfig) *Producer {
	return &Producer{client: client, cfg: cfg}
}

// Forward publishes a PROPOSED report. It satisfies the resolver's gap forwarder.
func (p *Producer) Forward(ctx context.Context, report model.GapReport) error {
	values := map[string]any{
		"gap_id":             report.GapID,
		"tenant_id":          report.TenantID,
		"family":             report.Family,
		"normalized_request": report.NormalizedRequest,
		"dedupe_fingerprint": report.DedupeFingerprint,
		"day_bucket":         report.DayBucket,
		"occurrences":        report.Occurrences,
		"worthiness":         report.Worthiness.Score,
	}
	if err := p.add(ctx, p.cfg.ReportStream, values); err != nil {
		return fmt.Errorf("forward gap report: %w", err)
	}

	slog.InfoContext(ctx, "gap report forwarded",
		"gap_id", report.GapID,
		"family", report.Family,
		"occurrences", report.Occurrences)
	return nil
}

func (p *Producer) EnqueueReview(ctx context.Context, review model.GapReview) error {
	if err := p.add(ctx, p.cfg.ReviewStream, reviewValues(review, 1)); err != nil {
		return fmt.Errorf("enqueue gap review: %w", err)
	}
	return nil
}

func (p *Producer) Notify(ctx context.Context, note model.GapNotification) error {
	recipients, err := json.Marshal(note.Recipients)
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}
	values := map[string]any{
		"tenant_id":      note.TenantID,
		"gap_id":         note.GapID,
		"recipients":     string(recipients),
		"resolution_ref": note.ResolutionRef,
		"message":        note.Message,
	}
	if err := p.add(ctx, p.cfg.NotifyStream, values); err != nil {
		return fmt.Errorf("publish gap notification: %w", err)
	}

	slog.InfoContext(ctx, "gap notification published",
		"gap_id", note.GapID,
		"recipients", len(note.Recipients))
	return nil
}

// add stamps the caller's trace id so consumers can link back to it.
func (p *Producer) add(ctx context.Context, stream string, values map[string]any) error {
	if _, ok := values["trace_id"]; !ok {
		if traceID := logger.CurrentTraceID(ctx); traceID != "" {
			values["trace_id"] = traceID
		}
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Err()
}

func (p *Producer) Close() error {
	return p.client.Close()
}
