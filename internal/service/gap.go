package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/store"
)

// GapReviewService applies reviewer decisions to PROPOSED gap records and
// records that requesters were told.
type GapReviewService interface {
	Resolve(ctx context.Context, review model.GapReview) (model.GapRecord, error)
	MarkNotified(ctx context.Context, tenantID string, gapID int64) (model.GapRecord, error)
	Get(ctx context.Context, tenantID string, gapID int64) (model.GapRecord, error)
}

type gapReviewService struct {
	tx    store.TxRunner
	newID func() int64
	now   func() time.Time
}

func NewGapReviewService(tx store.TxRunner, newID func() int64, now func() time.Time) GapReviewService {
	if now == nil {
		now = time.Now
	}
	return &gapReviewService{tx: tx, newID: newID, now: now}
}

func (s *gapReviewService) Get(ctx context.Context, tenantID string, gapID int64) (model.GapRecord, error) {
	return s.tx.Backend().Gaps().GetByID(ctx, tenantID, gapID)
}

// Resolve moves the record to RESOLVED. A record that is already RESOLVED or
// NOTIFIED is returned unchanged so redelivered reviews are harmless.
func (s *gapReviewService) Resolve(ctx context.Context, review model.GapReview) (model.GapRecord, error) {
	if review.TenantID == "" || review.GapID == 0 || review.ResolutionRef == "" {
		return model.GapRecord{}, fmt.Errorf("%w: review needs tenant_id, gap_id and resolution_ref", model.ErrInvalidInput)
	}
	return s.transition(ctx, review.TenantID, review.GapID, model.GapProposed, model.GapResolved, model.ReasonGapResolved,
		&projection.GapTransition{ResolutionRef: review.ResolutionRef})
}

func (s *gapReviewService) MarkNotified(ctx context.Context, tenantID string, gapID int64) (model.GapRecord, error) {
	return s.transition(ctx, tenantID, gapID, model.GapResolved, model.GapNotified, model.ReasonGapNotified, nil)
}

func (s *gapReviewService) transition(ctx context.Context, tenantID string, gapID int64, from, to model.GapStatus, reason model.ReasonCode, payload *projection.GapTransition) (model.GapRecord, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:  logger.Ptr(tenantID),
		GapID:     logger.Ptr(gapID),
		Component: "actioncore.service.gap_review",
	})

	var out model.GapRecord
	err := s.tx.WithTx(ctx, func(b store.Backend) error {
		rec, err := b.Gaps().GetByID(ctx, tenantID, gapID)
		if err != nil {
			return err
		}
		if rec.Status != from {
			if reached(rec.Status, to) {
				out = rec
				return nil
			}
			return fmt.Errorf("%w: gap %d is %s, expected %s", model.ErrInvalidTransition, gapID, rec.Status, from)
		}

		state := projection.GapState{Record: rec}
		batch := model.NewEventBatch(tenantID, model.AggregateGap, strconv.FormatInt(gapID, 10), rec.Sequence, s.now().UTC(), s.newID)
		var p any
		if payload != nil {
			p = payload
		}
		ev, err := batch.Add(model.EventGapTransitioned, strconv.FormatInt(gapID, 10), string(from), string(to), reason, p)
		if err != nil {
			return err
		}
		if err := state.Apply(ev); err != nil {
			return err
		}
		if err := b.Events().Append(ctx, batch.Events()); err != nil {
			return err
		}
		if err := b.Gaps().Save(ctx, state.Record); err != nil {
			return err
		}
		out = state.Record
		return nil
	})
	if err != nil {
		return model.GapRecord{}, err
	}
	slog.InfoContext(ctx, "gap record transitioned", "status", out.Status)
	return out, nil
}

// reached reports whether status is target or lies past it on the review path.
func reached(status, target model.GapStatus) bool {
	switch target {
	case model.GapResolved:
		return status == model.GapResolved || status == model.GapNotified
	case model.GapNotified:
		return status == model.GapNotified
	}
	return false
}

// Notification builds the message sent to everyone who reported the gap.
func Notification(rec model.GapRecord) model.GapNotification {
	return model.GapNotification{
		TenantID:      rec.TenantID,
		GapID:         rec.ID,
		Recipients:    append([]string(nil), rec.Reporters...),
		ResolutionRef: rec.ResolutionRef,
		Message:       "The ability you asked for is now available.",
	}
}
