package service

import (
	"context"
	"strconv"
	"time"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/store"
)

// PlanLedger is the executor's view of the store: plans are always loaded by
// replaying their event stream, and every commit writes events and projection
// together.
type PlanLedger struct {
	tx store.TxRunner
}

func NewPlanLedger(tx store.TxRunner) *PlanLedger {
	return &PlanLedger{tx: tx}
}

func (l *PlanLedger) Load(ctx context.Context, tenantID string, planID int64) (projection.PlanState, error) {
	events, err := l.tx.Backend().Events().List(ctx, tenantID, model.AggregatePlan, strconv.FormatInt(planID, 10))
	if err != nil {
		return projection.PlanState{}, err
	}
	if len(events) == 0 {
		return projection.PlanState{}, store.ErrNotFound
	}
	return projection.RebuildPlan(events)
}

func (l *PlanLedger) Commit(ctx context.Context, state projection.PlanState, events []model.Event) error {
	return l.tx.WithTx(ctx, func(b store.Backend) error {
		return commitPlan(ctx, b, state, events)
	})
}

func (l *PlanLedger) Claim(ctx context.Context, claim model.IdempotencyClaim) (model.IdempotencyClaim, bool, error) {
	return l.tx.Backend().Claims().Claim(ctx, claim)
}

func (l *PlanLedger) CompleteClaim(ctx context.Context, tenantID, key string, outcome model.DispatchOutcome, at time.Time) error {
	return l.tx.Backend().Claims().Complete(ctx, tenantID, key, outcome, at)
}

func (l *PlanLedger) LeaseClaim(ctx context.Context, tenantID, key string, at, staleBefore time.Time) (bool, error) {
	return l.tx.Backend().Claims().Lease(ctx, tenantID, key, at, staleBefore)
}

func (l *PlanLedger) ReleaseClaim(ctx context.Context, tenantID, key string) error {
	return l.tx.Backend().Claims().Release(ctx, tenantID, key)
}

func commitPlan(ctx context.Context, b store.Backend, state projection.PlanState, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := b.Events().Append(ctx, events); err != nil {
		return err
	}
	return b.Plans().Save(ctx, state.Plan, state.Steps)
}
