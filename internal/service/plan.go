package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/go-cmp/cmp"

	"selene.app/actioncore/internal/executor"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/store"
)

type PlanView struct {
	State projection.PlanState
	Next  model.PendingAction
}

// ReplayReport is the outcome of rebuilding a plan from its events.
type ReplayReport struct {
	State  projection.PlanState
	Events int
}

type PlanService interface {
	Get(ctx context.Context, tenantID string, planID int64) (PlanView, error)
	Advance(ctx context.Context, turn executor.Turn) (executor.Result, error)
	Cancel(ctx context.Context, tenantID string, planID int64) (executor.Result, error)
	Replay(ctx context.Context, tenantID string, planID int64) (ReplayReport, error)
	ListOperatorRequired(ctx context.Context, tenantID string) ([]model.Plan, error)
}

type planService struct {
	tx    store.TxRunner
	snaps Snapshots
	exec  *executor.Executor
}

func NewPlanService(tx store.TxRunner, snaps Snapshots, exec *executor.Executor) PlanService {
	return &planService{tx: tx, snaps: snaps, exec: exec}
}

func (s *planService) Get(ctx context.Context, tenantID string, planID int64) (PlanView, error) {
	plan, steps, err := s.tx.Backend().Plans().Get(ctx, tenantID, planID)
	if err != nil {
		return PlanView{}, err
	}
	state := projection.PlanState{Plan: plan, Steps: steps}
	return PlanView{State: state, Next: executor.NextAction(state)}, nil
}

// Advance runs the turn against the current catalog and the lexicon version
// the plan was built with.
func (s *planService) Advance(ctx context.Context, turn executor.Turn) (executor.Result, error) {
	plan, _, err := s.tx.Backend().Plans().Get(ctx, turn.TenantID, turn.PlanID)
	if err != nil {
		return executor.Result{}, err
	}
	cat, err := s.snaps.Catalog(ctx, "")
	if err != nil {
		return executor.Result{}, err
	}
	lex, err := s.snaps.Lexicon(ctx, plan.LexiconVersion)
	if err != nil {
		return executor.Result{}, err
	}
	return s.exec.Advance(ctx, turn, cat, lex)
}

func (s *planService) Cancel(ctx context.Context, tenantID string, planID int64) (executor.Result, error) {
	return s.exec.Cancel(ctx, tenantID, planID)
}

// Replay rebuilds the plan from its event stream and compares it with the
// stored projection.
func (s *planService) Replay(ctx context.Context, tenantID string, planID int64) (ReplayReport, error) {
	b := s.tx.Backend()
	events, err := b.Events().List(ctx, tenantID, model.AggregatePlan, strconv.FormatInt(planID, 10))
	if err != nil {
		return ReplayReport{}, err
	}
	if len(events) == 0 {
		return ReplayReport{}, store.ErrNotFound
	}
	rebuilt, err := projection.RebuildPlan(events)
	if err != nil {
		return ReplayReport{}, err
	}
	plan, steps, err := b.Plans().Get(ctx, tenantID, planID)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("%w: projection missing for plan %d: %v", model.ErrReplayIntegrity, planID, err)
	}
	if diff := cmp.Diff(projection.PlanState{Plan: plan, Steps: steps}, rebuilt); diff != "" {
		return ReplayReport{}, fmt.Errorf("%w: plan %d projection differs from its events (-stored +rebuilt):\n%s", model.ErrReplayIntegrity, planID, diff)
	}
	return ReplayReport{State: rebuilt, Events: len(events)}, nil
}

func (s *planService) ListOperatorRequired(ctx context.Context, tenantID string) ([]model.Plan, error) {
	return s.tx.Backend().Plans().ListOperatorRequired(ctx, tenantID)
}
