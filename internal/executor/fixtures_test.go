package executor_test

import (
	"context"
	"strconv"
	"sync"
	"time"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/store"
)

// memLedger keeps plans in the in-memory store. commitFn and loadFn let a
// test fail or stale a call.
type memLedger struct {
	mem      *store.Memory
	commitFn func(state projection.PlanState, events []model.Event) error
	loadFn   func() (projection.PlanState, bool)
}

func (l *memLedger) Load(ctx context.Context, tenantID string, planID int64) (projection.PlanState, error) {
	if l.loadFn != nil {
		if s, ok := l.loadFn(); ok {
			return s, nil
		}
	}
	events, err := l.mem.Events().List(ctx, tenantID, model.AggregatePlan, strconv.FormatInt(planID, 10))
	if err != nil {
		return projection.PlanState{}, err
	}
	if len(events) == 0 {
		return projection.PlanState{}, store.ErrNotFound
	}
	return projection.RebuildPlan(events)
}

func (l *memLedger) Commit(ctx context.Context, state projection.PlanState, events []model.Event) error {
	if l.commitFn != nil {
		if err := l.commitFn(state, events); err != nil {
			return err
		}
	}
	return l.mem.RunTx(func() error {
		if err := l.mem.Events().Append(ctx, events); err != nil {
			return err
		}
		return l.mem.Plans().Save(ctx, state.Plan, state.Steps)
	})
}

func (l *memLedger) Claim(ctx context.Context, claim model.IdempotencyClaim) (model.IdempotencyClaim, bool, error) {
	return l.mem.Claims().Claim(ctx, claim)
}

func (l *memLedger) CompleteClaim(ctx context.Context, tenantID, key string, outcome model.DispatchOutcome, at time.Time) error {
	return l.mem.Claims().Complete(ctx, tenantID, key, outcome, at)
}

func (l *memLedger) LeaseClaim(ctx context.Context, tenantID, key string, at, staleBefore time.Time) (bool, error) {
	return l.mem.Claims().Lease(ctx, tenantID, key, at, staleBefore)
}

func (l *memLedger) ReleaseClaim(ctx context.Context, tenantID, key string) error {
	return l.mem.Claims().Release(ctx, tenantID, key)
}

func (l *memLedger) events(tenantID string, planID int64) []model.Event {
	evs, _ := l.mem.Events().List(context.Background(), tenantID, model.AggregatePlan, strconv.FormatInt(planID, 10))
	return evs
}

type mockOracle struct {
	decideFn func(ctx context.Context, req model.AccessRequest) (model.AccessResult, error)
	requests []model.AccessRequest
}

func (m *mockOracle) Decide(ctx context.Context, req model.AccessRequest) (model.AccessResult, error) {
	m.requests = append(m.requests, req)
	if m.decideFn != nil {
		return m.decideFn(ctx, req)
	}
	return model.AccessResult{Decision: model.AccessAllow, DecisionRef: "acl:allow"}, nil
}

type mockEffects struct {
	mu         sync.Mutex
	dispatchFn func(ctx context.Context, env model.DispatchEnvelope) (model.DispatchOutcome, error)
	envelopes  []model.DispatchEnvelope
}

func (m *mockEffects) Dispatch(ctx context.Context, env model.DispatchEnvelope) (model.DispatchOutcome, error) {
	m.mu.Lock()
	m.envelopes = append(m.envelopes, env)
	m.mu.Unlock()
	if m.dispatchFn != nil {
		return m.dispatchFn(ctx, env)
	}
	return model.DispatchOutcome{Status: model.DispatchSucceeded, ProofRef: "fx:" + env.IdempotencyKey}, nil
}

func (m *mockEffects) calls() []model.DispatchEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DispatchEnvelope(nil), m.envelopes...)
}

// byCapability answers each capability with a fixed sequence of outcomes; the
// last one repeats.
func byCapability(outcomes map[string][]model.DispatchStatus) func(context.Context, model.DispatchEnvelope) (model.DispatchOutcome, error) {
	var mu sync.Mutex
	seen := map[string]int{}
	return func(_ context.Context, env model.DispatchEnvelope) (model.DispatchOutcome, error) {
		mu.Lock()
		defer mu.Unlock()
		seq, ok := outcomes[env.CapabilityID]
		if !ok || len(seq) == 0 {
			return model.DispatchOutcome{Status: model.DispatchSucceeded, ProofRef: "fx:" + env.IdempotencyKey}, nil
		}
		n := seen[env.CapabilityID]
		seen[env.CapabilityID] = n + 1
		if n >= len(seq) {
			n = len(seq) - 1
		}
		return model.DispatchOutcome{Status: seq[n], ProofRef: "fx:" + env.IdempotencyKey}, nil
	}
}

func counter(start int64) func() int64 {
	var mu sync.Mutex
	next := start
	return func() int64 {
		mu.Lock()
		defer mu.Unlock()
		next++
		return next
	}
}
