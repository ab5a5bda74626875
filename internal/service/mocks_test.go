package service_test

import (
	"context"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/gomega"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/store"
)

type mockOracle struct {
	decideFn func(ctx context.Context, req model.AccessRequest) (model.AccessResult, error)
}

func (m *mockOracle) Decide(ctx context.Context, req model.AccessRequest) (model.AccessResult, error) {
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

type mockForwarder struct {
	forwardFn func(ctx context.Context, report model.GapReport) error
	reports   []model.GapReport
}

func (m *mockForwarder) Forward(ctx context.Context, report model.GapReport) error {
	if m.forwardFn != nil {
		if err := m.forwardFn(ctx, report); err != nil {
			return err
		}
	}
	m.reports = append(m.reports, report)
	return nil
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

// seedGap writes a gap record that has reached status through the normal
// event path.
func seedGap(mem *store.Memory, gapID int64, status model.GapStatus, reporters []string, now time.Time, ids func() int64) model.GapRecord {
	ctx := context.Background()
	aggID := strconv.FormatInt(gapID, 10)
	batch := model.NewEventBatch("t1", model.AggregateGap, aggID, 0, now, ids)
	_, err := batch.Add(model.EventGapCreated, aggID, "", string(model.GapNew), model.ReasonNone, projection.GapCreated{
		Record: model.GapRecord{
			ID:                gapID,
			TenantID:          "t1",
			UserID:            reporters[0],
			Family:            "pizza",
			NormalizedRequest: "pizza.order|",
			DedupeFingerprint: "dfp:" + aggID,
			DayBucket:         model.DayBucket(now),
			Occurrences:       1,
			Reporters:         reporters,
		},
	})
	Expect(err).NotTo(HaveOccurred())
	reason := model.ReasonGapForwarded
	if status == model.GapBlocked {
		reason = model.ReasonGapBelowValueFloor
	}
	_, err = batch.Add(model.EventGapTransitioned, aggID, string(model.GapNew), string(status), reason, nil)
	Expect(err).NotTo(HaveOccurred())

	var state projection.GapState
	for _, ev := range batch.Events() {
		Expect(state.Apply(ev)).To(Succeed())
	}
	Expect(mem.Events().Append(ctx, batch.Events())).To(Succeed())
	Expect(mem.Gaps().Save(ctx, state.Record)).To(Succeed())
	return state.Record
}
