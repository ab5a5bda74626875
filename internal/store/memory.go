package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"selene.app/actioncore/internal/model"
)

type aggregateKey struct {
	tenant string
	typ    model.AggregateType
	id     string
}

type tenantKey struct {
	tenant string
	key    string
}

// Memory is a process-local backend for development and tests. Its stores share
// one lock; RunTx serializes multi-store work and undoes it on error.
type Memory struct {
	txMu sync.Mutex

	mu             sync.Mutex
	events         map[aggregateKey][]model.Event
	plans          map[tenantKey]model.Plan
	steps          map[tenantKey][]model.Step
	claims         map[tenantKey]model.IdempotencyClaim
	counters       map[string]int64
	gaps           map[tenantKey]model.GapRecord
	clarifications map[tenantKey]model.Clarification
}

func NewMemory() *Memory {
	return &Memory{
		events:         make(map[aggregateKey][]model.Event),
		plans:          make(map[tenantKey]model.Plan),
		steps:          make(map[tenantKey][]model.Step),
		claims:         make(map[tenantKey]model.IdempotencyClaim),
		counters:       make(map[string]int64),
		gaps:           make(map[tenantKey]model.GapRecord),
		clarifications: make(map[tenantKey]model.Clarification),
	}
}

type memState struct {
	Events         map[aggregateKey][]model.Event
	Plans          map[tenantKey]model.Plan
	Steps          map[tenantKey][]model.Step
	Claims         map[tenantKey]model.IdempotencyClaim
	Counters       map[string]int64
	Gaps           map[tenantKey]model.GapRecord
	Clarifications map[tenantKey]model.Clarification
}

// RunTx runs fn with exclusive use of the store. When fn fails every write it
// made is discarded.
func (m *Memory) RunTx(fn func() error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	saved := m.capture()
	if err := fn(); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

func (m *Memory) capture() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memState{
		Events:         copyMap(m.events),
		Plans:          copyMap(m.plans),
		Steps:          copyMap(m.steps),
		Claims:         copyMap(m.claims),
		Counters:       copyMap(m.counters),
		Gaps:           copyMap(m.gaps),
		Clarifications: copyMap(m.clarifications),
	}
}

func (m *Memory) restore(s memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = s.Events
	m.plans = s.Plans
	m.steps = s.Steps
	m.claims = s.Claims
	m.counters = s.Counters
	m.gaps = s.Gaps
	m.clarifications = s.Clarifications
}

// copyMap is shallow. Stored values are replaced, never mutated in place, and
// event slices only grow past the captured length.
func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *Memory) Events() EventStore                 { return memEvents{m} }
func (m *Memory) Plans() PlanStore                   { return memPlans{m} }
func (m *Memory) Claims() ClaimStore                 { return memClaims{m} }
func (m *Memory) Counters() CounterStore             { return memCounters{m} }
func (m *Memory) Gaps() GapStore                     { return memGaps{m} }
func (m *Memory) Clarifications() ClarificationStore { return memClarifications{m} }

// clone deep-copies through JSON so callers never share maps or slices with the store.
func clone[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory store: clone %T: %v", v, err))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("memory store: clone %T: %v", v, err))
	}
	return out
}

func planKey(tenantID string, planID int64) tenantKey {
	return tenantKey{tenant: tenantID, key: fmt.Sprint(planID)}
}

type memEvents struct{ m *Memory }

func (s memEvents) Head(_ context.Context, tenantID string, aggType model.AggregateType, aggregateID string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return int64(len(s.m.events[aggregateKey{tenantID, aggType, aggregateID}])), nil
}

func (s memEvents) Append(_ context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := checkBatch(events); err != nil {
		return err
	}
	first := events[0]
	k := aggregateKey{first.TenantID, first.AggregateType, first.AggregateID}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	head := int64(len(s.m.events[k]))
	if head != first.Sequence-1 {
		return fmt.Errorf("%w: %s %s head is %d, batch expects %d", model.ErrConflict, first.AggregateType, first.AggregateID, head, first.Sequence-1)
	}
	s.m.events[k] = append(s.m.events[k], clone(events)...)
	return nil
}

func (s memEvents) List(_ context.Context, tenantID string, aggType model.AggregateType, aggregateID string) ([]model.Event, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	evs := s.m.events[aggregateKey{tenantID, aggType, aggregateID}]
	if len(evs) == 0 {
		return nil, nil
	}
	return clone(evs), nil
}

type memPlans struct{ m *Memory }

func (s memPlans) Save(_ context.Context, plan model.Plan, steps []model.Step) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	k := planKey(plan.TenantID, plan.ID)
	s.m.plans[k] = clone(plan)

	merged := append([]model.Step(nil), s.m.steps[k]...)
	for _, st := range steps {
		replaced := false
		for i := range merged {
			if merged[i].ID == st.ID {
				merged[i] = clone(st)
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, clone(st))
		}
	}
	s.m.steps[k] = merged
	return nil
}

func (s memPlans) Get(_ context.Context, tenantID string, planID int64) (model.Plan, []model.Step, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	k := planKey(tenantID, planID)
	plan, ok := s.m.plans[k]
	if !ok {
		return model.Plan{}, nil, ErrNotFound
	}
	plan = clone(plan)
	return plan, orderSteps(plan, clone(s.m.steps[k])), nil
}

func (s memPlans) ListOperatorRequired(_ context.Context, tenantID string) ([]model.Plan, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.Plan
	for k, p := range s.m.plans {
		if k.tenant == tenantID && p.Status == model.PlanFailed && p.OperatorRequired {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

type memClaims struct{ m *Memory }

func (s memClaims) Claim(_ context.Context, claim model.IdempotencyClaim) (model.IdempotencyClaim, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	k := tenantKey{claim.TenantID, claim.Key}
	if existing, ok := s.m.claims[k]; ok {
		return clone(existing), false, nil
	}
	claim.LeasedAt = claim.CreatedAt
	s.m.claims[k] = clone(claim)
	return claim, true, nil
}

func (s memClaims) Lease(_ context.Context, tenantID, key string, at, staleBefore time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	k := tenantKey{tenantID, key}
	c, ok := s.m.claims[k]
	if !ok {
		return false, ErrNotFound
	}
	if c.CompletedAt != nil || c.LeasedAt.After(staleBefore) {
		return false, nil
	}
	c.LeasedAt = at
	s.m.claims[k] = c
	return true, nil
}

func (s memClaims) Release(_ context.Context, tenantID, key string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	k := tenantKey{tenantID, key}
	c, ok := s.m.claims[k]
	if !ok {
		return ErrNotFound
	}
	if c.CompletedAt == nil {
		c.LeasedAt = time.Unix(0, 0).UTC()
		s.m.claims[k] = c
	}
	return nil
}

func (s memClaims) Complete(_ context.Context, tenantID, key string, outcome model.DispatchOutcome, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	k := tenantKey{tenantID, key}
	c, ok := s.m.claims[k]
	if !ok {
		return ErrNotFound
	}
	if c.CompletedAt != nil {
		return nil
	}
	c.Outcome = &outcome
	c.CompletedAt = &at
	s.m.claims[k] = c
	return nil
}

func (s memClaims) Get(_ context.Context, tenantID, key string) (model.IdempotencyClaim, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.claims[tenantKey{tenantID, key}]
	if !ok {
		return model.IdempotencyClaim{}, ErrNotFound
	}
	return clone(c), nil
}

type memCounters struct{ m *Memory }

func (s memCounters) IncrementWithin(_ context.Context, limits []model.CounterLimit, _ time.Time) (*model.CounterLimit, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i := range limits {
		if s.m.counters[limits[i].Key]+1 > limits[i].Limit {
			breached := limits[i]
			return &breached, nil
		}
	}
	for _, l := range limits {
		s.m.counters[l.Key]++
	}
	return nil, nil
}

func (s memCounters) Get(_ context.Context, key string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.counters[key], nil
}

type memGaps struct{ m *Memory }

func (s memGaps) GetByID(_ context.Context, tenantID string, gapID int64) (model.GapRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	g, ok := s.m.gaps[planKey(tenantID, gapID)]
	if !ok {
		return model.GapRecord{}, ErrNotFound
	}
	return clone(g), nil
}

func (s memGaps) GetByDedupe(_ context.Context, tenantID, dedupeFingerprint string) (model.GapRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for k, g := range s.m.gaps {
		if k.tenant == tenantID && g.DedupeFingerprint == dedupeFingerprint {
			return clone(g), nil
		}
	}
	return model.GapRecord{}, ErrNotFound
}

func (s memGaps) FindOpenByRequest(_ context.Context, tenantID, requestFingerprint, beforeDay string) (model.GapRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var (
		best  model.GapRecord
		found bool
	)
	for k, g := range s.m.gaps {
		if k.tenant != tenantID || g.RequestFingerprint != requestFingerprint || g.DayBucket >= beforeDay || !g.Status.Open() {
			continue
		}
		if !found || g.DayBucket < best.DayBucket || (g.DayBucket == best.DayBucket && g.ID < best.ID) {
			best, found = g, true
		}
	}
	if !found {
		return model.GapRecord{}, ErrNotFound
	}
	return clone(best), nil
}

func (s memGaps) Save(_ context.Context, gap model.GapRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	k := planKey(gap.TenantID, gap.ID)
	if _, exists := s.m.gaps[k]; !exists {
		for ok, g := range s.m.gaps {
			if ok.tenant == gap.TenantID && g.DedupeFingerprint == gap.DedupeFingerprint {
				return fmt.Errorf("%w: gap record for %s already exists", model.ErrConflict, gap.DedupeFingerprint)
			}
		}
	}
	s.m.gaps[k] = clone(gap)
	return nil
}

type memClarifications struct{ m *Memory }

func (s memClarifications) Get(_ context.Context, tenantID, cycleID string) (model.Clarification, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.clarifications[tenantKey{tenantID, cycleID}]
	if !ok {
		return model.Clarification{}, ErrNotFound
	}
	return clone(c), nil
}

func (s memClarifications) Save(_ context.Context, c model.Clarification) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.clarifications[tenantKey{c.TenantID, c.CycleID}] = clone(c)
	return nil
}
