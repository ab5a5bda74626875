package store

import "selene.app/actioncore/core/db"

// Stores builds postgres-backed stores over a pool or a transaction.
type Stores struct {
	q db.DBTX
}

func NewStores(q db.DBTX) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Events() EventStore {
	return newEventStore(s.q)
}

func (s *Stores) Plans() PlanStore {
	return newPlanStore(s.q)
}

func (s *Stores) Claims() ClaimStore {
	return newClaimStore(s.q)
}

func (s *Stores) Counters() CounterStore {
	return newCounterStore(s.q)
}

func (s *Stores) Gaps() GapStore {
	return newGapStore(s.q)
}

func (s *Stores) Clarifications() ClarificationStore {
	return newClarificationStore(s.q)
}
