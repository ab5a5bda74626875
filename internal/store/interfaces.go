package store

import (
	"context"
	"errors"
	"time"

	"selene.app/actioncore/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// EventStore is the append-only ledger. Append expects every event to belong to
// one aggregate with contiguous sequences following the stored head; any other
// head yields model.ErrConflict.
type EventStore interface {
	Append(ctx context.Context, events []model.Event) error
	List(ctx context.Context, tenantID string, aggType model.AggregateType, aggregateID string) ([]model.Event, error)
	Head(ctx context.Context, tenantID string, aggType model.AggregateType, aggregateID string) (int64, error)
}

// PlanStore holds the plan and step projection.
type PlanStore interface {
	Save(ctx context.Context, plan model.Plan, steps []model.Step) error
	Get(ctx context.Context, tenantID string, planID int64) (model.Plan, []model.Step, error)
	ListOperatorRequired(ctx context.Context, tenantID string) ([]model.Plan, error)
}

// ClaimStore records idempotency claims. Claim returns the stored claim and
// whether this call created it; a created claim is leased to the caller.
type ClaimStore interface {
	Claim(ctx context.Context, claim model.IdempotencyClaim) (model.IdempotencyClaim, bool, error)
	Complete(ctx context.Context, tenantID, key string, outcome model.DispatchOutcome, at time.Time) error
	Get(ctx context.Context, tenantID, key string) (model.IdempotencyClaim, error)
	// Lease takes over an unfinished claim whose lease is at or before
	// staleBefore. It reports false when the claim is completed or another
	// owner holds a fresh lease.
	Lease(ctx context.Context, tenantID, key string, at, staleBefore time.Time) (bool, error)
	// Release expires the lease of an unfinished claim so the next resumer
	// can take it immediately.
	Release(ctx context.Context, tenantID, key string) error
}

// CounterStore holds the gap intake rate-limit counters.
type CounterStore interface {
	// IncrementWithin adds one to every key when none would exceed its limit.
	// Otherwise nothing changes and the first breached limit is returned.
	IncrementWithin(ctx context.Context, limits []model.CounterLimit, now time.Time) (*model.CounterLimit, error)
	Get(ctx context.Context, key string) (int64, error)
}

type GapStore interface {
	GetByID(ctx context.Context, tenantID string, gapID int64) (model.GapRecord, error)
	GetByDedupe(ctx context.Context, tenantID, dedupeFingerprint string) (model.GapRecord, error)
	// FindOpenByRequest returns the oldest PROPOSED or RESOLVED record for the
	// request fingerprint from a day before the given bucket.
	FindOpenByRequest(ctx context.Context, tenantID, requestFingerprint, beforeDay string) (model.GapRecord, error)
	Save(ctx context.Context, gap model.GapRecord) error
}

type ClarificationStore interface {
	Get(ctx context.Context, tenantID, cycleID string) (model.Clarification, error)
	Save(ctx context.Context, c model.Clarification) error
}
