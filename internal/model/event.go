package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type AggregateType string

const (
	AggregatePlan          AggregateType = "plan"
	AggregateGap           AggregateType = "gap"
	AggregateClarification AggregateType = "clarification"
	AggregateCycle         AggregateType = "cycle"
)

type EventType string

const (
	EventPlanCreated        EventType = "plan.created"
	EventPlanTransitioned   EventType = "plan.transitioned"
	EventStepTransitioned   EventType = "step.transitioned"
	EventStepFieldsSupplied EventType = "step.fields_supplied"

	EventGapCreated      EventType = "gap.created"
	EventGapMerged       EventType = "gap.merged"
	EventGapTransitioned EventType = "gap.transitioned"

	EventClarificationOpened EventType = "clarification.opened"
	EventClarificationClosed EventType = "clarification.closed"

	EventResolutionDecided EventType = "resolution.decided"
)

// Event is one append-only ledger entry. Sequence is contiguous per aggregate,
// starting at 1.
type Event struct {
	ID            int64           `json:"id"`
	TenantID      string          `json:"tenant_id"`
	AggregateType AggregateType   `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Sequence      int64           `json:"sequence"`
	Type          EventType       `json:"type"`
	EntityID      string          `json:"entity_id,omitempty"`
	From          string          `json:"from,omitempty"`
	To            string          `json:"to,omitempty"`
	Reason        ReasonCode      `json:"reason,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s event %d has no payload", ErrReplayIntegrity, e.Type, e.Sequence)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: decoding %s event %d: %v", ErrReplayIntegrity, e.Type, e.Sequence, err)
	}
	return nil
}

// EventBatch accumulates events for one aggregate, numbering them after the
// last persisted sequence.
type EventBatch struct {
	TenantID      string
	AggregateType AggregateType
	AggregateID   string
	// BaseSequence is the last sequence already in the ledger; Append expects it.
	BaseSequence int64

	newID  func() int64
	now    time.Time
	events []Event
}

func NewEventBatch(tenantID string, typ AggregateType, aggregateID string, baseSeq int64, now time.Time, newID func() int64) *EventBatch {
	return &EventBatch{
		TenantID:      tenantID,
		AggregateType: typ,
		AggregateID:   aggregateID,
		BaseSequence:  baseSeq,
		newID:         newID,
		now:           now.UTC(),
	}
}

// Add appends an event. payload may be nil.
func (b *EventBatch) Add(typ EventType, entityID, from, to string, reason ReasonCode, payload any) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encoding %s payload: %w", typ, err)
		}
		raw = data
	}
	ev := Event{
		ID:            b.newID(),
		TenantID:      b.TenantID,
		AggregateType: b.AggregateType,
		AggregateID:   b.AggregateID,
		Sequence:      b.BaseSequence + int64(len(b.events)) + 1,
		Type:          typ,
		EntityID:      entityID,
		From:          from,
		To:            to,
		Reason:        reason,
		Payload:       raw,
		CreatedAt:     b.now,
	}
	b.events = append(b.events, ev)
	return ev, nil
}

func (b *EventBatch) Events() []Event { return b.events }

func (b *EventBatch) Len() int { return len(b.events) }

// LastSequence is the sequence the aggregate will have once the batch is stored.
func (b *EventBatch) LastSequence() int64 {
	return b.BaseSequence + int64(len(b.events))
}
