package store

import (
	"context"
	"fmt"

	"selene.app/actioncore/core/db"
	"selene.app/actioncore/internal/model"
)

type eventStore struct {
	q db.DBTX
}

func newEventStore(q db.DBTX) EventStore {
	return &eventStore{q: q}
}

// checkBatch verifies a batch targets a single aggregate with contiguous sequences.
func checkBatch(events []model.Event) error {
	first := events[0]
	for i, ev := range events {
		if ev.TenantID != first.TenantID || ev.AggregateType != first.AggregateType || ev.AggregateID != first.AggregateID {
			return fmt.Errorf("append: batch spans more than one aggregate")
		}
		if ev.Sequence != first.Sequence+int64(i) {
			return fmt.Errorf("append: non-contiguous sequence %d at position %d", ev.Sequence, i)
		}
	}
	return nil
}

func (s *eventStore) Head(ctx context.Context, tenantID string, aggType model.AggregateType, aggregateID string) (int64, error) {
	var head int64
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM events
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3`,
		tenantID, string(aggType), aggregateID,
	).Scan(&head)
	return head, err
}

func (s *eventStore) Append(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := checkBatch(events); err != nil {
		return err
	}
	first := events[0]
	head, err := s.Head(ctx, first.TenantID, first.AggregateType, first.AggregateID)
	if err != nil {
		return err
	}
	if head != first.Sequence-1 {
		return fmt.Errorf("%w: %s %s head is %d, batch expects %d", model.ErrConflict, first.AggregateType, first.AggregateID, head, first.Sequence-1)
	}

	for _, ev := range events {
		var payload []byte
		if len(ev.Payload) > 0 {
			payload = ev.Payload
		}
		_, err := s.q.Exec(ctx, `
			INSERT INTO events (id, tenant_id, aggregate_type, aggregate_id, sequence, event_type,
			                    entity_id, from_status, to_status, reason, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			ev.ID, ev.TenantID, string(ev.AggregateType), ev.AggregateID, ev.Sequence, string(ev.Type),
			ev.EntityID, ev.From, ev.To, string(ev.Reason), payload, ev.CreatedAt,
		)
		if err != nil {
			if db.UniqueViolation(err) {
				return fmt.Errorf("%w: %s %s sequence %d already written", model.ErrConflict, ev.AggregateType, ev.AggregateID, ev.Sequence)
			}
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

func (s *eventStore) List(ctx context.Context, tenantID string, aggType model.AggregateType, aggregateID string) ([]model.Event, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, tenant_id, aggregate_type, aggregate_id, sequence, event_type,
		       entity_id, from_status, to_status, reason, payload, created_at
		FROM events
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
		ORDER BY sequence`,
		tenantID, string(aggType), aggregateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			ev             model.Event
			aggT, evT, rsn string
			payload        []byte
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &aggT, &ev.AggregateID, &ev.Sequence, &evT,
			&ev.EntityID, &ev.From, &ev.To, &rsn, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.AggregateType = model.AggregateType(aggT)
		ev.Type = model.EventType(evT)
		ev.Reason = model.ReasonCode(rsn)
		ev.Payload = payload
		ev.CreatedAt = ev.CreatedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
