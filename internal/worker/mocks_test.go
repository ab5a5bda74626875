package worker_test

import (
	"context"
	"sync"
	"time"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/queue"
)

type mockConsumer struct {
	mu        sync.Mutex
	readFn    func(ctx context.Context) ([]queue.Message, error)
	reclaimFn func(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
	ackErr    error

	acked    []string
	requeued []queue.Message
	dlq      []queue.Message
	errors   []string
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	if m.readFn != nil {
		return m.readFn(ctx)
	}
	return nil, nil
}

func (m *mockConsumer) Ack(_ context.Context, msg queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, msg.ID)
	return m.ackErr
}

func (m *mockConsumer) Requeue(_ context.Context, msg queue.Message, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, msg)
	m.errors = append(m.errors, errMsg)
	return nil
}

func (m *mockConsumer) SendDLQ(_ context.Context, msg queue.Message, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, msg)
	m.errors = append(m.errors, errMsg)
	return nil
}

func (m *mockConsumer) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error) {
	if m.reclaimFn != nil {
		return m.reclaimFn(ctx, minIdle, count)
	}
	return nil, nil
}

type mockGaps struct {
	resolveFn      func(ctx context.Context, review model.GapReview) (model.GapRecord, error)
	markNotifiedFn func(ctx context.Context, tenantID string, gapID int64) (model.GapRecord, error)

	mu       sync.Mutex
	notified int
}

func (m *mockGaps) notifiedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notified
}

func (m *mockGaps) Resolve(ctx context.Context, review model.GapReview) (model.GapRecord, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, review)
	}
	return model.GapRecord{
		ID:            review.GapID,
		TenantID:      review.TenantID,
		Status:        model.GapResolved,
		ResolutionRef: review.ResolutionRef,
		Reporters:     []string{"u1", "u2"},
	}, nil
}

func (m *mockGaps) MarkNotified(ctx context.Context, tenantID string, gapID int64) (model.GapRecord, error) {
	m.mu.Lock()
	m.notified++
	m.mu.Unlock()
	if m.markNotifiedFn != nil {
		return m.markNotifiedFn(ctx, tenantID, gapID)
	}
	return model.GapRecord{ID: gapID, TenantID: tenantID, Status: model.GapNotified}, nil
}

type mockNotifier struct {
	notifyFn func(ctx context.Context, note model.GapNotification) error
	notes    []model.GapNotification
}

func (m *mockNotifier) Notify(ctx context.Context, note model.GapNotification) error {
	if m.notifyFn != nil {
		if err := m.notifyFn(ctx, note); err != nil {
			return err
		}
	}
	m.notes = append(m.notes, note)
	return nil
}
