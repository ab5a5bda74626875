package handler_test

import (
	"context"

	"selene.app/actioncore/internal/executor"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/service"
)

type mockResolutionService struct {
	resolveFn func(ctx context.Context, req service.ResolveRequest) (service.ResolveResult, error)
}

func (m *mockResolutionService) Resolve(ctx context.Context, req service.ResolveRequest) (service.ResolveResult, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, req)
	}
	return service.ResolveResult{}, nil
}

type mockPlanService struct {
	getFn     func(ctx context.Context, tenantID string, planID int64) (service.PlanView, error)
	advanceFn func(ctx context.Context, turn executor.Turn) (executor.Result, error)
	cancelFn  func(ctx context.Context, tenantID string, planID int64) (executor.Result, error)
	replayFn  func(ctx context.Context, tenantID string, planID int64) (service.ReplayReport, error)
	listFn    func(ctx context.Context, tenantID string) ([]model.Plan, error)
}

func (m *mockPlanService) Get(ctx context.Context, tenantID string, planID int64) (service.PlanView, error) {
	if m.getFn != nil {
		return m.getFn(ctx, tenantID, planID)
	}
	return service.PlanView{}, nil
}

func (m *mockPlanService) Advance(ctx context.Context, turn executor.Turn) (executor.Result, error) {
	if m.advanceFn != nil {
		return m.advanceFn(ctx, turn)
	}
	return executor.Result{}, nil
}

func (m *mockPlanService) Cancel(ctx context.Context, tenantID string, planID int64) (executor.Result, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, tenantID, planID)
	}
	return executor.Result{}, nil
}

func (m *mockPlanService) Replay(ctx context.Context, tenantID string, planID int64) (service.ReplayReport, error) {
	if m.replayFn != nil {
		return m.replayFn(ctx, tenantID, planID)
	}
	return service.ReplayReport{}, nil
}

func (m *mockPlanService) ListOperatorRequired(ctx context.Context, tenantID string) ([]model.Plan, error) {
	if m.listFn != nil {
		return m.listFn(ctx, tenantID)
	}
	return nil, nil
}
