package service

import (
	"context"
	"time"

	"selene.app/actioncore/internal/executor"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/planner"
	"selene.app/actioncore/internal/resolver"
	"selene.app/actioncore/internal/store"
)

// AccessOracle serves both the resolver's precheck and the executor's gate.
type AccessOracle interface {
	Decide(ctx context.Context, req model.AccessRequest) (model.AccessResult, error)
}

type ServicesConfig struct {
	TxRunner  store.TxRunner
	Snapshots Snapshots
	Oracle    AccessOracle
	Effects   executor.EffectExecutor
	Forwarder resolver.GapForwarder
	Executor  executor.Config
	NewID     func() int64
	Now       func() time.Time
}

type Services struct {
	resolution ResolutionService
	plans      PlanService
	gaps       GapReviewService
}

func NewServices(cfg ServicesConfig) *Services {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	execCfg := cfg.Executor
	if execCfg.Now == nil {
		execCfg.Now = cfg.Now
	}
	if execCfg.NewID == nil {
		execCfg.NewID = cfg.NewID
	}

	exec := executor.New(NewPlanLedger(cfg.TxRunner), cfg.Oracle, cfg.Effects, execCfg)
	rtx := NewResolverTx(cfg.TxRunner)
	gaps := resolver.NewGapHandler(cfg.Forwarder, cfg.Now)
	res := resolver.New(rtx, cfg.Oracle, gaps, cfg.Now)
	builder := planner.New(cfg.NewID, cfg.Now)

	return &Services{
		resolution: NewResolutionService(cfg.TxRunner, cfg.Snapshots, res, builder, exec, cfg.NewID, cfg.Now),
		plans:      NewPlanService(cfg.TxRunner, cfg.Snapshots, exec),
		gaps:       NewGapReviewService(cfg.TxRunner, cfg.NewID, cfg.Now),
	}
}

func (s *Services) Resolution() ResolutionService { return s.resolution }

func (s *Services) Plans() PlanService { return s.plans }

func (s *Services) Gaps() GapReviewService { return s.gaps }
