package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/internal/executor"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/planner"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/resolver"
	"selene.app/actioncore/internal/store"
)

type ResolveRequest struct {
	Understanding model.Understanding
	// Pinned snapshot versions; empty selects the current one.
	CatalogVersion string
	PolicyVersion  string
}

type ResolveResult struct {
	Packet model.Packet
	Plan   *projection.PlanState
}

type ResolutionService interface {
	Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error)
}

type resolutionService struct {
	tx       store.TxRunner
	snaps    Snapshots
	resolver *resolver.Resolver
	builder  *planner.Builder
	exec     *executor.Executor
	newID    func() int64
	now      func() time.Time
}

func NewResolutionService(tx store.TxRunner, snaps Snapshots, r *resolver.Resolver, b *planner.Builder, exec *executor.Executor, newID func() int64, now func() time.Time) ResolutionService {
	if now == nil {
		now = time.Now
	}
	return &resolutionService{tx: tx, snaps: snaps, resolver: r, builder: b, exec: exec, newID: newID, now: now}
}

// Resolve produces the single packet for one turn. Gap intake, the cycle's
// clarification state, the plan of a Match and the resolution audit event are
// written in one transaction; a gap report is forwarded only after it commits.
func (s *resolutionService) Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	u := req.Understanding
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:  logger.Ptr(u.TenantID),
		CycleID:   logger.Ptr(u.CycleID),
		Component: "actioncore.service.resolution",
	})
	sc := logger.StartSpan(ctx, "service.resolve")
	defer sc.End()
	ctx = sc.Context()

	cat, err := s.snaps.Catalog(ctx, req.CatalogVersion)
	if err != nil {
		return ResolveResult{}, err
	}
	pol, err := s.snaps.Policy(ctx, u.TenantID, u.Language, req.PolicyVersion)
	if err != nil {
		return ResolveResult{}, err
	}

	var (
		res resolver.Resolution
		out ResolveResult
	)
	err = resolver.RetryConflict(func() error {
		return s.tx.WithTx(ctx, func(b store.Backend) error {
			var err error
			res, err = s.resolver.ResolveIn(ctx, b, u, cat, pol)
			if err != nil {
				return err
			}
			out = ResolveResult{Packet: res.Packet}
			if res.Packet.Kind == model.PacketMatch && res.Match != nil {
				state, events, err := s.materialize(ctx, u, *res.Match, cat, pol)
				if err != nil {
					return err
				}
				match := *out.Packet.Match
				match.PlanID = state.Plan.ID
				match.PlanFingerprint = state.Plan.Fingerprint
				match.PlanStatus = state.Plan.Status
				match.FirstAction = executor.NextAction(state)
				out.Packet.Match = &match
				out.Plan = &state
				if err := commitPlan(ctx, b, state, events); err != nil {
					return fmt.Errorf("commit resolution: %w", err)
				}
			}
			if err := s.audit(ctx, b, u, out.Packet); err != nil {
				return fmt.Errorf("commit resolution: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		sc.RecordError(err)
		return ResolveResult{}, err
	}

	s.resolver.Forward(ctx, &res)
	out.Packet.Gap = res.Packet.Gap
	if out.Plan != nil {
		ctx = logger.WithLogFields(ctx, logger.LogFields{PlanID: logger.Ptr(out.Plan.Plan.ID)})
	}
	slog.InfoContext(ctx, "resolution decided",
		"kind", out.Packet.Kind,
		"reason", out.Packet.Reason,
		"candidates", len(out.Packet.Candidates))
	return out, nil
}

func (s *resolutionService) materialize(ctx context.Context, u model.Understanding, cand model.Candidate, cat model.CatalogSnapshot, pol model.PolicySnapshot) (projection.PlanState, []model.Event, error) {
	templates, err := s.snaps.Templates(ctx)
	if err != nil {
		return projection.PlanState{}, nil, err
	}
	lex, err := s.snaps.Lexicon(ctx, "")
	if err != nil {
		return projection.PlanState{}, nil, err
	}
	built, err := s.builder.Build(planner.Input{
		Understanding:  u,
		Candidate:      cand,
		Catalog:        cat,
		Policy:         pol,
		Templates:      templates,
		LexiconVersion: lex.Version,
	})
	if err != nil {
		return projection.PlanState{}, nil, fmt.Errorf("build plan: %w", err)
	}
	opened, events, err := s.exec.Open(built.State)
	if err != nil {
		return projection.PlanState{}, nil, fmt.Errorf("open plan: %w", err)
	}
	return opened, append(built.Events, events...), nil
}

func (s *resolutionService) audit(ctx context.Context, b store.Backend, u model.Understanding, p model.Packet) error {
	head, err := b.Events().Head(ctx, u.TenantID, model.AggregateCycle, u.CycleID)
	if err != nil {
		return err
	}
	decided := projection.ResolutionDecided{
		Turn:           p.Turn,
		Kind:           p.Kind,
		CatalogVersion: p.CatalogVersion,
		PolicyRef:      p.PolicyRef,
		EvidenceRefs:   p.EvidenceRefs,
	}
	if len(p.Candidates) > 0 {
		decided.CandidateFingerprint = p.Candidates[0].Fingerprint
	}
	if p.Match != nil {
		decided.PlanID = p.Match.PlanID
	}
	if p.Gap != nil {
		decided.GapID = p.Gap.GapID
	}
	batch := model.NewEventBatch(u.TenantID, model.AggregateCycle, u.CycleID, head, s.now().UTC(), s.newID)
	if _, err := batch.Add(model.EventResolutionDecided, u.CycleID, "", string(p.Kind), p.Reason, decided); err != nil {
		return err
	}
	return b.Events().Append(ctx, batch.Events())
}
