package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"selene.app/actioncore/common/id"
	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/store"
)

// AccessOracle answers whether a subject may perform an action.
type AccessOracle interface {
	Decide(ctx context.Context, req model.AccessRequest) (model.AccessResult, error)
}

// Resolver turns one cycle turn into exactly one packet, keeping the cycle's
// clarification state and the gap ledger in step with the decision.
type Resolver struct {
	tx     TxRunner
	oracle AccessOracle
	gaps   *GapHandler
	now    func() time.Time
}

func New(tx TxRunner, oracle AccessOracle, gaps *GapHandler, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{tx: tx, oracle: oracle, gaps: gaps, now: now}
}

// Resolution is the outcome of one cycle turn. Match is set only for a
// PacketMatch and still needs a plan built for it.
type Resolution struct {
	Packet   model.Packet
	Match    *model.Candidate
	Decision Decision
	Ranking  Ranking

	report *model.GapReport
}

// Resolve runs ResolveIn in its own transaction and forwards a newly
// PROPOSED gap once that transaction has committed.
func (r *Resolver) Resolve(ctx context.Context, u model.Understanding, cat model.CatalogSnapshot, pol model.PolicySnapshot) (Resolution, error) {
	var res Resolution
	err := RetryConflict(func() error {
		return r.tx.WithTx(ctx, func(s Stores) error {
			var err error
			res, err = r.ResolveIn(ctx, s, u, cat, pol)
			return err
		})
	})
	if err != nil {
		return Resolution{}, err
	}
	r.Forward(ctx, &res)
	return res, nil
}

// ResolveIn ranks the understanding against the pinned snapshots and produces
// exactly one packet. Gap intake and the cycle's clarification state are
// written through s, so the caller's transaction decides whether the turn
// happened at all. Call Forward after that transaction commits.
func (r *Resolver) ResolveIn(ctx context.Context, s Stores, u model.Understanding, cat model.CatalogSnapshot, pol model.PolicySnapshot) (Resolution, error) {
	if err := u.Validate(); err != nil {
		return Resolution{}, err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:  logger.Ptr(u.TenantID),
		CycleID:   logger.Ptr(u.CycleID),
		Component: "actioncore.resolver",
	})

	prev, err := clarification(ctx, s, u)
	if err != nil {
		return Resolution{}, err
	}

	ranking := Rank(u, cat, pol)
	decision := Decide(ranking, pol.Calibration, prev.Clarification.AttemptIndex)
	slog.DebugContext(ctx, "resolution decided",
		"outcome", decision.Outcome,
		"reason", decision.Reason,
		"candidates", len(ranking.Candidates),
		"attempts_used", prev.Clarification.AttemptIndex)

	base := model.Packet{
		TenantID:       u.TenantID,
		CycleID:        u.CycleID,
		Turn:           u.Turn,
		CatalogVersion: cat.Version,
		PolicyRef:      pol.Ref(),
		Candidates:     ranking.Candidates,
		EvidenceRefs:   evidenceRefs(u, ranking),
	}
	res := Resolution{Decision: decision, Ranking: ranking}

	var next *model.Clarification
	closeAs := model.ClarificationResolved

	switch decision.Outcome {
	case OutcomeMatch:
		top, _ := ranking.Top()
		denied, err := r.precheck(ctx, u, cat, pol, top)
		if err != nil {
			return Resolution{}, err
		}
		if denied {
			res.Packet = refuse(base, model.ReasonAccessDenied, "")
			break
		}
		base.Kind = model.PacketMatch
		base.Reason = decision.Reason
		base.Match = &model.MatchResult{Candidate: top}
		res.Packet = base
		res.Match = &top

	case OutcomeClarify:
		choice := IntentChoice()
		if !decision.AskIntent {
			choice = SelectField(ranking.Candidates, cat)
		}
		attempt := prev.Clarification.AttemptIndex + 1
		c := model.Clarification{
			ID:             id.New(),
			TenantID:       u.TenantID,
			CycleID:        u.CycleID,
			Field:          choice.Field,
			Question:       Question(choice.Field, attempt, choice.Shapes),
			AllowedShapes:  choice.Shapes,
			AttemptIndex:   attempt,
			AttemptCeiling: pol.Calibration.ClarifyCeiling,
			Escalation:     pol.Calibration.OnClarifyExhausted,
			AskedFields:    append(append([]string(nil), prev.Clarification.AskedFields...), choice.Field),
		}
		next = &c
		base.Kind = model.PacketClarify
		base.Reason = decision.Reason
		base.Clarify = &model.ClarifyResult{
			ClarificationID: c.ID,
			Field:           c.Field,
			Question:        c.Question,
			AllowedShapes:   c.AllowedShapes,
			AttemptIndex:    c.AttemptIndex,
			AttemptCeiling:  c.AttemptCeiling,
		}
		res.Packet = base

	case OutcomeCapabilityCheck:
		closeAs = model.ClarificationEscalated
		p, report, err := r.gaps.Check(ctx, s, u, cat, pol, base)
		if err != nil {
			return Resolution{}, err
		}
		res.Packet = p
		res.report = report

	default:
		if decision.Reason == model.ReasonClarifyExhausted {
			closeAs = model.ClarificationEscalated
		}
		res.Packet = refuse(base, decision.Reason, "")
	}

	if err := r.commitClarification(ctx, s, u, prev, closeAs, next); err != nil {
		return Resolution{}, err
	}
	if err := res.Packet.Validate(); err != nil {
		return Resolution{}, fmt.Errorf("resolver produced invalid packet: %w", err)
	}
	return res, nil
}

// Forward delivers the gap report of a committed resolution and marks the
// packet forwarded. A failed delivery leaves the gap PROPOSED and the packet
// unforwarded; the turn itself stands.
func (r *Resolver) Forward(ctx context.Context, res *Resolution) {
	if res.report == nil || r.gaps.forwarder == nil || res.Packet.Gap == nil {
		return
	}
	if err := r.gaps.Forward(ctx, *res.report); err != nil {
		slog.ErrorContext(ctx, "gap recorded but not forwarded", "gap_id", res.report.GapID, "error", err)
		return
	}
	gap := *res.Packet.Gap
	gap.Forwarded = true
	res.Packet.Gap = &gap
	res.report = nil
}

func evidenceRefs(u model.Understanding, ranking Ranking) []string {
	if top, ok := ranking.Top(); ok {
		return top.EvidenceRefs
	}
	if u.Artifact.Complete() {
		return []string{u.Artifact.String()}
	}
	return nil
}

// precheck asks the oracle before a match is reported. Only an explicit deny
// blocks; escalation is settled again at dispatch time.
func (r *Resolver) precheck(ctx context.Context, u model.Understanding, cat model.CatalogSnapshot, pol model.PolicySnapshot, top model.Candidate) (bool, error) {
	if r.oracle == nil || top.AccessAction == "" {
		return false, nil
	}
	res, err := r.oracle.Decide(ctx, model.AccessRequest{
		TenantID:  u.TenantID,
		SubjectID: u.Subject(),
		Action:    top.AccessAction,
		PolicyRef: pol.Ref(),
	})
	if err != nil {
		return false, fmt.Errorf("access precheck for %s: %w", top.CapabilityID, err)
	}
	if res.Decision == model.AccessDeny {
		slog.InfoContext(ctx, "match denied by access oracle",
			"capability", top.CapabilityID,
			"decision_ref", res.DecisionRef,
			"catalog_ref", catalogRef(cat, top.CapabilityID))
		return true, nil
	}
	return false, nil
}

func catalogRef(cat model.CatalogSnapshot, capabilityID string) string {
	if c, ok := cat.Get(capabilityID); ok {
		return cat.Ref(c)
	}
	return ""
}

func clarification(ctx context.Context, s Stores, u model.Understanding) (projection.ClarificationState, error) {
	var state projection.ClarificationState
	c, err := s.Clarifications().Get(ctx, u.TenantID, u.CycleID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return state, nil
	case err != nil:
		return state, fmt.Errorf("load clarification: %w", err)
	}
	state.Clarification = c
	return state, nil
}

// commitClarification closes the open question of the cycle, if any, and opens
// next when set. The cycle id is the aggregate id.
func (r *Resolver) commitClarification(ctx context.Context, s Stores, u model.Understanding, prev projection.ClarificationState, closeAs model.ClarificationStatus, next *model.Clarification) error {
	open := prev.Clarification.Status == model.ClarificationOpen
	if !open && next == nil {
		return nil
	}

	state := prev
	batch := model.NewEventBatch(u.TenantID, model.AggregateClarification, u.CycleID, prev.Clarification.Sequence, r.now().UTC(), id.New)
	if open {
		if _, err := batch.Add(model.EventClarificationClosed, u.CycleID,
			string(model.ClarificationOpen), string(closeAs), model.ReasonNone,
			projection.ClarificationClosed{AttemptIndex: prev.Clarification.AttemptIndex}); err != nil {
			return err
		}
	}
	if next != nil {
		from := prev.Clarification.Status
		if open {
			from = closeAs
		}
		if _, err := batch.Add(model.EventClarificationOpened, u.CycleID,
			string(from), string(model.ClarificationOpen), model.ReasonNone, next); err != nil {
			return err
		}
	}
	for _, ev := range batch.Events() {
		if err := state.Apply(ev); err != nil {
			return err
		}
	}

	if err := s.Events().Append(ctx, batch.Events()); err != nil {
		return fmt.Errorf("commit clarification: %w", err)
	}
	if err := s.Clarifications().Save(ctx, state.Clarification); err != nil {
		return fmt.Errorf("commit clarification: %w", err)
	}
	return nil
}
