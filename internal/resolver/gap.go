package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"selene.app/actioncore/common/id"
	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/store"
)

// GapForwarder delivers PROPOSED gap reports for review.
type GapForwarder interface {
	Forward(ctx context.Context, report model.GapReport) error
}

type GapHandler struct {
	forwarder GapForwarder
	now       func() time.Time
}

func NewGapHandler(forwarder GapForwarder, now func() time.Time) *GapHandler {
	if now == nil {
		now = time.Now
	}
	return &GapHandler{forwarder: forwarder, now: now}
}

// NormalizeRequest is the lowercase, space-collapsed intent followed by the
// sorted supplied field names.
func NormalizeRequest(u model.Understanding) string {
	intent := strings.Join(strings.Fields(strings.ToLower(u.Intent)), " ")
	return intent + "|" + strings.Join(u.FieldNames(), ",")
}

func RequestFingerprint(tenantID, normalized string) string {
	return model.NewHasher("gap-request").String(tenantID).String(normalized).Sum()
}

func DedupeFingerprint(requestFingerprint, day string) string {
	return requestFingerprint + ":" + day
}

// ComputeWorthiness scores a gap from the family estimates and its occurrence count.
func ComputeWorthiness(g model.GapPolicy, family string, occurrences int64) model.Worthiness {
	value, feasibility, risk := g.Estimates(family)
	value, feasibility, risk = model.ClampScore(value), model.ClampScore(feasibility), model.ClampScore(risk)
	freq := 10000
	if occurrences < 10 {
		freq = int(occurrences) * 1000
	}
	roi := value * feasibility / 10000
	score := (g.FrequencyWeight*freq+g.ValueWeight*value+g.ROIWeight*roi+g.FeasibilityWeight*feasibility)/10000 -
		g.RiskWeight*risk/10000
	return model.Worthiness{
		Frequency:   freq,
		Value:       value,
		ROI:         roi,
		Feasibility: feasibility,
		Risk:        risk,
		Score:       model.ClampScore(score),
	}
}

func refuse(p model.Packet, reason model.ReasonCode, draftRef string) model.Packet {
	p.Kind = model.PacketRefuse
	p.Reason = reason
	p.Refuse = &model.RefuseResult{Message: reason.UserMessage(), DraftRef: draftRef}
	return p
}

// Check runs the capability-existence proof and, when the capability is truly
// missing, records the gap through s. base carries the cycle fields of the
// packet. A record that just reached PROPOSED comes back as a report to
// forward once s is committed.
func (h *GapHandler) Check(ctx context.Context, s Stores, u model.Understanding, cat model.CatalogSnapshot, pol model.PolicySnapshot, base model.Packet) (model.Packet, *model.GapReport, error) {
	family := pol.FamilyOf(u.Intent)
	p := base

	active := cat.ByFamily(u.TenantID, family, model.CatalogActive)
	activeCheck := model.ProofCheck{Check: model.CatalogActive, Family: family, Found: len(active) > 0}
	if len(active) > 0 {
		activeCheck.Ref = cat.Ref(active[0])
	}
	p.Proof = append(p.Proof, activeCheck)
	if len(active) > 0 {
		return refuse(p, model.ReasonClarifyExhausted, ""), nil, nil
	}

	drafts := cat.ByFamily(u.TenantID, family, model.CatalogDraft)
	draftCheck := model.ProofCheck{Check: model.CatalogDraft, Family: family, Found: len(drafts) > 0}
	if len(drafts) > 0 {
		draftCheck.Ref = cat.Ref(drafts[0])
	}
	p.Proof = append(p.Proof, draftCheck)
	if len(drafts) > 0 {
		return refuse(p, model.ReasonCapabilityInactivePending, draftCheck.Ref), nil, nil
	}

	out, err := h.intake(ctx, s, newIntake(u, pol, family, h.now().UTC()))
	if err != nil {
		return model.Packet{}, nil, fmt.Errorf("gap intake: %w", err)
	}
	if out.breached != nil {
		slog.InfoContext(ctx, "gap intake rate limited", "scope", out.breached.Scope, "key", out.breached.Key)
		return refuse(p, out.breached.Scope.RateLimitReason(), ""), nil, nil
	}

	rec := out.record
	ctx = logger.WithLogFields(ctx, logger.LogFields{GapID: logger.Ptr(rec.ID)})
	slog.InfoContext(ctx, "gap recorded",
		"status", rec.Status,
		"merged", out.merged,
		"occurrences", rec.Occurrences,
		"worthiness", rec.Worthiness.Score)

	reason := rec.Reason
	if out.merged {
		reason = model.ReasonGapMerged
	}
	p.Kind = model.PacketCapabilityGap
	p.Reason = reason
	p.Gap = &model.GapResult{
		GapID:             rec.ID,
		Status:            rec.Status,
		DedupeFingerprint: rec.DedupeFingerprint,
		DayBucket:         rec.DayBucket,
		Occurrences:       rec.Occurrences,
		Worthiness:        rec.Worthiness,
		Merged:            out.merged,
		Message:           reason.UserMessage(),
	}
	return p, out.report, nil
}

// Forward delivers a report produced by Check. It must only run after the
// intake that produced the report has committed.
func (h *GapHandler) Forward(ctx context.Context, report model.GapReport) error {
	if h.forwarder == nil {
		return nil
	}
	if err := h.forwarder.Forward(ctx, report); err != nil {
		return fmt.Errorf("forward gap report: %w", err)
	}
	return nil
}

type intake struct {
	u          model.Understanding
	pol        model.PolicySnapshot
	family     string
	normalized string
	requestFP  string
	dedupeFP   string
	day        string
	now        time.Time
	limits     []model.CounterLimit
}

type intakeResult struct {
	record   model.GapRecord
	merged   bool
	report   *model.GapReport
	breached *model.CounterLimit
}

func newIntake(u model.Understanding, pol model.PolicySnapshot, family string, now time.Time) intake {
	normalized := NormalizeRequest(u)
	reqFP := RequestFingerprint(u.TenantID, normalized)
	day := model.DayBucket(now)
	return intake{
		u:          u,
		pol:        pol,
		family:     family,
		normalized: normalized,
		requestFP:  reqFP,
		dedupeFP:   DedupeFingerprint(reqFP, day),
		day:        day,
		now:        now,
		limits: []model.CounterLimit{
			{Key: model.CounterKey(model.CounterUser, u.TenantID, u.UserID, day), Scope: model.CounterUser, Limit: pol.Gap.UserDailyLimit},
			{Key: model.CounterKey(model.CounterTenant, u.TenantID, u.TenantID, day), Scope: model.CounterTenant, Limit: pol.Gap.TenantDailyLimit},
			{Key: model.CounterKey(model.CounterCapability, u.TenantID, family, day), Scope: model.CounterCapability, Limit: pol.Gap.CapabilityDailyLimit},
		},
	}
}

func (in intake) counterKeys() []string {
	keys := make([]string, len(in.limits))
	for i, l := range in.limits {
		keys[i] = l.Key
	}
	return keys
}

func (h *GapHandler) intake(ctx context.Context, s Stores, in intake) (intakeResult, error) {
	breached, err := s.Counters().IncrementWithin(ctx, in.limits, in.now)
	if err != nil {
		return intakeResult{}, err
	}
	if breached != nil {
		return intakeResult{breached: breached}, nil
	}

	existing, err := s.Gaps().GetByDedupe(ctx, in.u.TenantID, in.dedupeFP)
	switch {
	case err == nil:
		return h.merge(ctx, s, in, existing)
	case errors.Is(err, store.ErrNotFound):
		return h.create(ctx, s, in)
	default:
		return intakeResult{}, err
	}
}

func (h *GapHandler) merge(ctx context.Context, s Stores, in intake, rec model.GapRecord) (intakeResult, error) {
	aggID := strconv.FormatInt(rec.ID, 10)
	batch := model.NewEventBatch(rec.TenantID, model.AggregateGap, aggID, rec.Sequence, in.now, id.New)
	occurrences := rec.Occurrences + 1
	if _, err := batch.Add(model.EventGapMerged, aggID, "", "", model.ReasonGapMerged, projection.GapMerged{
		Reporter:    in.u.UserID,
		Occurrences: occurrences,
		Worthiness:  ComputeWorthiness(in.pol.Gap, rec.Family, occurrences),
		CounterKeys: in.counterKeys(),
	}); err != nil {
		return intakeResult{}, err
	}
	state := projection.GapState{Record: rec}
	if err := commitGap(ctx, s, &state, batch); err != nil {
		return intakeResult{}, err
	}
	return intakeResult{record: state.Record, merged: true}, nil
}

func (h *GapHandler) create(ctx context.Context, s Stores, in intake) (intakeResult, error) {
	gapID := id.New()
	aggID := strconv.FormatInt(gapID, 10)
	worth := ComputeWorthiness(in.pol.Gap, in.family, 1)
	rec := model.GapRecord{
		ID:                 gapID,
		TenantID:           in.u.TenantID,
		UserID:             in.u.UserID,
		Family:             in.family,
		NormalizedRequest:  in.normalized,
		RequestFingerprint: in.requestFP,
		DedupeFingerprint:  in.dedupeFP,
		DayBucket:          in.day,
		Occurrences:        1,
		Reporters:          []string{in.u.UserID},
		Worthiness:         worth,
		Status:             model.GapNew,
	}

	batch := model.NewEventBatch(rec.TenantID, model.AggregateGap, aggID, 0, in.now, id.New)
	if _, err := batch.Add(model.EventGapCreated, aggID, "", string(model.GapNew), model.ReasonNone, projection.GapCreated{
		Record:      rec,
		CounterKeys: in.counterKeys(),
	}); err != nil {
		return intakeResult{}, err
	}

	target, reason := model.GapProposed, model.ReasonGapForwarded
	var payload projection.GapTransition
	prior, err := s.Gaps().FindOpenByRequest(ctx, rec.TenantID, rec.RequestFingerprint, in.day)
	switch {
	case err == nil:
		target, reason = model.GapDeduped, model.ReasonGapDeduped
		payload.DedupedInto = &prior.ID
	case !errors.Is(err, store.ErrNotFound):
		return intakeResult{}, err
	case worth.Score < in.pol.Gap.ValueFloor:
		target, reason = model.GapBlocked, model.ReasonGapBelowValueFloor
	case worth.Risk > in.pol.Gap.RiskCeiling:
		target, reason = model.GapBlocked, model.ReasonGapAboveRisk
	}
	if _, err := batch.Add(model.EventGapTransitioned, aggID, string(model.GapNew), string(target), reason, payload); err != nil {
		return intakeResult{}, err
	}

	var state projection.GapState
	if err := commitGap(ctx, s, &state, batch); err != nil {
		return intakeResult{}, err
	}

	out := intakeResult{record: state.Record}
	if r := state.Record; r.Status == model.GapProposed {
		out.report = &model.GapReport{
			GapID:             r.ID,
			TenantID:          r.TenantID,
			Family:            r.Family,
			NormalizedRequest: r.NormalizedRequest,
			DedupeFingerprint: r.DedupeFingerprint,
			DayBucket:         r.DayBucket,
			Occurrences:       r.Occurrences,
			Worthiness:        r.Worthiness,
		}
	}
	return out, nil
}

// commitGap folds the batch into state, then appends the events and saves the
// projection.
func commitGap(ctx context.Context, s Stores, state *projection.GapState, batch *model.EventBatch) error {
	for _, ev := range batch.Events() {
		if err := state.Apply(ev); err != nil {
			return err
		}
	}
	if err := s.Events().Append(ctx, batch.Events()); err != nil {
		return err
	}
	return s.Gaps().Save(ctx, state.Record)
}
