package service_test

import (
	"context"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"selene.app/actioncore/common/id"
	"selene.app/actioncore/internal/executor"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/service"
	"selene.app/actioncore/internal/snapshot"
	"selene.app/actioncore/internal/store"
)

var _ = Describe("Services", func() {
	var (
		ctx       context.Context
		mem       *store.Memory
		oracle    *mockOracle
		effects   *mockEffects
		forwarder *mockForwarder
		ids       func() int64
		now       time.Time
		services  *service.Services
	)

	BeforeEach(func() {
		Expect(id.Init(1)).To(Succeed())
		ctx = context.Background()
		mem = store.NewMemory()
		oracle = &mockOracle{}
		effects = &mockEffects{}
		forwarder = &mockForwarder{}
		ids = counter(5000)
		now = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

		services = service.NewServices(service.ServicesConfig{
			TxRunner:  store.NewMemoryTx(mem),
			Snapshots: snapshot.NewFileRegistry("../../snapshots"),
			Oracle:    oracle,
			Effects:   effects,
			Forwarder: forwarder,
			Executor: executor.Config{
				LocalRetries: 0,
				Sleep:        func(context.Context, time.Duration) error { return nil },
			},
			NewID: ids,
			Now:   func() time.Time { return now },
		})
	})

	understanding := func(intent string, fields map[string]string) model.Understanding {
		return model.Understanding{
			TenantID:         "t1",
			UserID:           "u1",
			CycleID:          "c1",
			Turn:             1,
			Transcript:       intent,
			Language:         "en",
			Intent:           intent,
			IntentConfidence: 10000,
			Fields:           fields,
			Artifact:         model.ArtifactRef{Kind: "transcript", ID: "tr1", Version: "1"},
		}
	}

	cycleEvents := func(cycleID string) []model.Event {
		evs, err := mem.Events().List(ctx, "t1", model.AggregateCycle, cycleID)
		Expect(err).NotTo(HaveOccurred())
		return evs
	}

	resolvePayment := func() service.ResolveResult {
		u := understanding("payment.send", map[string]string{"amount": "20 EUR", "recipient": "ana"})
		u.Evidence = []model.Evidence{
			{Field: "amount", Value: "20 EUR", Artifact: model.ArtifactRef{Kind: "span", ID: "s1", Version: "1"}},
			{Field: "recipient", Value: "ana", Artifact: model.ArtifactRef{Kind: "span", ID: "s2", Version: "1"}},
		}
		out, err := services.Resolution().Resolve(ctx, service.ResolveRequest{Understanding: u})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Packet.Kind).To(Equal(model.PacketMatch))
		return out
	}

	Describe("Resolution", func() {
		It("opens a plan for a match and audits the decision", func() {
			out := resolvePayment()

			Expect(out.Plan).NotTo(BeNil())
			m := out.Packet.Match
			Expect(m.PlanID).To(Equal(out.Plan.Plan.ID))
			Expect(m.PlanFingerprint).To(Equal(out.Plan.Plan.Fingerprint))
			Expect(m.PlanStatus).To(Equal(model.PlanWaitingConfirm))
			Expect(m.FirstAction.Kind).To(Equal(model.ActionConfirm))
			Expect(out.Plan.Plan.TemplateRef).To(Equal("payment.send.standard@3"))

			view, err := services.Plans().Get(ctx, "t1", m.PlanID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.State.Plan.Status).To(Equal(model.PlanWaitingConfirm))

			audit := cycleEvents("c1")
			Expect(audit).To(HaveLen(1))
			Expect(audit[0].Type).To(Equal(model.EventResolutionDecided))
			Expect(audit[0].To).To(Equal(string(model.PacketMatch)))
			var decided projection.ResolutionDecided
			Expect(audit[0].Decode(&decided)).To(Succeed())
			Expect(decided.PlanID).To(Equal(m.PlanID))
			Expect(decided.CatalogVersion).To(Equal("2026-10-01"))
		})

		It("records a gap without a plan once clarification is exhausted", func() {
			var (
				kinds    []model.PacketKind
				attempts []int
				last     service.ResolveResult
			)
			for turn := 1; turn <= 3; turn++ {
				u := understanding("pizza.order", map[string]string{})
				u.Turn = turn
				out, err := services.Resolution().Resolve(ctx, service.ResolveRequest{Understanding: u})
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Plan).To(BeNil())
				kinds = append(kinds, out.Packet.Kind)
				if out.Packet.Clarify != nil {
					attempts = append(attempts, out.Packet.Clarify.AttemptIndex)
				}
				last = out
			}

			Expect(kinds).To(Equal([]model.PacketKind{model.PacketClarify, model.PacketClarify, model.PacketCapabilityGap}))
			Expect(attempts).To(Equal([]int{1, 2}))
			Expect(last.Packet.Proof).To(Equal([]model.ProofCheck{
				{Check: model.CatalogActive, Family: "pizza", Found: false},
				{Check: model.CatalogDraft, Family: "pizza", Found: false},
			}))
			g := last.Packet.Gap
			Expect(g.Status).To(Equal(model.GapBlocked))
			Expect(last.Packet.Reason).To(Equal(model.ReasonGapBelowValueFloor))
			Expect(g.Worthiness.Score).To(Equal(2700))
			Expect(g.DedupeFingerprint).To(HaveSuffix(":2026-10-14"))
			Expect(forwarder.reports).To(BeEmpty())

			clar, err := mem.Clarifications().Get(ctx, "t1", "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(clar.Status).To(Equal(model.ClarificationEscalated))

			audit := cycleEvents("c1")
			Expect(audit).To(HaveLen(3))
			var decided projection.ResolutionDecided
			Expect(audit[2].Decode(&decided)).To(Succeed())
			Expect(decided.Kind).To(Equal(model.PacketCapabilityGap))
			Expect(decided.GapID).To(Equal(g.GapID))
		})

		It("appends one audit event per turn of a cycle", func() {
			resolvePayment()
			resolvePayment()
			audit := cycleEvents("c1")
			Expect(audit).To(HaveLen(2))
			Expect(audit[1].Sequence).To(Equal(int64(2)))
		})

		It("fails on a pinned catalog that does not exist", func() {
			_, err := services.Resolution().Resolve(ctx, service.ResolveRequest{
				Understanding:  understanding("payment.send", nil),
				CatalogVersion: "1999-01-01",
			})
			Expect(err).To(MatchError(model.ErrReplayIntegrity))
		})
	})

	Describe("Plans", func() {
		It("advances a resolved plan to completion and replays it", func() {
			planID := resolvePayment().Packet.Match.PlanID

			res, err := services.Plans().Advance(ctx, executor.Turn{TenantID: "t1", PlanID: planID, Utterance: "yes"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State.Steps[0].Status).To(Equal(model.StepSucceeded))

			res, err = services.Plans().Advance(ctx, executor.Turn{TenantID: "t1", PlanID: planID})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State.Plan.Status).To(Equal(model.PlanCompleted))

			report, err := services.Plans().Replay(ctx, "t1", planID)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.State.Plan.Status).To(Equal(model.PlanCompleted))
			Expect(report.Events).To(BeNumerically(">", len(res.Events)))
		})

		It("detects a projection that drifted from its events", func() {
			planID := resolvePayment().Packet.Match.PlanID
			plan, steps, err := mem.Plans().Get(ctx, "t1", planID)
			Expect(err).NotTo(HaveOccurred())
			plan.Status = model.PlanCompleted
			Expect(mem.Plans().Save(ctx, plan, steps)).To(Succeed())

			_, err = services.Plans().Replay(ctx, "t1", planID)
			Expect(err).To(MatchError(model.ErrReplayIntegrity))
			Expect(err.Error()).To(ContainSubstring("Status"))
		})

		It("detects a broken event history", func() {
			planID := resolvePayment().Packet.Match.PlanID
			view, err := services.Plans().Get(ctx, "t1", planID)
			Expect(err).NotTo(HaveOccurred())

			aggID := strconv.FormatInt(planID, 10)
			forged := model.NewEventBatch("t1", model.AggregatePlan, aggID, view.State.Plan.Sequence, now, ids)
			_, err = forged.Add(model.EventPlanTransitioned, aggID, string(model.PlanWaitingConfirm), string(model.PlanCompleted), model.ReasonCompleted, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.Events().Append(ctx, forged.Events())).To(Succeed())

			_, err = services.Plans().Replay(ctx, "t1", planID)
			Expect(err).To(MatchError(model.ErrReplayIntegrity))
		})

		It("reports unknown plans as not found", func() {
			_, err := services.Plans().Replay(ctx, "t1", 404)
			Expect(err).To(MatchError(store.ErrNotFound))
			_, err = services.Plans().Advance(ctx, executor.Turn{TenantID: "t1", PlanID: 404})
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("lists plans that need an operator", func() {
			effects.dispatchFn = func(_ context.Context, env model.DispatchEnvelope) (model.DispatchOutcome, error) {
				return model.DispatchOutcome{Status: model.DispatchFailedTerminal, Detail: "bank said no"}, nil
			}
			planID := resolvePayment().Packet.Match.PlanID
			res, err := services.Plans().Advance(ctx, executor.Turn{TenantID: "t1", PlanID: planID, Utterance: "yes"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Reason).To(Equal(model.ReasonRollbackFailed))

			plans, err := services.Plans().ListOperatorRequired(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(plans).To(HaveLen(1))
			Expect(plans[0].ID).To(Equal(planID))
		})

		It("cancels a plan that is still waiting", func() {
			planID := resolvePayment().Packet.Match.PlanID
			res, err := services.Plans().Cancel(ctx, "t1", planID)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State.Plan.Status).To(Equal(model.PlanCancelled))
		})
	})

	Describe("Gap review", func() {
		It("resolves a proposed gap once and then records the notification", func() {
			seedGap(mem, 77, model.GapProposed, []string{"u1", "u2"}, now, ids)

			rec, err := services.Gaps().Resolve(ctx, model.GapReview{TenantID: "t1", GapID: 77, ResolutionRef: "cap:pizza.order@1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(model.GapResolved))
			Expect(rec.ResolutionRef).To(Equal("cap:pizza.order@1"))

			again, err := services.Gaps().Resolve(ctx, model.GapReview{TenantID: "t1", GapID: 77, ResolutionRef: "cap:pizza.order@1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Sequence).To(Equal(rec.Sequence))

			note := service.Notification(rec)
			Expect(note.Recipients).To(Equal([]string{"u1", "u2"}))

			rec, err = services.Gaps().MarkNotified(ctx, "t1", 77)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(model.GapNotified))

			evs, err := mem.Events().List(ctx, "t1", model.AggregateGap, "77")
			Expect(err).NotTo(HaveOccurred())
			rebuilt, err := projection.RebuildGap(evs)
			Expect(err).NotTo(HaveOccurred())
			Expect(rebuilt.Record.Status).To(Equal(model.GapNotified))
		})

		It("refuses to resolve a blocked gap", func() {
			seedGap(mem, 78, model.GapBlocked, []string{"u1"}, now, ids)
			_, err := services.Gaps().Resolve(ctx, model.GapReview{TenantID: "t1", GapID: 78, ResolutionRef: "x"})
			Expect(err).To(MatchError(model.ErrInvalidTransition))
		})

		It("rejects incomplete reviews", func() {
			_, err := services.Gaps().Resolve(ctx, model.GapReview{TenantID: "t1", GapID: 78})
			Expect(err).To(MatchError(model.ErrInvalidInput))
		})

		It("does not notify before resolution", func() {
			seedGap(mem, 79, model.GapProposed, []string{"u1"}, now, ids)
			_, err := services.Gaps().MarkNotified(ctx, "t1", 79)
			Expect(err).To(MatchError(model.ErrInvalidTransition))
		})
	})
})
