package resolver_test

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"selene.app/actioncore/common/id"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/resolver"
	"selene.app/actioncore/internal/store"
)

var _ = Describe("Resolver", func() {
	var (
		ctx       context.Context
		mem       *store.Memory
		oracle    *mockOracle
		forwarder *mockForwarder
		now       time.Time
		cat       model.CatalogSnapshot
		pol       model.PolicySnapshot
		res       *resolver.Resolver
	)

	BeforeEach(func() {
		Expect(id.Init(1)).To(Succeed())
		ctx = context.Background()
		mem = store.NewMemory()
		oracle = &mockOracle{}
		forwarder = &mockForwarder{}
		now = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		cat = testCatalog()
		pol = testPolicy()
		res = resolver.New(memTx{mem: mem}, oracle, resolver.NewGapHandler(forwarder, clock), clock)
	})

	Describe("matching", func() {
		It("matches a fully supplied direct intent", func() {
			var seen model.AccessRequest
			oracle.decideFn = func(_ context.Context, req model.AccessRequest) (model.AccessResult, error) {
				seen = req
				return model.AccessResult{Decision: model.AccessAllow}, nil
			}
			u := understanding("payment.send")
			u.Fields = map[string]string{"amount": "50 EUR", "recipient": "bob"}
			u.Evidence = []model.Evidence{
				{Field: "amount", Value: "50 EUR", Artifact: ref("span", "s1")},
				{Field: "recipient", Value: "bob", Artifact: ref("span", "s2")},
			}

			out, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketMatch))
			Expect(out.Packet.Reason).To(Equal(model.ReasonDirectMatch))
			Expect(out.Match).NotTo(BeNil())
			Expect(out.Match.CapabilityID).To(Equal("payment.send"))
			Expect(out.Match.Score).To(Equal(8000))
			Expect(out.Match.MissingFields).To(BeEmpty())
			Expect(out.Packet.EvidenceRefs).To(Equal([]string{"transcript:tr1@1", "span:s1@1", "span:s2@1"}))
			Expect(seen.Action).To(Equal("payments:send"))
			Expect(seen.SubjectID).To(Equal("u1"))
		})

		It("checks access for the verified subject", func() {
			var subject string
			oracle.decideFn = func(_ context.Context, req model.AccessRequest) (model.AccessResult, error) {
				subject = req.SubjectID
				return model.AccessResult{Decision: model.AccessEscalate}, nil
			}
			u := understanding("payment.send")
			u.Fields = map[string]string{"amount": "5", "recipient": "bob"}
			u.Evidence = []model.Evidence{
				{Field: "amount", Value: "5", Artifact: ref("span", "s1")},
				{Field: "recipient", Value: "bob", Artifact: ref("span", "s2")},
			}
			u.Hints = []model.Hint{model.IdentityHint{Ref: ref("idp", "h1"), SubjectID: "acct-9", Verified: true}}

			out, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketMatch))
			Expect(subject).To(Equal("acct-9"))
		})

		It("refuses when the access oracle denies the match", func() {
			oracle.decideFn = func(context.Context, model.AccessRequest) (model.AccessResult, error) {
				return model.AccessResult{Decision: model.AccessDeny, DecisionRef: "acl:deny"}, nil
			}
			u := understanding("payment.send")
			u.Fields = map[string]string{"amount": "5", "recipient": "bob"}
			u.Evidence = []model.Evidence{
				{Field: "amount", Value: "5", Artifact: ref("span", "s1")},
				{Field: "recipient", Value: "bob", Artifact: ref("span", "s2")},
			}

			out, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketRefuse))
			Expect(out.Packet.Reason).To(Equal(model.ReasonAccessDenied))
			Expect(out.Match).To(BeNil())
		})

		It("surfaces oracle failures", func() {
			oracle.decideFn = func(context.Context, model.AccessRequest) (model.AccessResult, error) {
				return model.AccessResult{}, errors.New("oracle down")
			}
			u := understanding("payment.send")
			u.Fields = map[string]string{"amount": "5", "recipient": "bob"}
			u.Evidence = []model.Evidence{
				{Field: "amount", Value: "5", Artifact: ref("span", "s1")},
				{Field: "recipient", Value: "bob", Artifact: ref("span", "s2")},
			}

			_, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).To(MatchError(ContainSubstring("oracle down")))
		})

		It("rejects invalid input", func() {
			u := understanding("payment.send")
			u.Artifact = model.ArtifactRef{}
			_, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).To(MatchError(model.ErrInvalidInput))
		})
	})

	Describe("refusals", func() {
		It("refuses unsafe requests before ranking", func() {
			u := understanding("payment.send")
			u.Transcript = "please launder this cash"
			out, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketRefuse))
			Expect(out.Packet.Reason).To(Equal(model.ReasonUnsafeRequest))
			Expect(out.Packet.Candidates).To(BeEmpty())
		})

		It("refuses capabilities outside the tenant policy", func() {
			out, err := res.Resolve(ctx, understanding("vault.open"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketRefuse))
			Expect(out.Packet.Reason).To(Equal(model.ReasonPolicyMismatch))
			Expect(out.Ranking.Mismatched).To(HaveLen(1))
		})
	})

	Describe("clarification", func() {
		It("asks for the field that best separates tied candidates", func() {
			out, err := res.Resolve(ctx, understanding("pay"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketClarify))
			Expect(out.Packet.Reason).To(Equal(model.ReasonAmbiguous))
			Expect(out.Packet.Candidates).To(HaveLen(2))
			Expect(out.Packet.Candidates[0].Score).To(Equal(5250))
			Expect(out.Packet.Candidates[0].CapabilityID).To(Equal("pay.card"))

			c := out.Packet.Clarify
			Expect(c.Field).To(Equal("card_number"))
			Expect(c.AttemptIndex).To(Equal(1))
			Expect(c.AttemptCeiling).To(Equal(2))

			stored, err := mem.Clarifications().Get(ctx, "t1", "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.ClarificationOpen))
		})

		It("asks to restate the intent when nothing scores high enough", func() {
			out, err := res.Resolve(ctx, understanding("unknown.thing"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketClarify))
			Expect(out.Packet.Reason).To(Equal(model.ReasonLowConfidence))
			Expect(out.Packet.Clarify.Field).To(Equal(model.IntentField))
		})

		It("rewords each attempt and escalates after the ceiling", func() {
			first, err := res.Resolve(ctx, understanding("pay"), cat, pol)
			Expect(err).NotTo(HaveOccurred())

			u := understanding("pay")
			u.Turn = 2
			second, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Packet.Clarify.AttemptIndex).To(Equal(2))
			Expect(second.Packet.Clarify.Question).NotTo(Equal(first.Packet.Clarify.Question))

			u.Turn = 3
			third, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(third.Packet.Kind).To(Equal(model.PacketRefuse))
			Expect(third.Packet.Reason).To(Equal(model.ReasonClarifyExhausted))
			Expect(third.Packet.Proof).To(Equal([]model.ProofCheck{{
				Check:  model.CatalogActive,
				Family: "pay",
				Found:  true,
				Ref:    "catalog:2026-10-01:pay.card:active",
			}}))

			stored, err := mem.Clarifications().Get(ctx, "t1", "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.ClarificationEscalated))
			Expect(stored.AskedFields).To(Equal([]string{"card_number", "card_number"}))

			events, err := mem.Events().List(ctx, "t1", model.AggregateClarification, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(4))
			rebuilt, err := projection.RebuildClarification(events)
			Expect(err).NotTo(HaveOccurred())
			Expect(cmp.Diff(stored, rebuilt.Clarification)).To(BeEmpty())
		})

		It("refuses outright when the policy does not escalate to a capability check", func() {
			pol.Calibration.ClarifyCeiling = 0
			pol.Calibration.OnClarifyExhausted = model.EscalateRefuse
			out, err := res.Resolve(ctx, understanding("pay"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketRefuse))
			Expect(out.Packet.Reason).To(Equal(model.ReasonClarifyExhausted))
			Expect(out.Packet.Proof).To(BeEmpty())
		})

		It("resolves the open question once the cycle matches", func() {
			_, err := res.Resolve(ctx, understanding("payment.send"), cat, pol)
			Expect(err).NotTo(HaveOccurred())

			u := understanding("payment.send")
			u.Turn = 2
			u.Fields = map[string]string{"amount": "5", "recipient": "bob"}
			u.Evidence = []model.Evidence{
				{Field: "amount", Value: "5", Artifact: ref("span", "s1")},
				{Field: "recipient", Value: "bob", Artifact: ref("span", "s2")},
			}
			out, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketMatch))

			stored, err := mem.Clarifications().Get(ctx, "t1", "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.ClarificationResolved))
		})
	})

	Describe("capability gaps", func() {
		BeforeEach(func() {
			pol.Calibration.ClarifyCeiling = 0
		})

		gapEvents := func(gapID int64) []model.Event {
			evs, err := mem.Events().List(ctx, "t1", model.AggregateGap, strconv.FormatInt(gapID, 10))
			Expect(err).NotTo(HaveOccurred())
			return evs
		}

		It("points at a draft capability without recording a gap", func() {
			out, err := res.Resolve(ctx, understanding("travel.book"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketRefuse))
			Expect(out.Packet.Reason).To(Equal(model.ReasonCapabilityInactivePending))
			Expect(out.Packet.Refuse.DraftRef).To(Equal("catalog:2026-10-01:travel.book:draft"))
			Expect(out.Packet.Proof).To(HaveLen(2))
			Expect(forwarder.reports).To(BeEmpty())
			Expect(mem.Counters().Get(ctx, model.CounterKey(model.CounterUser, "t1", "u1", "2026-10-14"))).To(BeZero())
		})

		It("records and forwards a worthwhile gap", func() {
			out, err := res.Resolve(ctx, understanding("pizza.order"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketCapabilityGap))
			Expect(out.Packet.Reason).To(Equal(model.ReasonGapForwarded))

			g := out.Packet.Gap
			Expect(g.Status).To(Equal(model.GapProposed))
			Expect(g.Forwarded).To(BeTrue())
			Expect(g.DayBucket).To(Equal("2026-10-14"))
			Expect(g.Occurrences).To(Equal(int64(1)))
			Expect(g.Worthiness.Score).To(Equal(4460))
			Expect(forwarder.reports).To(HaveLen(1))
			Expect(forwarder.reports[0].GapID).To(Equal(g.GapID))

			stored, err := mem.Gaps().GetByID(ctx, "t1", g.GapID)
			Expect(err).NotTo(HaveOccurred())
			rebuilt, err := projection.RebuildGap(gapEvents(g.GapID))
			Expect(err).NotTo(HaveOccurred())
			Expect(cmp.Diff(stored, rebuilt.Record)).To(BeEmpty())
		})

		It("merges repeats on the same day into one record", func() {
			first, err := res.Resolve(ctx, understanding("pizza.order"), cat, pol)
			Expect(err).NotTo(HaveOccurred())

			u := understanding("pizza.order")
			u.UserID = "u2"
			u.CycleID = "c2"
			second, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Packet.Reason).To(Equal(model.ReasonGapMerged))
			Expect(second.Packet.Gap.GapID).To(Equal(first.Packet.Gap.GapID))
			Expect(second.Packet.Gap.Occurrences).To(Equal(int64(2)))
			Expect(second.Packet.Gap.Merged).To(BeTrue())
			Expect(second.Packet.Gap.Forwarded).To(BeFalse())
			Expect(second.Packet.Gap.Worthiness.Score).To(Equal(4760))
			Expect(forwarder.reports).To(HaveLen(1))

			stored, err := mem.Gaps().GetByID(ctx, "t1", first.Packet.Gap.GapID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Reporters).To(Equal([]string{"u1", "u2"}))

			counts, err := projection.RebuildCounters(gapEvents(stored.ID))
			Expect(err).NotTo(HaveOccurred())
			tenantKey := model.CounterKey(model.CounterTenant, "t1", "t1", "2026-10-14")
			Expect(counts[tenantKey]).To(Equal(int64(2)))
			Expect(mem.Counters().Get(ctx, tenantKey)).To(Equal(int64(2)))
		})

		It("dedupes into an open record from an earlier day", func() {
			first, err := res.Resolve(ctx, understanding("pizza.order"), cat, pol)
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(24 * time.Hour)
			u := understanding("pizza.order")
			u.CycleID = "c2"
			second, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Packet.Reason).To(Equal(model.ReasonGapDeduped))
			Expect(second.Packet.Gap.Status).To(Equal(model.GapDeduped))
			Expect(second.Packet.Gap.GapID).NotTo(Equal(first.Packet.Gap.GapID))

			stored, err := mem.Gaps().GetByID(ctx, "t1", second.Packet.Gap.GapID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.DedupedInto).To(HaveValue(Equal(first.Packet.Gap.GapID)))
			Expect(forwarder.reports).To(HaveLen(1))
		})

		It("blocks gaps below the value floor", func() {
			out, err := res.Resolve(ctx, understanding("horoscope.read"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Gap.Status).To(Equal(model.GapBlocked))
			Expect(out.Packet.Reason).To(Equal(model.ReasonGapBelowValueFloor))
			Expect(forwarder.reports).To(BeEmpty())
		})

		It("blocks gaps above the risk ceiling", func() {
			out, err := res.Resolve(ctx, understanding("crypto.buy"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Gap.Status).To(Equal(model.GapBlocked))
			Expect(out.Packet.Reason).To(Equal(model.ReasonGapAboveRisk))
		})

		It("refuses once the user limit is reached and leaves the record untouched", func() {
			pol.Gap.UserDailyLimit = 1
			first, err := res.Resolve(ctx, understanding("pizza.order"), cat, pol)
			Expect(err).NotTo(HaveOccurred())

			u := understanding("pizza.order")
			u.CycleID = "c2"
			second, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Packet.Kind).To(Equal(model.PacketRefuse))
			Expect(second.Packet.Reason).To(Equal(model.ReasonGapRateUser))

			stored, err := mem.Gaps().GetByID(ctx, "t1", first.Packet.Gap.GapID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Occurrences).To(Equal(int64(1)))
			Expect(mem.Counters().Get(ctx, model.CounterKey(model.CounterTenant, "t1", "t1", "2026-10-14"))).To(Equal(int64(1)))
		})

		It("keeps the recorded gap when forwarding fails", func() {
			forwarder.forwardFn = func(context.Context, model.GapReport) error { return errors.New("stream unavailable") }
			out, err := res.Resolve(ctx, understanding("pizza.order"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Packet.Kind).To(Equal(model.PacketCapabilityGap))
			Expect(out.Packet.Gap.Status).To(Equal(model.GapProposed))
			Expect(out.Packet.Gap.Forwarded).To(BeFalse())

			stored, err := mem.Gaps().GetByID(ctx, "t1", out.Packet.Gap.GapID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.GapProposed))
			Expect(mem.Counters().Get(ctx, model.CounterKey(model.CounterUser, "t1", "u1", "2026-10-14"))).To(Equal(int64(1)))
		})

		It("forwards once even when the transaction runs twice", func() {
			tx := &rerunTx{mem: mem}
			clock := func() time.Time { return now }
			res = resolver.New(tx, oracle, resolver.NewGapHandler(forwarder, clock), clock)

			out, err := res.Resolve(ctx, understanding("pizza.order"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(tx.runs).To(Equal(2))
			Expect(out.Packet.Gap.Forwarded).To(BeTrue())
			Expect(forwarder.reports).To(HaveLen(1))
			Expect(forwarder.reports[0].GapID).To(Equal(out.Packet.Gap.GapID))
			Expect(forwarder.reports[0].Occurrences).To(Equal(int64(1)))
			Expect(mem.Counters().Get(ctx, model.CounterKey(model.CounterUser, "t1", "u1", "2026-10-14"))).To(Equal(int64(1)))
		})

		It("rolls the gap back with the clarification it escalates", func() {
			pol.Calibration.ClarifyCeiling = 1
			first, err := res.Resolve(ctx, understanding("pizza.order"), cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Packet.Kind).To(Equal(model.PacketClarify))

			clock := func() time.Time { return now }
			broken := resolver.New(brokenSaveTx{mem: mem}, oracle, resolver.NewGapHandler(forwarder, clock), clock)
			u := understanding("pizza.order")
			u.Turn = 2
			_, err = broken.Resolve(ctx, u, cat, pol)
			Expect(err).To(MatchError(ContainSubstring("disk full")))

			Expect(forwarder.reports).To(BeEmpty())
			Expect(mem.Counters().Get(ctx, model.CounterKey(model.CounterUser, "t1", "u1", "2026-10-14"))).To(BeZero())
			rfp := resolver.RequestFingerprint("t1", resolver.NormalizeRequest(u))
			_, err = mem.Gaps().GetByDedupe(ctx, "t1", resolver.DedupeFingerprint(rfp, "2026-10-14"))
			Expect(err).To(MatchError(store.ErrNotFound))
			stored, err := mem.Clarifications().Get(ctx, "t1", "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.ClarificationOpen))

			again, err := res.Resolve(ctx, u, cat, pol)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Packet.Kind).To(Equal(model.PacketCapabilityGap))
			Expect(again.Packet.Gap.Occurrences).To(Equal(int64(1)))
		})
	})

	It("produces identical rankings for identical inputs", func() {
		u := understanding("pay")
		u.Hints = []model.Hint{
			model.ContextHint{Ref: ref("ctx", "h1"), RecentCapabilityIDs: []string{"pay.bank"}},
			model.LLMAssistHint{Ref: ref("llm", "h2"), CapabilityID: "pay.card", Confidence: 7000},
		}
		a := resolver.Rank(u, cat, pol)
		b := resolver.Rank(u, cat, pol)
		Expect(cmp.Diff(a, b)).To(BeEmpty())
		Expect(a.Candidates[0].Fingerprint).To(Equal(b.Candidates[0].Fingerprint))
	})
})
