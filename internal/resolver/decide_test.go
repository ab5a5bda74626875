package resolver_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/resolver"
)

func ranked(scores ...int) resolver.Ranking {
	var r resolver.Ranking
	for i, s := range scores {
		r.Candidates = append(r.Candidates, model.Candidate{CapabilityID: string(rune('a' + i)), Score: s})
	}
	return r
}

var _ = Describe("Decide", func() {
	cal := model.Calibration{
		DirectMatch:        7500,
		ClarifyEligible:    5000,
		TieMargin:          800,
		ClarifyCeiling:     2,
		OnClarifyExhausted: model.EscalateCapabilityCheck,
	}

	DescribeTable("decision table",
		func(r resolver.Ranking, attempts int, outcome resolver.Outcome, reason model.ReasonCode) {
			d := resolver.Decide(r, cal, attempts)
			Expect(d.Outcome).To(Equal(outcome))
			Expect(d.Reason).To(Equal(reason))
		},
		Entry("clear winner", ranked(9400, 8200), 0, resolver.OutcomeMatch, model.ReasonDirectMatch),
		Entry("single strong candidate", ranked(7600), 0, resolver.OutcomeMatch, model.ReasonDirectMatch),
		Entry("tie inside the margin", ranked(7800, 7400), 0, resolver.OutcomeClarify, model.ReasonAmbiguous),
		Entry("eligible but not direct", ranked(6000), 1, resolver.OutcomeClarify, model.ReasonAmbiguous),
		Entry("eligible with attempts spent", ranked(6000), 2, resolver.OutcomeCapabilityCheck, model.ReasonClarifyExhausted),
		Entry("weak candidates", ranked(3000), 0, resolver.OutcomeClarify, model.ReasonLowConfidence),
		Entry("no candidates with attempts spent", ranked(), 2, resolver.OutcomeCapabilityCheck, model.ReasonClarifyExhausted),
		Entry("unsafe", resolver.Ranking{Unsafe: true}, 0, resolver.OutcomeRefuse, model.ReasonUnsafeRequest),
		Entry("only policy mismatches", resolver.Ranking{Mismatched: []model.Candidate{{CapabilityID: "x"}}}, 0, resolver.OutcomeRefuse, model.ReasonPolicyMismatch),
	)

	It("marks low confidence clarifications as restating the intent", func() {
		Expect(resolver.Decide(ranked(1000), cal, 0).AskIntent).To(BeTrue())
		Expect(resolver.Decide(ranked(6000), cal, 0).AskIntent).To(BeFalse())
	})
})

var _ = Describe("SelectField", func() {
	It("prefers the unbounded high-risk field that splits the set", func() {
		cat := testCatalog()
		cands := []model.Candidate{
			{CapabilityID: "pay.card", MissingFields: []string{"card_number"}},
			{CapabilityID: "pay.bank", MissingFields: []string{"iban"}},
		}
		choice := resolver.SelectField(cands, cat)
		Expect(choice.Field).To(Equal("card_number"))
		Expect(choice.Entropy).To(Equal(9250))
		Expect(choice.Split).To(Equal(10000))
		Expect(choice.Shapes).To(Equal([]string{"card"}))
	})

	It("falls back to the intent when nothing is missing", func() {
		choice := resolver.SelectField([]model.Candidate{{CapabilityID: "pay.card"}}, testCatalog())
		Expect(choice.Field).To(Equal(model.IntentField))
	})

	It("words every attempt differently", func() {
		seen := map[string]bool{}
		for attempt := 1; attempt <= 4; attempt++ {
			q := resolver.Question("amount", attempt, []string{"currency_amount"})
			Expect(seen).NotTo(HaveKey(q))
			seen[q] = true
		}
	})
})
