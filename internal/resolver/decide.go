package resolver

import "selene.app/actioncore/internal/model"

// Outcome is the branch a ranking takes before any packet is built.
type Outcome string

const (
	OutcomeMatch           Outcome = "match"
	OutcomeClarify         Outcome = "clarify"
	OutcomeCapabilityCheck Outcome = "capability_check"
	OutcomeRefuse          Outcome = "refuse"
)

// Decision is the result of Decide: the branch, its reason code and, for a
// clarification, what to ask about.
type Decision struct {
	Outcome Outcome
	Reason  model.ReasonCode
	// AskIntent means the clarification must restate the intent rather than a field.
	AskIntent bool
}

// Decide applies the decision table to a ranking. attemptsUsed is the number
// of clarification questions already asked in the cycle.
func Decide(r Ranking, cal model.Calibration, attemptsUsed int) Decision {
	if r.Unsafe {
		return Decision{Outcome: OutcomeRefuse, Reason: model.ReasonUnsafeRequest}
	}
	if len(r.Candidates) == 0 && len(r.Mismatched) > 0 {
		return Decision{Outcome: OutcomeRefuse, Reason: model.ReasonPolicyMismatch}
	}

	attemptsLeft := attemptsUsed < cal.ClarifyCeiling
	if top, ok := r.Top(); ok {
		margin := r.Margin()
		if top.Score >= cal.DirectMatch && margin >= cal.TieMargin {
			return Decision{Outcome: OutcomeMatch, Reason: model.ReasonDirectMatch}
		}
		if top.Score >= cal.ClarifyEligible {
			if attemptsLeft {
				return Decision{Outcome: OutcomeClarify, Reason: model.ReasonAmbiguous}
			}
			return escalate(cal)
		}
	}

	if attemptsLeft {
		return Decision{Outcome: OutcomeClarify, Reason: model.ReasonLowConfidence, AskIntent: true}
	}
	return Decision{Outcome: OutcomeCapabilityCheck, Reason: model.ReasonClarifyExhausted}
}

func escalate(cal model.Calibration) Decision {
	if cal.OnClarifyExhausted == model.EscalateCapabilityCheck {
		return Decision{Outcome: OutcomeCapabilityCheck, Reason: model.ReasonClarifyExhausted}
	}
	return Decision{Outcome: OutcomeRefuse, Reason: model.ReasonClarifyExhausted}
}
