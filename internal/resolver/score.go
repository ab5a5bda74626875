package resolver

import (
	"slices"

	"selene.app/actioncore/internal/model"
)

// Positive weights sum to 10000.
const (
	weightIntent        = 4500
	weightFieldCoverage = 1500
	weightEvidence      = 1000
	weightStatus        = 1000
	weightContext       = 600
	weightLLMAssist     = 500
	weightLanguage      = 300
	weightRepair        = 200
	weightMemory        = 200
	weightCorrection    = 200
)

const (
	penaltyAmbiguity      = 1000
	penaltyContradiction  = 2000
	penaltyPolicyMismatch = 10000
)

const (
	strengthDirect   = 10000
	strengthSynonym  = 9000
	strengthRepaired = 8000

	statusActive     = 10000
	statusDeprecated = 4000

	contextDecay       = 2000
	ambiguityPerDirect = 2500
)

// signals is the exhaustive view over the hints of one understanding.
type signals struct {
	language *model.LanguageHint
	repair   *model.SemanticRepairHint
	context  *model.ContextHint
	llm      []model.LLMAssistHint
	memory   []model.MemoryHint
}

func collectSignals(hints []model.Hint) signals {
	var s signals
	for _, h := range hints {
		switch v := h.(type) {
		case model.LanguageHint:
			if s.language == nil {
				s.language = &v
			}
		case model.SemanticRepairHint:
			if s.repair == nil {
				s.repair = &v
			}
		case model.ContextHint:
			if s.context == nil {
				s.context = &v
			}
		case model.LLMAssistHint:
			s.llm = append(s.llm, v)
		case model.MemoryHint:
			s.memory = append(s.memory, v)
		case model.IdentityHint:
			// subject resolution only
		}
	}
	return s
}

func (s signals) repairedIntent() string {
	if s.repair == nil {
		return ""
	}
	return s.repair.RepairedIntent
}

func matchesTerm(c model.Capability, term string, pol model.PolicySnapshot) (direct, synonym bool) {
	if term == "" {
		return false, false
	}
	direct = c.ID == term || slices.Contains(pol.Vocabulary[term], c.ID)
	synonym = slices.Contains(c.Synonyms, term)
	return direct, synonym
}

// matchStrength classifies how the intent reaches the capability.
func matchStrength(c model.Capability, intent string, sig signals, pol model.PolicySnapshot) int {
	if direct, synonym := matchesTerm(c, intent, pol); direct {
		return strengthDirect
	} else if synonym {
		return strengthSynonym
	}
	if d, s := matchesTerm(c, sig.repairedIntent(), pol); d || s {
		return strengthRepaired
	}
	return 0
}

type scoreInput struct {
	u          model.Understanding
	sig        signals
	pol        model.PolicySnapshot
	cat        model.CatalogSnapshot
	ambiguity  int
	capability model.Capability
	strength   int
}

// score computes the sub-scores, the final score and the contributing refs.
func score(in scoreInput) model.Candidate {
	c := in.capability
	u := in.u
	required := c.RequiredFieldNames()

	var sub model.SubScores
	refs := []string{u.Artifact.String()}
	hintRef := func(h model.Hint, v int) {
		if v > 0 {
			refs = append(refs, h.Artifact().String())
		}
	}

	sub.Intent = u.IntentConfidence * in.strength / 10000

	present := make([]string, 0, len(required))
	missing := model.MissingFields(required, u.Fields)
	withEvidence, contradictions := 0, 0
	var evidenceRefs []string
	for _, name := range required {
		if u.Fields[name] != "" {
			present = append(present, name)
		}
		ev := u.EvidenceFor(name)
		if len(ev) > 0 {
			withEvidence++
		}
		values := map[string]struct{}{}
		if v := u.Fields[name]; v != "" {
			values[v] = struct{}{}
		}
		for _, e := range ev {
			values[e.Value] = struct{}{}
			evidenceRefs = append(evidenceRefs, e.Artifact.String())
		}
		if len(values) > 1 {
			contradictions++
		}
	}
	if len(required) == 0 {
		sub.FieldCoverage = 10000
		sub.Evidence = 10000
	} else {
		sub.FieldCoverage = len(present) * 10000 / len(required)
		sub.Evidence = withEvidence * 10000 / len(required)
		sub.Contradiction = contradictions * 10000 / len(required)
	}
	slices.Sort(evidenceRefs)
	refs = append(refs, slices.Compact(evidenceRefs)...)

	switch c.Status {
	case model.CatalogActive:
		sub.CatalogStatus = statusActive
	case model.CatalogDeprecated:
		sub.CatalogStatus = statusDeprecated
	}

	if h := in.sig.context; h != nil {
		if i := slices.Index(h.RecentCapabilityIDs, c.ID); i >= 0 {
			sub.Context = model.ClampScore(10000 - contextDecay*i)
		}
		hintRef(*h, sub.Context)
	}
	for _, h := range in.sig.llm {
		if h.CapabilityID == c.ID && h.Confidence > sub.LLMAssist {
			sub.LLMAssist = h.Confidence
			hintRef(h, sub.LLMAssist)
		}
	}
	if h := in.sig.language; h != nil {
		if c.SupportsLanguage(h.Language) {
			sub.Language = h.Confidence
		}
		hintRef(*h, sub.Language)
	}
	if h := in.sig.repair; h != nil {
		if in.strength == strengthRepaired {
			sub.Repair = 10000
		}
		hintRef(*h, sub.Repair)
	}
	for _, h := range in.sig.memory {
		if h.PreferredCapabilityID == c.ID && sub.Memory == 0 {
			sub.Memory = 10000
			hintRef(h, sub.Memory)
		}
	}
	if bonus, ok := in.pol.CorrectionBonus[u.Intent][c.ID]; ok {
		sub.Correction = model.ClampScore(bonus)
	}

	sub.Ambiguity = in.ambiguity
	mismatch := in.pol.Denies(c)
	if mismatch {
		sub.PolicyMismatch = 10000
	}

	positive := (weightIntent*sub.Intent +
		weightFieldCoverage*sub.FieldCoverage +
		weightEvidence*sub.Evidence +
		weightStatus*sub.CatalogStatus +
		weightContext*sub.Context +
		weightLLMAssist*sub.LLMAssist +
		weightLanguage*sub.Language +
		weightRepair*sub.Repair +
		weightMemory*sub.Memory +
		weightCorrection*sub.Correction) / 10000
	penalty := (penaltyAmbiguity*sub.Ambiguity +
		penaltyContradiction*sub.Contradiction +
		penaltyPolicyMismatch*sub.PolicyMismatch) / 10000

	cand := model.Candidate{
		CapabilityID:         c.ID,
		Family:               c.Family,
		Score:                model.ClampScore(positive - penalty),
		Priority:             c.Priority,
		SubScores:            sub,
		PresentFields:        present,
		MissingFields:        missing,
		EvidenceRefs:         refs,
		RiskTier:             c.RiskTier,
		RequiresConfirmation: c.RequiresConfirmation,
		AccessAction:         c.AccessAction,
		CatalogStatus:        c.Status,
		PolicyMismatch:       mismatch,
		CatalogVersion:       in.cat.Version,
		PolicyRef:            in.pol.Ref(),
		FieldFingerprint:     model.FieldFingerprint(required, u.Fields),
	}
	cand.Fingerprint = cand.ComputeFingerprint()
	return cand
}
