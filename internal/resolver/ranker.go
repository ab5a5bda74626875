package resolver

import (
	"sort"

	"selene.app/actioncore/internal/model"
)

const defaultTopK = 5

// Ranking is the ordered output of one ranking pass.
type Ranking struct {
	// Candidates are eligible, ordered and truncated to top-K.
	Candidates []model.Candidate
	// Mismatched were scored but fall outside the tenant's policy.
	Mismatched []model.Candidate
	Unsafe     bool
}

func (r Ranking) Top() (model.Candidate, bool) {
	if len(r.Candidates) == 0 {
		return model.Candidate{}, false
	}
	return r.Candidates[0], true
}

// Margin is the score gap between the top two candidates. A single candidate's
// margin is its own score.
func (r Ranking) Margin() int {
	switch len(r.Candidates) {
	case 0:
		return 0
	case 1:
		return r.Candidates[0].Score
	default:
		return r.Candidates[0].Score - r.Candidates[1].Score
	}
}

func less(a, b model.Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CapabilityID < b.CapabilityID
}

// candidateIDs lists every capability any signal points at, in first-seen order.
func candidateIDs(u model.Understanding, cat model.CatalogSnapshot, pol model.PolicySnapshot, sig signals) []string {
	seen := map[string]struct{}{}
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, term := range []string{u.Intent, sig.repairedIntent()} {
		if term == "" {
			continue
		}
		for _, id := range pol.Vocabulary[term] {
			add(id)
		}
		for _, c := range cat.Capabilities {
			if d, s := matchesTerm(c, term, pol); d || s {
				add(c.ID)
			}
		}
	}
	bonusIDs := make([]string, 0, len(pol.CorrectionBonus[u.Intent]))
	for id := range pol.CorrectionBonus[u.Intent] {
		bonusIDs = append(bonusIDs, id)
	}
	sort.Strings(bonusIDs)
	for _, id := range bonusIDs {
		add(id)
	}
	if sig.context != nil {
		for _, id := range sig.context.RecentCapabilityIDs {
			add(id)
		}
	}
	for _, h := range sig.llm {
		add(h.CapabilityID)
	}
	for _, h := range sig.memory {
		add(h.PreferredCapabilityID)
	}
	return ids
}

// Rank scores every reachable capability against the understanding. It is a
// pure function of its inputs.
func Rank(u model.Understanding, cat model.CatalogSnapshot, pol model.PolicySnapshot) Ranking {
	if pol.IsUnsafe(u) {
		return Ranking{Unsafe: true}
	}
	sig := collectSignals(u.Hints)

	type reach struct {
		capability model.Capability
		strength   int
	}
	var reachable []reach
	direct := 0
	for _, id := range candidateIDs(u, cat, pol, sig) {
		c, ok := cat.Get(id)
		if !ok || !c.Status.Rankable() || !c.VisibleTo(u.TenantID) {
			continue
		}
		strength := matchStrength(c, u.Intent, sig, pol)
		if strength == strengthDirect {
			direct++
		}
		reachable = append(reachable, reach{capability: c, strength: strength})
	}
	ambiguity := model.ClampScore(max(0, direct-1) * ambiguityPerDirect)

	var out Ranking
	for _, r := range reachable {
		cand := score(scoreInput{
			u:          u,
			sig:        sig,
			pol:        pol,
			cat:        cat,
			ambiguity:  ambiguity,
			capability: r.capability,
			strength:   r.strength,
		})
		if cand.PolicyMismatch {
			out.Mismatched = append(out.Mismatched, cand)
		} else {
			out.Candidates = append(out.Candidates, cand)
		}
	}

	sort.SliceStable(out.Candidates, func(i, j int) bool { return less(out.Candidates[i], out.Candidates[j]) })
	sort.SliceStable(out.Mismatched, func(i, j int) bool { return less(out.Mismatched[i], out.Mismatched[j]) })

	k := pol.Calibration.TopK
	if k <= 0 {
		k = defaultTopK
	}
	if len(out.Candidates) > k {
		out.Candidates = out.Candidates[:k]
	}
	if len(out.Mismatched) > k {
		out.Mismatched = out.Mismatched[:k]
	}
	return out
}
