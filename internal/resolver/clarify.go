package resolver

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"selene.app/actioncore/internal/model"
)

// FieldChoice is the field a clarification asks for and how it was scored.
type FieldChoice struct {
	Field       string
	Shapes      []string
	Entropy     int
	Cardinality int
	Split       int
	Risk        int
}

type fieldStats struct {
	requiredBy  int
	cardinality int
	unbounded   bool
	risk        int
	shapes      []string
}

// SelectField picks the missing field whose answer best separates the ranked
// candidates. It returns the reserved intent field when nothing is missing.
func SelectField(cands []model.Candidate, cat model.CatalogSnapshot) FieldChoice {
	missing := map[string]bool{}
	for _, c := range cands {
		for _, f := range c.MissingFields {
			missing[f] = true
		}
	}
	if len(missing) == 0 {
		return IntentChoice()
	}

	stats := map[string]*fieldStats{}
	for _, cand := range cands {
		capability, ok := cat.Get(cand.CapabilityID)
		if !ok {
			continue
		}
		for _, spec := range capability.RequiredFields {
			if !missing[spec.Name] {
				continue
			}
			st, ok := stats[spec.Name]
			if !ok {
				st = &fieldStats{}
				stats[spec.Name] = st
			}
			st.requiredBy++
			if spec.Cardinality == 0 {
				st.unbounded = true
			} else {
				st.cardinality = max(st.cardinality, spec.Cardinality)
			}
			tier := spec.Risk
			if !tier.Valid() {
				tier = capability.RiskTier
			}
			st.risk = max(st.risk, tier.Score())
			st.shapes = append(st.shapes, spec.Shapes...)
		}
	}

	n := len(cands)
	var choices []FieldChoice
	for name, st := range stats {
		card := 10000
		if !st.unbounded {
			card = model.ClampScore(1000 * st.cardinality)
		}
		split := splitScore(st.requiredBy, n)
		shapes := append([]string(nil), st.shapes...)
		sort.Strings(shapes)
		choices = append(choices, FieldChoice{
			Field:       name,
			Shapes:      slices.Compact(shapes),
			Cardinality: card,
			Split:       split,
			Risk:        st.risk,
			Entropy:     (3*card + 4*split + 3*st.risk) / 10,
		})
	}
	if len(choices) == 0 {
		return IntentChoice()
	}
	sort.Slice(choices, func(i, j int) bool {
		a, b := choices[i], choices[j]
		if a.Entropy != b.Entropy {
			return a.Entropy > b.Entropy
		}
		if a.Risk != b.Risk {
			return a.Risk > b.Risk
		}
		return a.Field < b.Field
	})
	return choices[0]
}

// splitScore rewards fields that divide the candidate set evenly.
func splitScore(r, n int) int {
	if n <= 0 {
		return 0
	}
	if n == 1 {
		return model.ClampScore(10000 * r)
	}
	return model.ClampScore(40000 * r * (n - r) / (n * n))
}

func IntentChoice() FieldChoice {
	return FieldChoice{Field: model.IntentField, Shapes: []string{"text"}}
}

// Question renders the prompt for a field at a given attempt. Each attempt
// index has distinct wording.
func Question(field string, attempt int, shapes []string) string {
	if field == model.IntentField {
		switch attempt {
		case 1:
			return "What would you like me to do?"
		case 2:
			return "Sorry, I didn't catch that. What would you like me to do?"
		default:
			return fmt.Sprintf("Could you describe what you want in a few words? (attempt %d)", attempt)
		}
	}
	label := strings.ReplaceAll(field, "_", " ")
	switch attempt {
	case 1:
		return fmt.Sprintf("What %s should I use?", label)
	case 2:
		return fmt.Sprintf("Sorry, I still need the %s. Could you tell me?", label)
	default:
		hint := ""
		if len(shapes) > 0 {
			hint = " as " + strings.Join(shapes, " or ")
		}
		return fmt.Sprintf("Please give the %s%s. (attempt %d)", label, hint, attempt)
	}
}
