package model

import (
	"fmt"
	"slices"
	"sort"
)

type StepTemplate struct {
	ID           string `yaml:"id" json:"id"`
	Ordinal      int    `yaml:"ordinal" json:"ordinal"`
	CapabilityID string `yaml:"capability_id" json:"capability_id,omitempty"`
	// RequiresConfirmation overrides the catalog flag when set.
	RequiresConfirmation *bool  `yaml:"requires_confirmation" json:"requires_confirmation,omitempty"`
	AccessAction         string `yaml:"access_action" json:"access_action,omitempty"`
	MaxAttempts          int    `yaml:"max_attempts" json:"max_attempts,omitempty"`
	Rollback             string `yaml:"rollback" json:"rollback,omitempty"`
	RollbackOnly         bool   `yaml:"rollback_only" json:"rollback_only,omitempty"`
}

type TemplateSet struct {
	ID       string `yaml:"id" json:"id"`
	Version  string `yaml:"version" json:"version"`
	Family   string `yaml:"family" json:"family"`
	Sequence int    `yaml:"sequence" json:"sequence"`

	// Capabilities restricts the set to these matched capabilities. Empty means
	// every capability of the family.
	Capabilities []string       `yaml:"capabilities" json:"capabilities,omitempty"`
	Steps        []StepTemplate `yaml:"steps" json:"steps"`
}

func (t TemplateSet) Ref() string { return t.ID + "@" + t.Version }

func (t TemplateSet) AppliesTo(capabilityID string) bool {
	return len(t.Capabilities) == 0 || slices.Contains(t.Capabilities, capabilityID)
}

// OrderedSteps returns the steps sorted by ordinal then id.
func (t TemplateSet) OrderedSteps() []StepTemplate {
	steps := append([]StepTemplate(nil), t.Steps...)
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Ordinal != steps[j].Ordinal {
			return steps[i].Ordinal < steps[j].Ordinal
		}
		return steps[i].ID < steps[j].ID
	})
	return steps
}

func (t TemplateSet) Validate() error {
	if t.ID == "" || t.Version == "" || t.Family == "" {
		return fmt.Errorf("%w: template set id, version and family are required", ErrInvalidInput)
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("%w: template %s has no steps", ErrInvalidInput, t.Ref())
	}
	ids := make(map[string]StepTemplate, len(t.Steps))
	mainSteps := 0
	for _, s := range t.Steps {
		if s.ID == "" {
			return fmt.Errorf("%w: template %s has a step without id", ErrInvalidInput, t.Ref())
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("%w: template %s repeats step %s", ErrInvalidInput, t.Ref(), s.ID)
		}
		ids[s.ID] = s
		if !s.RollbackOnly {
			mainSteps++
		}
	}
	if mainSteps == 0 {
		return fmt.Errorf("%w: template %s has only rollback steps", ErrInvalidInput, t.Ref())
	}
	for _, s := range t.Steps {
		if s.Rollback == "" {
			continue
		}
		rb, ok := ids[s.Rollback]
		if !ok || !rb.RollbackOnly {
			return fmt.Errorf("%w: template %s step %s rolls back to %q which is not a rollback step", ErrInvalidInput, t.Ref(), s.ID, s.Rollback)
		}
		if s.RollbackOnly {
			return fmt.Errorf("%w: template %s rollback step %s cannot have its own rollback", ErrInvalidInput, t.Ref(), s.ID)
		}
	}
	return nil
}

// TemplateRegistry maps a capability family onto its current template set.
type TemplateRegistry map[string]TemplateSet

type LexiconEntry struct {
	Affirm    []string `yaml:"affirm" json:"affirm"`
	Deny      []string `yaml:"deny" json:"deny"`
	Ambiguous []string `yaml:"ambiguous" json:"ambiguous,omitempty"`
}

// ConfirmationLexicon lists, per language, the phrases that count as a yes or a no.
type ConfirmationLexicon struct {
	Version   string                  `yaml:"version" json:"version"`
	Sequence  int                     `yaml:"sequence" json:"sequence"`
	Languages map[string]LexiconEntry `yaml:"languages" json:"languages"`
}

func (l ConfirmationLexicon) Entry(lang string) (LexiconEntry, bool) {
	if e, ok := l.Languages[lang]; ok {
		return e, true
	}
	e, ok := l.Languages[BaseLanguage(lang)]
	return e, ok
}
