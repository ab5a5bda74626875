package model

import (
	"fmt"
	"slices"
	"sort"
)

type CatalogStatus string

const (
	CatalogActive     CatalogStatus = "active"
	CatalogDraft      CatalogStatus = "draft"
	CatalogDeprecated CatalogStatus = "deprecated"
	CatalogDisabled   CatalogStatus = "disabled"
)

func (s CatalogStatus) Valid() bool {
	switch s {
	case CatalogActive, CatalogDraft, CatalogDeprecated, CatalogDisabled:
		return true
	}
	return false
}

// Rankable reports whether entries in this status may become action candidates.
func (s CatalogStatus) Rankable() bool {
	return s == CatalogActive || s == CatalogDeprecated
}

type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// Rank orders tiers from 1 (low) to 4 (critical). Unknown tiers rank 0.
func (r RiskTier) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// Score maps a tier onto the 0..10000 sub-score scale.
func (r RiskTier) Score() int {
	return r.Rank() * 2500
}

func (r RiskTier) Valid() bool { return r.Rank() > 0 }

// MaxRisk returns the higher of two tiers.
func MaxRisk(a, b RiskTier) RiskTier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

type FieldSpec struct {
	Name string `yaml:"name" json:"name"`
	// Cardinality is the number of distinct plausible values. Zero means unbounded.
	Cardinality int      `yaml:"cardinality" json:"cardinality"`
	Shapes      []string `yaml:"shapes" json:"shapes,omitempty"`
	Risk        RiskTier `yaml:"risk" json:"risk"`
}

type Capability struct {
	ID                   string        `yaml:"id" json:"id"`
	Family               string        `yaml:"family" json:"family"`
	Status               CatalogStatus `yaml:"status" json:"status"`
	RiskTier             RiskTier      `yaml:"risk_tier" json:"risk_tier"`
	RequiresConfirmation bool          `yaml:"requires_confirmation" json:"requires_confirmation"`
	AccessAction         string        `yaml:"access_action" json:"access_action"`
	RequiredFields       []FieldSpec   `yaml:"required_fields" json:"required_fields,omitempty"`
	Priority             int           `yaml:"priority" json:"priority"`
	Synonyms             []string      `yaml:"synonyms" json:"synonyms,omitempty"`
	Languages            []string      `yaml:"languages" json:"languages,omitempty"`
	Tenants              []string      `yaml:"tenants" json:"tenants,omitempty"`
}

// VisibleTo reports whether the capability is offered to the tenant. An empty
// tenant list means every tenant.
func (c Capability) VisibleTo(tenantID string) bool {
	return len(c.Tenants) == 0 || slices.Contains(c.Tenants, tenantID)
}

func (c Capability) SupportsLanguage(lang string) bool {
	return len(c.Languages) == 0 || slices.Contains(c.Languages, lang) || slices.Contains(c.Languages, BaseLanguage(lang))
}

// RequiredFieldNames returns required field names in ascending order.
func (c Capability) RequiredFieldNames() []string {
	names := make([]string, 0, len(c.RequiredFields))
	for _, f := range c.RequiredFields {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func (c Capability) Field(name string) (FieldSpec, bool) {
	for _, f := range c.RequiredFields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

type CatalogSnapshot struct {
	Version      string       `yaml:"version" json:"version"`
	Sequence     int          `yaml:"sequence" json:"sequence"`
	Capabilities []Capability `yaml:"capabilities" json:"capabilities"`
}

// Ref identifies a catalog entry as of this snapshot, e.g. "catalog:2026-10-01:payment.send:active".
func (s CatalogSnapshot) Ref(c Capability) string {
	return fmt.Sprintf("catalog:%s:%s:%s", s.Version, c.ID, c.Status)
}

func (s CatalogSnapshot) Get(id string) (Capability, bool) {
	for _, c := range s.Capabilities {
		if c.ID == id {
			return c, true
		}
	}
	return Capability{}, false
}

// ActiveFor returns the capability only when it is Active and visible to the tenant.
func (s CatalogSnapshot) ActiveFor(tenantID, id string) (Capability, bool) {
	c, ok := s.Get(id)
	if !ok || c.Status != CatalogActive || !c.VisibleTo(tenantID) {
		return Capability{}, false
	}
	return c, true
}

// ByFamily lists the tenant-visible capabilities of a family in the given status,
// ordered by priority then id.
func (s CatalogSnapshot) ByFamily(tenantID, family string, status CatalogStatus) []Capability {
	var out []Capability
	for _, c := range s.Capabilities {
		if c.Family == family && c.Status == status && c.VisibleTo(tenantID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s CatalogSnapshot) Validate() error {
	if s.Version == "" {
		return fmt.Errorf("%w: catalog version is required", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(s.Capabilities))
	for _, c := range s.Capabilities {
		if c.ID == "" || c.Family == "" {
			return fmt.Errorf("%w: catalog %s: capability id and family are required", ErrInvalidInput, s.Version)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: catalog %s: duplicate capability %s", ErrInvalidInput, s.Version, c.ID)
		}
		seen[c.ID] = struct{}{}
		if !c.Status.Valid() {
			return fmt.Errorf("%w: catalog %s: capability %s has unknown status %q", ErrInvalidInput, s.Version, c.ID, c.Status)
		}
		if !c.RiskTier.Valid() {
			return fmt.Errorf("%w: catalog %s: capability %s has unknown risk tier %q", ErrInvalidInput, s.Version, c.ID, c.RiskTier)
		}
	}
	return nil
}
