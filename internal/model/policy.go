package model

import (
	"fmt"
	"slices"
	"strings"
)

type EscalationPolicy string

const (
	EscalateCapabilityCheck EscalationPolicy = "capability_check"
	EscalateRefuse          EscalationPolicy = "refuse"
)

// Calibration holds the ranker thresholds. All scores are on the 0..10000 scale.
type Calibration struct {
	DirectMatch        int              `yaml:"direct_match" json:"direct_match"`
	ClarifyEligible    int              `yaml:"clarify_eligible" json:"clarify_eligible"`
	TieMargin          int              `yaml:"tie_margin" json:"tie_margin"`
	ClarifyCeiling     int              `yaml:"clarify_ceiling" json:"clarify_ceiling"`
	OnClarifyExhausted EscalationPolicy `yaml:"on_clarify_exhausted" json:"on_clarify_exhausted"`
	TopK               int              `yaml:"top_k" json:"top_k"`
}

type GapPolicy struct {
	FrequencyWeight   int `yaml:"frequency_weight" json:"frequency_weight"`
	ValueWeight       int `yaml:"value_weight" json:"value_weight"`
	ROIWeight         int `yaml:"roi_weight" json:"roi_weight"`
	FeasibilityWeight int `yaml:"feasibility_weight" json:"feasibility_weight"`
	RiskWeight        int `yaml:"risk_weight" json:"risk_weight"`

	ValueFloor  int `yaml:"value_floor" json:"value_floor"`
	RiskCeiling int `yaml:"risk_ceiling" json:"risk_ceiling"`

	UserDailyLimit       int64 `yaml:"user_daily_limit" json:"user_daily_limit"`
	TenantDailyLimit     int64 `yaml:"tenant_daily_limit" json:"tenant_daily_limit"`
	CapabilityDailyLimit int64 `yaml:"capability_daily_limit" json:"capability_daily_limit"`

	DefaultValue       int            `yaml:"default_value" json:"default_value"`
	DefaultFeasibility int            `yaml:"default_feasibility" json:"default_feasibility"`
	DefaultRisk        int            `yaml:"default_risk" json:"default_risk"`
	FamilyValue        map[string]int `yaml:"family_value" json:"family_value,omitempty"`
	FamilyFeasibility  map[string]int `yaml:"family_feasibility" json:"family_feasibility,omitempty"`
	FamilyRisk         map[string]int `yaml:"family_risk" json:"family_risk,omitempty"`
}

func (g GapPolicy) Estimates(family string) (value, feasibility, risk int) {
	value, feasibility, risk = g.DefaultValue, g.DefaultFeasibility, g.DefaultRisk
	if v, ok := g.FamilyValue[family]; ok {
		value = v
	}
	if v, ok := g.FamilyFeasibility[family]; ok {
		feasibility = v
	}
	if v, ok := g.FamilyRisk[family]; ok {
		risk = v
	}
	return value, feasibility, risk
}

type RetryPolicy struct {
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// PolicySnapshot is the versioned calibration for one tenant and language cohort.
// TenantID and Cohort may be "*" to act as a fallback.
type PolicySnapshot struct {
	Version  string `yaml:"version" json:"version"`
	Sequence int    `yaml:"sequence" json:"sequence"`
	TenantID string `yaml:"tenant_id" json:"tenant_id"`
	Cohort   string `yaml:"cohort" json:"cohort"`

	Calibration        Calibration               `yaml:"calibration" json:"calibration"`
	Vocabulary         map[string][]string       `yaml:"vocabulary" json:"vocabulary,omitempty"`
	FamilyAliases      map[string]string         `yaml:"family_aliases" json:"family_aliases,omitempty"`
	CorrectionBonus    map[string]map[string]int `yaml:"correction_bonus" json:"correction_bonus,omitempty"`
	DeniedCapabilities []string                  `yaml:"denied_capabilities" json:"denied_capabilities,omitempty"`
	MaxRiskTier        RiskTier                  `yaml:"max_risk_tier" json:"max_risk_tier,omitempty"`
	UnsafeTerms        []string                  `yaml:"unsafe_terms" json:"unsafe_terms,omitempty"`
	Gap                GapPolicy                 `yaml:"gap" json:"gap"`
	Retry              RetryPolicy               `yaml:"retry" json:"retry"`
}

func (p PolicySnapshot) Ref() string {
	return fmt.Sprintf("policy:%s:%s:%s", p.TenantID, p.Cohort, p.Version)
}

// FamilyOf maps a normalized intent onto a capability family. Without an alias the
// family is the intent prefix before the first dot.
func (p PolicySnapshot) FamilyOf(intent string) string {
	if f, ok := p.FamilyAliases[intent]; ok {
		return f
	}
	if i := strings.IndexByte(intent, '.'); i > 0 {
		return intent[:i]
	}
	return intent
}

// Denies reports whether the capability is outside this tenant's policy.
func (p PolicySnapshot) Denies(c Capability) bool {
	if slices.Contains(p.DeniedCapabilities, c.ID) {
		return true
	}
	return p.MaxRiskTier != "" && c.RiskTier.Rank() > p.MaxRiskTier.Rank()
}

// IsUnsafe reports whether the intent or transcript contains a term the policy
// refuses outright.
func (p PolicySnapshot) IsUnsafe(u Understanding) bool {
	if len(p.UnsafeTerms) == 0 {
		return false
	}
	haystack := " " + NormalizeText(u.Intent) + " " + NormalizeText(u.Transcript) + " "
	for _, term := range p.UnsafeTerms {
		t := NormalizeText(term)
		if t != "" && strings.Contains(haystack, " "+t+" ") {
			return true
		}
	}
	return false
}

func (p PolicySnapshot) Validate() error {
	if p.Version == "" || p.TenantID == "" || p.Cohort == "" {
		return fmt.Errorf("%w: policy version, tenant_id and cohort are required", ErrInvalidInput)
	}
	c := p.Calibration
	if c.DirectMatch < c.ClarifyEligible {
		return fmt.Errorf("%w: policy %s: direct_match below clarify_eligible", ErrInvalidInput, p.Ref())
	}
	if c.ClarifyCeiling < 0 || c.TieMargin < 0 || c.TopK < 0 {
		return fmt.Errorf("%w: policy %s: negative calibration value", ErrInvalidInput, p.Ref())
	}
	switch c.OnClarifyExhausted {
	case EscalateCapabilityCheck, EscalateRefuse:
	default:
		return fmt.Errorf("%w: policy %s: unknown escalation %q", ErrInvalidInput, p.Ref(), c.OnClarifyExhausted)
	}
	g := p.Gap
	if sum := g.FrequencyWeight + g.ValueWeight + g.ROIWeight + g.FeasibilityWeight; sum != 10000 {
		return fmt.Errorf("%w: policy %s: gap weights sum to %d, want 10000", ErrInvalidInput, p.Ref(), sum)
	}
	if p.MaxRiskTier != "" && !p.MaxRiskTier.Valid() {
		return fmt.Errorf("%w: policy %s: unknown max_risk_tier %q", ErrInvalidInput, p.Ref(), p.MaxRiskTier)
	}
	return nil
}
