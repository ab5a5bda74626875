package model

// SubScores are the per-signal components of a candidate score, each 0..10000.
type SubScores struct {
	Intent        int `json:"intent"`
	FieldCoverage int `json:"field_coverage"`
	Evidence      int `json:"evidence"`
	CatalogStatus int `json:"catalog_status"`
	Context       int `json:"context"`
	LLMAssist     int `json:"llm_assist"`
	Language      int `json:"language"`
	Repair        int `json:"repair"`
	Memory        int `json:"memory"`
	Correction    int `json:"correction"`

	Ambiguity      int `json:"ambiguity"`
	Contradiction  int `json:"contradiction"`
	PolicyMismatch int `json:"policy_mismatch"`
}

type Candidate struct {
	CapabilityID         string        `json:"capability_id"`
	Family               string        `json:"family"`
	Score                int           `json:"score"`
	Priority             int           `json:"priority"`
	SubScores            SubScores     `json:"sub_scores"`
	PresentFields        []string      `json:"present_fields,omitempty"`
	MissingFields        []string      `json:"missing_fields,omitempty"`
	EvidenceRefs         []string      `json:"evidence_refs"`
	RiskTier             RiskTier      `json:"risk_tier"`
	RequiresConfirmation bool          `json:"requires_confirmation"`
	AccessAction         string        `json:"access_action"`
	CatalogStatus        CatalogStatus `json:"catalog_status"`
	PolicyMismatch       bool          `json:"policy_mismatch"`
	CatalogVersion       string        `json:"catalog_version"`
	PolicyRef            string        `json:"policy_ref"`
	FieldFingerprint     string        `json:"field_fingerprint"`
	Fingerprint          string        `json:"fingerprint"`
}

// ComputeFingerprint hashes the identity-relevant parts of a scored candidate.
func (c Candidate) ComputeFingerprint() string {
	return NewHasher("candidate").
		String(c.CapabilityID).
		Int(int64(c.Score)).
		String(c.FieldFingerprint).
		String(c.CatalogVersion).
		String(c.PolicyRef).
		Strings(c.EvidenceRefs).
		Sum()
}
