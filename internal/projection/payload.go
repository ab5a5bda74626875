package projection

import "selene.app/actioncore/internal/model"

// PlanCreated carries the full materialized plan shape.
type PlanCreated struct {
	Plan  model.Plan   `json:"plan"`
	Steps []model.Step `json:"steps"`
}

type PlanTransition struct {
	OperatorRequired bool `json:"operator_required,omitempty"`
}

// StepTransition carries the data a step gains when it changes status. Zero
// values leave the step unchanged.
type StepTransition struct {
	Attempt          int                    `json:"attempt,omitempty"`
	Fields           map[string]string      `json:"fields,omitempty"`
	FieldFingerprint string                 `json:"field_fingerprint,omitempty"`
	ConfirmationRef  string                 `json:"confirmation_ref,omitempty"`
	IdempotencyKey   string                 `json:"idempotency_key,omitempty"`
	ProofRef         string                 `json:"proof_ref,omitempty"`
	Outcome          *model.DispatchOutcome `json:"outcome,omitempty"`
}

type FieldsSupplied struct {
	Fields           map[string]string `json:"fields"`
	FieldFingerprint string            `json:"field_fingerprint"`
}

type GapCreated struct {
	Record      model.GapRecord `json:"record"`
	CounterKeys []string        `json:"counter_keys"`
}

type GapMerged struct {
	Reporter    string           `json:"reporter"`
	Occurrences int64            `json:"occurrences"`
	Worthiness  model.Worthiness `json:"worthiness"`
	CounterKeys []string         `json:"counter_keys"`
}

type GapTransition struct {
	DedupedInto   *int64 `json:"deduped_into,omitempty"`
	ResolutionRef string `json:"resolution_ref,omitempty"`
}

type ClarificationClosed struct {
	AttemptIndex int `json:"attempt_index"`
}

// ResolutionDecided audits the terminal packet of one resolution turn.
type ResolutionDecided struct {
	Turn                 int              `json:"turn"`
	Kind                 model.PacketKind `json:"kind"`
	CandidateFingerprint string           `json:"candidate_fingerprint,omitempty"`
	CatalogVersion       string           `json:"catalog_version"`
	PolicyRef            string           `json:"policy_ref"`
	PlanID               int64            `json:"plan_id,omitempty"`
	GapID                int64            `json:"gap_id,omitempty"`
	EvidenceRefs         []string         `json:"evidence_refs,omitempty"`
}
