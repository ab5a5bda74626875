package model

import "fmt"

type PacketKind string

const (
	PacketMatch         PacketKind = "match"
	PacketClarify       PacketKind = "clarify"
	PacketRefuse        PacketKind = "refuse"
	PacketCapabilityGap PacketKind = "capability_gap"
)

// ProofCheck is one step of the capability-existence proof, in the order run.
type ProofCheck struct {
	Check  CatalogStatus `json:"check"`
	Family string        `json:"family"`
	Found  bool          `json:"found"`
	Ref    string        `json:"ref,omitempty"`
}

type ActionKind string

const (
	ActionConfirm  ActionKind = "confirm"
	ActionClarify  ActionKind = "clarify"
	ActionDispatch ActionKind = "dispatch"
	ActionNone     ActionKind = "none"
)

// PendingAction describes what the plan needs next from the user or the system.
type PendingAction struct {
	Kind          ActionKind `json:"kind"`
	StepID        int64      `json:"step_id,omitempty"`
	CapabilityID  string     `json:"capability_id,omitempty"`
	StepStatus    StepStatus `json:"step_status,omitempty"`
	MissingFields []string   `json:"missing_fields,omitempty"`
	Prompt        string     `json:"prompt,omitempty"`
}

type MatchResult struct {
	Candidate       Candidate     `json:"candidate"`
	PlanID          int64         `json:"plan_id"`
	PlanFingerprint string        `json:"plan_fingerprint"`
	PlanStatus      PlanStatus    `json:"plan_status"`
	FirstAction     PendingAction `json:"first_action"`
}

type ClarifyResult struct {
	ClarificationID int64    `json:"clarification_id"`
	Field           string   `json:"field"`
	Question        string   `json:"question"`
	AllowedShapes   []string `json:"allowed_shapes,omitempty"`
	AttemptIndex    int      `json:"attempt_index"`
	AttemptCeiling  int      `json:"attempt_ceiling"`
}

type RefuseResult struct {
	Message  string `json:"message"`
	DraftRef string `json:"draft_ref,omitempty"`
}

type GapResult struct {
	GapID             int64      `json:"gap_id"`
	Status            GapStatus  `json:"status"`
	DedupeFingerprint string     `json:"dedupe_fingerprint"`
	DayBucket         string     `json:"day_bucket"`
	Occurrences       int64      `json:"occurrences"`
	Worthiness        Worthiness `json:"worthiness"`
	Merged            bool       `json:"merged"`
	Forwarded         bool       `json:"forwarded"`
	Message           string     `json:"message"`
}

// Packet is the single terminal output of a resolution cycle. Exactly one of the
// result pointers is set and it matches Kind.
type Packet struct {
	Kind           PacketKind     `json:"kind"`
	Reason         ReasonCode     `json:"reason"`
	TenantID       string         `json:"tenant_id"`
	CycleID        string         `json:"cycle_id"`
	Turn           int            `json:"turn"`
	CatalogVersion string         `json:"catalog_version"`
	PolicyRef      string         `json:"policy_ref"`
	EvidenceRefs   []string       `json:"evidence_refs,omitempty"`
	Proof          []ProofCheck   `json:"proof,omitempty"`
	Candidates     []Candidate    `json:"candidates,omitempty"`
	Match          *MatchResult   `json:"match,omitempty"`
	Clarify        *ClarifyResult `json:"clarify,omitempty"`
	Refuse         *RefuseResult  `json:"refuse,omitempty"`
	Gap            *GapResult     `json:"gap,omitempty"`
}

func (p Packet) Validate() error {
	set := 0
	for _, ok := range []bool{p.Match != nil, p.Clarify != nil, p.Refuse != nil, p.Gap != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("packet %s carries %d results", p.Kind, set)
	}
	switch {
	case p.Kind == PacketMatch && p.Match != nil,
		p.Kind == PacketClarify && p.Clarify != nil,
		p.Kind == PacketRefuse && p.Refuse != nil,
		p.Kind == PacketCapabilityGap && p.Gap != nil:
		return nil
	}
	return fmt.Errorf("packet kind %s does not match its result", p.Kind)
}
