package model

import "time"

type AccessDecision string

const (
	AccessAllow    AccessDecision = "allow"
	AccessDeny     AccessDecision = "deny"
	AccessEscalate AccessDecision = "escalate"
)

func (d AccessDecision) Valid() bool {
	return d == AccessAllow || d == AccessDeny || d == AccessEscalate
}

type AccessRequest struct {
	TenantID  string `json:"tenant_id"`
	SubjectID string `json:"subject_id"`
	Action    string `json:"action"`
	PolicyRef string `json:"policy_ref"`
	PlanID    int64  `json:"plan_id,omitempty"`
	StepID    int64  `json:"step_id,omitempty"`
}

type AccessResult struct {
	Decision    AccessDecision `json:"decision"`
	DecisionRef string         `json:"decision_ref"`
}

type DispatchStatus string

const (
	DispatchSucceeded       DispatchStatus = "succeeded"
	DispatchSkipped         DispatchStatus = "skipped"
	DispatchFailedRetryable DispatchStatus = "failed_retryable"
	DispatchFailedTerminal  DispatchStatus = "failed_terminal"
)

func (s DispatchStatus) Valid() bool {
	switch s {
	case DispatchSucceeded, DispatchSkipped, DispatchFailedRetryable, DispatchFailedTerminal:
		return true
	}
	return false
}

// StepStatus maps a dispatch outcome onto the step state it produces.
func (s DispatchStatus) StepStatus() StepStatus {
	switch s {
	case DispatchSucceeded:
		return StepSucceeded
	case DispatchSkipped:
		return StepSkipped
	case DispatchFailedRetryable:
		return StepFailedRetryable
	default:
		return StepFailedTerminal
	}
}

// DispatchEnvelope is the bounded request sent to the side-effect executor.
type DispatchEnvelope struct {
	TenantID        string            `json:"tenant_id"`
	SubjectID       string            `json:"subject_id"`
	PlanID          int64             `json:"plan_id"`
	StepID          int64             `json:"step_id"`
	CapabilityID    string            `json:"capability_id"`
	IdempotencyKey  string            `json:"idempotency_key"`
	Attempt         int               `json:"attempt"`
	ConfirmationRef string            `json:"confirmation_ref,omitempty"`
	PolicyRef       string            `json:"policy_ref"`
	// RollbackOf is the idempotency key of the dispatch this one undoes.
	RollbackOf      string            `json:"rollback_of,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
}

type DispatchOutcome struct {
	Status   DispatchStatus `json:"status"`
	ProofRef string         `json:"proof_ref,omitempty"`
	Detail   string         `json:"detail,omitempty"`
}

type IdempotencyClaim struct {
	TenantID    string           `json:"tenant_id"`
	Key         string           `json:"key"`
	PlanID      int64            `json:"plan_id"`
	StepID      int64            `json:"step_id"`
	Attempt     int              `json:"attempt"`
	Outcome     *DispatchOutcome `json:"outcome,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	// LeasedAt is when the current owner took the claim. An unfinished claim
	// leased more recently than the executor's lease is still in flight.
	LeasedAt time.Time `json:"leased_at"`
}
