package model

import (
	"fmt"
	"time"
)

type PlanStatus string

const (
	PlanCreated        PlanStatus = "created"
	PlanWaitingConfirm PlanStatus = "waiting_confirm"
	PlanWaitingClarify PlanStatus = "waiting_clarify"
	PlanReady          PlanStatus = "ready"
	PlanInProgress     PlanStatus = "in_progress"
	PlanPaused         PlanStatus = "paused"
	PlanCompleted      PlanStatus = "completed"
	PlanFailed         PlanStatus = "failed"
	PlanCancelled      PlanStatus = "cancelled"
)

func isAllowedPlanTransition(from, to PlanStatus) bool {
	switch from {
	case PlanCreated:
		return to == PlanWaitingConfirm || to == PlanWaitingClarify || to == PlanReady
	case PlanWaitingConfirm, PlanWaitingClarify:
		return to == PlanInProgress || to == PlanCancelled
	case PlanReady:
		return to == PlanInProgress
	case PlanInProgress:
		return to == PlanPaused || to == PlanCompleted || to == PlanFailed
	case PlanPaused:
		return to == PlanInProgress || to == PlanCancelled
	default:
		return false
	}
}

func ValidatePlanTransition(from, to PlanStatus) error {
	if !isAllowedPlanTransition(from, to) {
		return fmt.Errorf("%w: plan %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func (s PlanStatus) Closed() bool {
	return s == PlanCompleted || s == PlanFailed || s == PlanCancelled
}

func (s PlanStatus) Cancellable() bool {
	return s == PlanPaused || s == PlanWaitingConfirm || s == PlanWaitingClarify
}

type StepStatus string

const (
	StepPending         StepStatus = "pending"
	StepWaitingConfirm  StepStatus = "waiting_confirm"
	StepWaitingClarify  StepStatus = "waiting_clarify"
	StepReady           StepStatus = "ready"
	StepExecuting       StepStatus = "executing"
	StepSucceeded       StepStatus = "succeeded"
	StepFailedRetryable StepStatus = "failed_retryable"
	StepFailedTerminal  StepStatus = "failed_terminal"
	StepSkipped         StepStatus = "skipped"
)

func isAllowedStepTransition(from, to StepStatus) bool {
	switch from {
	case StepPending:
		return to == StepWaitingConfirm || to == StepWaitingClarify || to == StepReady
	case StepWaitingClarify:
		return to == StepExecuting || to == StepWaitingConfirm
	case StepWaitingConfirm, StepReady:
		return to == StepExecuting
	case StepExecuting:
		return to == StepSucceeded || to == StepFailedRetryable || to == StepFailedTerminal || to == StepSkipped
	case StepFailedRetryable:
		return to == StepReady || to == StepFailedTerminal
	default:
		return false
	}
}

func ValidateStepTransition(from, to StepStatus) error {
	if !isAllowedStepTransition(from, to) {
		return fmt.Errorf("%w: step %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Terminal reports whether the step can no longer change.
func (s StepStatus) Terminal() bool {
	return s == StepSucceeded || s == StepFailedTerminal || s == StepSkipped
}

// Satisfied reports whether the step lets the plan move on. Skipped counts as success.
func (s StepStatus) Satisfied() bool {
	return s == StepSucceeded || s == StepSkipped
}

// Waiting reports whether the step is suspended on user input.
func (s StepStatus) Waiting() bool {
	return s == StepWaitingConfirm || s == StepWaitingClarify
}

type Plan struct {
	ID                    int64      `json:"id"`
	TenantID              string     `json:"tenant_id"`
	CycleID               string     `json:"cycle_id"`
	UserID                string     `json:"user_id"`
	SubjectID             string     `json:"subject_id"`
	CapabilityID          string     `json:"capability_id"`
	Family                string     `json:"family"`
	CandidateFingerprint  string     `json:"candidate_fingerprint"`
	TemplateRef           string     `json:"template_ref"`
	PolicyRef             string     `json:"policy_ref"`
	CatalogVersion        string     `json:"catalog_version"`
	LexiconVersion        string     `json:"lexicon_version"`
	Language              string     `json:"language"`
	Fingerprint           string     `json:"fingerprint"`
	StepIDs               []int64    `json:"step_ids"`
	RiskTier              RiskTier   `json:"risk_tier"`
	RequiredConfirmations int        `json:"required_confirmations"`
	Status                PlanStatus `json:"status"`
	Reason                ReasonCode `json:"reason,omitempty"`
	OperatorRequired      bool       `json:"operator_required,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Sequence              int64      `json:"sequence"`
}

type Step struct {
	ID                   int64             `json:"id"`
	PlanID               int64             `json:"plan_id"`
	TenantID             string            `json:"tenant_id"`
	TemplateStepID       string            `json:"template_step_id"`
	Ordinal              int               `json:"ordinal"`
	CapabilityID         string            `json:"capability_id"`
	RequiredFields       []string          `json:"required_fields,omitempty"`
	Fields               map[string]string `json:"fields,omitempty"`
	FieldFingerprint     string            `json:"field_fingerprint"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
	AccessAction         string            `json:"access_action"`
	MaxAttempts          int               `json:"max_attempts"`
	Attempt              int               `json:"attempt"`
	RollbackStepID       *int64            `json:"rollback_step_id,omitempty"`
	RollbackOnly         bool              `json:"rollback_only,omitempty"`
	Fingerprint          string            `json:"fingerprint"`
	Status               StepStatus        `json:"status"`
	Reason               ReasonCode        `json:"reason,omitempty"`
	ConfirmationRef      string            `json:"confirmation_ref,omitempty"`
	IdempotencyKey       string            `json:"idempotency_key,omitempty"`
	ProofRef             string            `json:"proof_ref,omitempty"`
	Outcome              *DispatchOutcome  `json:"outcome,omitempty"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

func (s Step) MissingFields() []string {
	return MissingFields(s.RequiredFields, s.Fields)
}

// IdempotencyKeyFor derives the dispatch key for the step's current attempt.
func IdempotencyKeyFor(tenantID string, planID int64, s Step) string {
	return "idem_" + NewHasher("idempotency").
		String(tenantID).
		Int(planID).
		Int(s.ID).
		Int(int64(s.Attempt)).
		String(s.CapabilityID).
		String(s.FieldFingerprint).
		Sum()
}
