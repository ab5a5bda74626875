package model

import (
	"fmt"
	"time"
)

type ClarificationStatus string

const (
	ClarificationOpen      ClarificationStatus = "open"
	ClarificationResolved  ClarificationStatus = "resolved"
	ClarificationEscalated ClarificationStatus = "escalated"
)

// IntentField is the reserved clarification field asking the user to restate
// what they want.
const IntentField = "intent"

// Clarification holds the question state of one resolution cycle. AttemptIndex
// counts the questions asked so far in the cycle, starting at 1.
type Clarification struct {
	ID             int64               `json:"id"`
	TenantID       string              `json:"tenant_id"`
	CycleID        string              `json:"cycle_id"`
	Field          string              `json:"field"`
	Question       string              `json:"question"`
	AllowedShapes  []string            `json:"allowed_shapes,omitempty"`
	AttemptIndex   int                 `json:"attempt_index"`
	AttemptCeiling int                 `json:"attempt_ceiling"`
	Escalation     EscalationPolicy    `json:"escalation"`
	Status         ClarificationStatus `json:"status"`
	AskedFields    []string            `json:"asked_fields,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	Sequence       int64               `json:"sequence"`
}

func ValidateClarificationTransition(from, to ClarificationStatus) error {
	if from == ClarificationOpen && (to == ClarificationResolved || to == ClarificationEscalated) {
		return nil
	}
	return fmt.Errorf("%w: clarification %s -> %s", ErrInvalidTransition, from, to)
}
