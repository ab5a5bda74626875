package model

import (
	"fmt"
	"time"
)

type GapStatus string

const (
	GapNew      GapStatus = "NEW"
	GapDeduped  GapStatus = "DEDUPED"
	GapBlocked  GapStatus = "BLOCKED"
	GapProposed GapStatus = "PROPOSED"
	GapResolved GapStatus = "RESOLVED"
	GapNotified GapStatus = "NOTIFIED"
)

func isAllowedGapTransition(from, to GapStatus) bool {
	switch from {
	case GapNew:
		return to == GapDeduped || to == GapBlocked || to == GapProposed
	case GapProposed:
		return to == GapResolved
	case GapResolved:
		return to == GapNotified
	default:
		return false
	}
}

func ValidateGapTransition(from, to GapStatus) error {
	if !isAllowedGapTransition(from, to) {
		return fmt.Errorf("%w: gap %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Open reports whether the record still represents unmet demand under review.
func (s GapStatus) Open() bool {
	return s == GapProposed || s == GapResolved
}

type Worthiness struct {
	Frequency   int `json:"frequency"`
	Value       int `json:"value"`
	ROI         int `json:"roi"`
	Feasibility int `json:"feasibility"`
	Risk        int `json:"risk"`
	Score       int `json:"score"`
}

type GapRecord struct {
	ID                 int64      `json:"id"`
	TenantID           string     `json:"tenant_id"`
	UserID             string     `json:"user_id"`
	Family             string     `json:"family"`
	NormalizedRequest  string     `json:"normalized_request"`
	RequestFingerprint string     `json:"request_fingerprint"`
	DedupeFingerprint  string     `json:"dedupe_fingerprint"`
	DayBucket          string     `json:"day_bucket"`
	Occurrences        int64      `json:"occurrences"`
	Reporters          []string   `json:"reporters"`
	Worthiness         Worthiness `json:"worthiness"`
	Status             GapStatus  `json:"status"`
	Reason             ReasonCode `json:"reason,omitempty"`
	DedupedInto        *int64     `json:"deduped_into,omitempty"`
	ResolutionRef      string     `json:"resolution_ref,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Sequence           int64      `json:"sequence"`
}

// GapReport is forwarded for review when a record reaches PROPOSED.
type GapReport struct {
	GapID             int64      `json:"gap_id"`
	TenantID          string     `json:"tenant_id"`
	Family            string     `json:"family"`
	NormalizedRequest string     `json:"normalized_request"`
	DedupeFingerprint string     `json:"dedupe_fingerprint"`
	DayBucket         string     `json:"day_bucket"`
	Occurrences       int64      `json:"occurrences"`
	Worthiness        Worthiness `json:"worthiness"`
}

// GapReview is a reviewer decision on a PROPOSED record.
type GapReview struct {
	TenantID      string `json:"tenant_id"`
	GapID         int64  `json:"gap_id"`
	ResolutionRef string `json:"resolution_ref"`
	Note          string `json:"note,omitempty"`
}

// GapNotification tells the original reporters their request was resolved.
type GapNotification struct {
	TenantID      string   `json:"tenant_id"`
	GapID         int64    `json:"gap_id"`
	Recipients    []string `json:"recipients"`
	ResolutionRef string   `json:"resolution_ref"`
	Message       string   `json:"message"`
}

type CounterScope string

const (
	CounterUser       CounterScope = "user"
	CounterTenant     CounterScope = "tenant"
	CounterCapability CounterScope = "capability"
)

// CounterLimit is one rate-limit bucket checked during gap intake.
type CounterLimit struct {
	Key   string       `json:"key"`
	Scope CounterScope `json:"scope"`
	Limit int64        `json:"limit"`
}

// CounterKey builds "gap:<scope>:<tenant>:<subject>:<day>".
func CounterKey(scope CounterScope, tenantID, subject, day string) string {
	return fmt.Sprintf("gap:%s:%s:%s:%s", scope, tenantID, subject, day)
}

func (s CounterScope) RateLimitReason() ReasonCode {
	switch s {
	case CounterUser:
		return ReasonGapRateUser
	case CounterTenant:
		return ReasonGapRateTenant
	default:
		return ReasonGapRateCapability
	}
}
