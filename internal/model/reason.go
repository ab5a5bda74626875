package model

// ReasonCode is the bounded, user-safe explanation attached to packets, steps,
// plans and gap records.
type ReasonCode string

const (
	ReasonNone ReasonCode = ""

	ReasonInvalidInput   ReasonCode = "invalid_input"
	ReasonDirectMatch    ReasonCode = "direct_match"
	ReasonAmbiguous      ReasonCode = "ambiguous_candidates"
	ReasonLowConfidence  ReasonCode = "low_confidence"
	ReasonUnsafeRequest  ReasonCode = "unsafe_request"
	ReasonPolicyMismatch ReasonCode = "policy_mismatch"
	ReasonAccessDenied   ReasonCode = "access_denied"

	ReasonClarifyExhausted          ReasonCode = "clarify_exhausted"
	ReasonCapabilityInactivePending ReasonCode = "capability_inactive_pending"

	ReasonGapForwarded       ReasonCode = "gap_forwarded"
	ReasonGapMerged          ReasonCode = "gap_merged"
	ReasonGapDeduped         ReasonCode = "gap_deduped"
	ReasonGapBelowValueFloor ReasonCode = "gap_below_value_floor"
	ReasonGapAboveRisk       ReasonCode = "gap_above_risk_ceiling"
	ReasonGapRateUser        ReasonCode = "gap_rate_limited_user"
	ReasonGapRateTenant      ReasonCode = "gap_rate_limited_tenant"
	ReasonGapRateCapability  ReasonCode = "gap_rate_limited_capability"
	ReasonGapResolved        ReasonCode = "gap_resolved"
	ReasonGapNotified        ReasonCode = "gap_notified"

	ReasonApprovalRequired     ReasonCode = "approval_required"
	ReasonCapabilityInactive   ReasonCode = "capability_inactive"
	ReasonConfirmationDeclined ReasonCode = "confirmation_declined"
	ReasonConfirmationUnclear  ReasonCode = "confirmation_ambiguous"
	ReasonFieldsMissing        ReasonCode = "fields_missing"
	ReasonDispatchRejected     ReasonCode = "dispatch_rejected"
	ReasonExecutorUnavailable  ReasonCode = "executor_unavailable"
	ReasonRetryExhausted       ReasonCode = "retry_exhausted"
	ReasonRolledBack           ReasonCode = "rolled_back"
	ReasonRollbackFailed       ReasonCode = "rollback_failed"
	ReasonCancelledByUser      ReasonCode = "cancelled_by_user"
	ReasonCompleted            ReasonCode = "completed"
)

var userMessages = map[ReasonCode]string{
	ReasonInvalidInput:              "The request could not be read. Please try again.",
	ReasonUnsafeRequest:             "This request can't be carried out.",
	ReasonPolicyMismatch:            "This action isn't permitted for your account.",
	ReasonAccessDenied:              "You don't have permission to do that.",
	ReasonClarifyExhausted:          "I still couldn't work out what you'd like to do, so I've stopped here.",
	ReasonCapabilityInactivePending: "That ability exists but hasn't been switched on yet.",
	ReasonGapForwarded:              "I can't do that yet. Your request was logged for review.",
	ReasonGapMerged:                 "I can't do that yet. Your request was logged for review.",
	ReasonGapDeduped:                "I can't do that yet. A matching request is already under review.",
	ReasonGapBelowValueFloor:        "I can't do that yet. Your request was logged.",
	ReasonGapAboveRisk:              "I can't do that yet. Your request was logged.",
	ReasonGapRateUser:               "You've reached today's limit for new feature requests.",
	ReasonGapRateTenant:             "Your organization has reached today's limit for new feature requests.",
	ReasonGapRateCapability:         "This kind of request has reached today's review limit.",
	ReasonApprovalRequired:          "This step needs approval before it can run.",
	ReasonCapabilityInactive:        "That ability is no longer available.",
	ReasonConfirmationDeclined:      "Okay, I've cancelled it.",
	ReasonDispatchRejected:          "The action was rejected and nothing was changed.",
	ReasonExecutorUnavailable:       "The action couldn't be completed right now.",
	ReasonRetryExhausted:            "The action failed after several attempts.",
	ReasonRolledBack:                "The action failed and every completed change was undone.",
	ReasonRollbackFailed:            "The action failed and could not be undone automatically. An operator has been alerted.",
	ReasonCancelledByUser:           "Cancelled.",
	ReasonCompleted:                 "Done.",
}

// UserMessage returns text that is safe to show to the requester.
func (r ReasonCode) UserMessage() string {
	if msg, ok := userMessages[r]; ok {
		return msg
	}
	return "The request could not be completed."
}
