package dto

import (
	"selene.app/actioncore/internal/executor"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
)

type AdvanceRequest struct {
	Utterance string            `json:"utterance"`
	Language  string            `json:"language,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type PlanResponse struct {
	Plan  model.Plan          `json:"plan"`
	Steps []model.Step        `json:"steps"`
	Next  model.PendingAction `json:"next"`
}

func ToPlanResponse(state projection.PlanState) *PlanResponse {
	return &PlanResponse{
		Plan:  state.Plan,
		Steps: state.Steps,
		Next:  executor.NextAction(state),
	}
}

type AdvanceResponse struct {
	PlanResponse
	Reason   model.ReasonCode `json:"reason,omitempty"`
	Message  string           `json:"message,omitempty"`
	Events   int              `json:"events"`
	Replayed bool             `json:"replayed,omitempty"`
}

func ToAdvanceResponse(res executor.Result) AdvanceResponse {
	out := AdvanceResponse{
		PlanResponse: PlanResponse{Plan: res.State.Plan, Steps: res.State.Steps, Next: res.Next},
		Reason:       res.Reason,
		Events:       len(res.Events),
		Replayed:     res.Replayed,
	}
	if res.Reason != "" {
		out.Message = res.Reason.UserMessage()
	}
	return out
}

type ReplayResponse struct {
	PlanID int64            `json:"plan_id"`
	Status model.PlanStatus `json:"status"`
	Events int              `json:"events"`
	Match  bool             `json:"match"`
}
