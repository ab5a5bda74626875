package dto

import (
	"fmt"

	"selene.app/actioncore/internal/model"
)

type EvidenceRequest struct {
	Field    string            `json:"field" binding:"required" jsonschema:"required"`
	Value    string            `json:"value"`
	Span     string            `json:"span,omitempty"`
	Artifact model.ArtifactRef `json:"artifact" binding:"required" jsonschema:"required"`
}

// ResolveRequest is the understanding of one user turn as sent by the
// upstream interpreter. The tenant comes from the X-Tenant-ID header.
type ResolveRequest struct {
	UserID           string               `json:"user_id" binding:"required" jsonschema:"required"`
	SubjectID        string               `json:"subject_id,omitempty"`
	CycleID          string               `json:"cycle_id" binding:"required" jsonschema:"required"`
	Turn             int                  `json:"turn" binding:"min=0" jsonschema:"minimum=0"`
	Transcript       string               `json:"transcript"`
	Language         string               `json:"language" jsonschema:"example=en"`
	Intent           string               `json:"intent" binding:"required" jsonschema:"required"`
	IntentConfidence int                  `json:"intent_confidence" binding:"min=0,max=10000" jsonschema:"minimum=0,maximum=10000"`
	Fields           map[string]string    `json:"fields,omitempty"`
	Evidence         []EvidenceRequest    `json:"evidence,omitempty"`
	Artifact         model.ArtifactRef    `json:"artifact" binding:"required" jsonschema:"required"`
	Hints            []model.HintEnvelope `json:"hints,omitempty"`
	CatalogVersion   string               `json:"catalog_version,omitempty" jsonschema:"description=Pin a catalog version; empty uses the current one"`
	PolicyVersion    string               `json:"policy_version,omitempty"`
}

func (r ResolveRequest) ToUnderstanding(tenantID string) (model.Understanding, error) {
	u := model.Understanding{
		TenantID:         tenantID,
		UserID:           r.UserID,
		SubjectID:        r.SubjectID,
		CycleID:          r.CycleID,
		Turn:             r.Turn,
		Transcript:       r.Transcript,
		Language:         r.Language,
		Intent:           r.Intent,
		IntentConfidence: r.IntentConfidence,
		Fields:           r.Fields,
		Artifact:         r.Artifact,
	}
	for _, e := range r.Evidence {
		u.Evidence = append(u.Evidence, model.Evidence{Field: e.Field, Value: e.Value, Span: e.Span, Artifact: e.Artifact})
	}
	for i, env := range r.Hints {
		h, err := model.DecodeHint(env)
		if err != nil {
			return model.Understanding{}, fmt.Errorf("hints[%d]: %w", i, err)
		}
		u.Hints = append(u.Hints, h)
	}
	if err := u.Validate(); err != nil {
		return model.Understanding{}, err
	}
	return u, nil
}

type ResolveResponse struct {
	Packet model.Packet  `json:"packet"`
	Plan   *PlanResponse `json:"plan,omitempty"`
}
