package model

import (
	"fmt"
	"sort"
)

// ArtifactRef points at the upstream artifact (transcript, hint, model output) a
// value came from. All three parts are required.
type ArtifactRef struct {
	Kind    string `json:"kind" yaml:"kind" jsonschema:"required"`
	ID      string `json:"id" yaml:"id" jsonschema:"required"`
	Version string `json:"version" yaml:"version" jsonschema:"required"`
}

func (a ArtifactRef) Complete() bool {
	return a.Kind != "" && a.ID != "" && a.Version != ""
}

func (a ArtifactRef) String() string {
	return a.Kind + ":" + a.ID + "@" + a.Version
}

type Evidence struct {
	Field    string      `json:"field"`
	Value    string      `json:"value"`
	Span     string      `json:"span,omitempty"`
	Artifact ArtifactRef `json:"artifact"`
}

// Understanding is the upstream interpretation of one user turn.
type Understanding struct {
	TenantID         string
	UserID           string
	SubjectID        string
	CycleID          string
	Turn             int
	Transcript       string
	Language         string
	Intent           string
	IntentConfidence int
	Fields           map[string]string
	Evidence         []Evidence
	Artifact         ArtifactRef
	Hints            []Hint
}

func (u Understanding) Validate() error {
	switch {
	case u.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	case u.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	case u.CycleID == "":
		return fmt.Errorf("%w: cycle_id is required", ErrInvalidInput)
	case u.Intent == "":
		return fmt.Errorf("%w: intent is required", ErrInvalidInput)
	case u.IntentConfidence < 0 || u.IntentConfidence > 10000:
		return fmt.Errorf("%w: intent_confidence %d out of range", ErrInvalidInput, u.IntentConfidence)
	case u.Turn < 0:
		return fmt.Errorf("%w: turn must not be negative", ErrInvalidInput)
	case !u.Artifact.Complete():
		return fmt.Errorf("%w: artifact ref is incomplete", ErrInvalidInput)
	}
	for i, e := range u.Evidence {
		if e.Field == "" || !e.Artifact.Complete() {
			return fmt.Errorf("%w: evidence[%d] needs a field and a complete artifact ref", ErrInvalidInput, i)
		}
	}
	for i, h := range u.Hints {
		if h == nil || !h.Artifact().Complete() {
			return fmt.Errorf("%w: hints[%d] needs a complete artifact ref", ErrInvalidInput, i)
		}
	}
	return nil
}

// Subject is the principal actions are taken for. A verified identity hint wins
// over the declared subject, and the user is the fallback.
func (u Understanding) Subject() string {
	for _, h := range u.Hints {
		if id, ok := h.(IdentityHint); ok && id.Verified && id.SubjectID != "" {
			return id.SubjectID
		}
	}
	if u.SubjectID != "" {
		return u.SubjectID
	}
	return u.UserID
}

// FieldNames returns the supplied field names in ascending order.
func (u Understanding) FieldNames() []string {
	names := make([]string, 0, len(u.Fields))
	for k := range u.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (u Understanding) EvidenceFor(field string) []Evidence {
	var out []Evidence
	for _, e := range u.Evidence {
		if e.Field == field {
			out = append(out, e)
		}
	}
	return out
}
