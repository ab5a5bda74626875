package model

import "fmt"

type HintKind string

const (
	HintLanguage       HintKind = "language"
	HintSemanticRepair HintKind = "semantic_repair"
	HintLLMAssist      HintKind = "llm_assist"
	HintContext        HintKind = "context"
	HintIdentity       HintKind = "identity"
	HintMemory         HintKind = "memory"
)

// Hint is a closed set of assist signals. Only the types in this file implement it.
type Hint interface {
	Kind() HintKind
	Artifact() ArtifactRef
	isHint()
}

type LanguageHint struct {
	Ref        ArtifactRef
	Language   string
	Confidence int
}

type SemanticRepairHint struct {
	Ref            ArtifactRef
	Original       string
	RepairedIntent string
}

type LLMAssistHint struct {
	Ref          ArtifactRef
	CapabilityID string
	Confidence   int
}

type ContextHint struct {
	Ref                 ArtifactRef
	RecentCapabilityIDs []string
}

type IdentityHint struct {
	Ref       ArtifactRef
	SubjectID string
	Verified  bool
}

type MemoryHint struct {
	Ref                   ArtifactRef
	PreferredCapabilityID string
}

func (LanguageHint) Kind() HintKind       { return HintLanguage }
func (SemanticRepairHint) Kind() HintKind { return HintSemanticRepair }
func (LLMAssistHint) Kind() HintKind      { return HintLLMAssist }
func (ContextHint) Kind() HintKind        { return HintContext }
func (IdentityHint) Kind() HintKind       { return HintIdentity }
func (MemoryHint) Kind() HintKind         { return HintMemory }

func (h LanguageHint) Artifact() ArtifactRef       { return h.Ref }
func (h SemanticRepairHint) Artifact() ArtifactRef { return h.Ref }
func (h LLMAssistHint) Artifact() ArtifactRef      { return h.Ref }
func (h ContextHint) Artifact() ArtifactRef        { return h.Ref }
func (h IdentityHint) Artifact() ArtifactRef       { return h.Ref }
func (h MemoryHint) Artifact() ArtifactRef         { return h.Ref }

func (LanguageHint) isHint()       {}
func (SemanticRepairHint) isHint() {}
func (LLMAssistHint) isHint()      {}
func (ContextHint) isHint()        {}
func (IdentityHint) isHint()       {}
func (MemoryHint) isHint()         {}

// HintEnvelope is the wire form of a hint: a kind tag, the artifact ref, and the
// union of variant fields.
type HintEnvelope struct {
	Kind                  HintKind    `json:"kind" jsonschema:"required,enum=language,enum=semantic_repair,enum=llm_assist,enum=context,enum=identity,enum=memory"`
	Artifact              ArtifactRef `json:"artifact" jsonschema:"required"`
	Language              string      `json:"language,omitempty"`
	Confidence            int         `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=10000"`
	Original              string      `json:"original,omitempty"`
	RepairedIntent        string      `json:"repaired_intent,omitempty"`
	CapabilityID          string      `json:"capability_id,omitempty"`
	RecentCapabilityIDs   []string    `json:"recent_capability_ids,omitempty"`
	SubjectID             string      `json:"subject_id,omitempty"`
	Verified              bool        `json:"verified,omitempty"`
	PreferredCapabilityID string      `json:"preferred_capability_id,omitempty"`
}

func DecodeHint(env HintEnvelope) (Hint, error) {
	if !env.Artifact.Complete() {
		return nil, fmt.Errorf("%w: %s hint needs a complete artifact ref", ErrInvalidInput, env.Kind)
	}
	if env.Confidence < 0 || env.Confidence > 10000 {
		return nil, fmt.Errorf("%w: %s hint confidence %d out of range", ErrInvalidInput, env.Kind, env.Confidence)
	}
	switch env.Kind {
	case HintLanguage:
		if env.Language == "" {
			return nil, fmt.Errorf("%w: language hint without language", ErrInvalidInput)
		}
		return LanguageHint{Ref: env.Artifact, Language: env.Language, Confidence: env.Confidence}, nil
	case HintSemanticRepair:
		if env.RepairedIntent == "" {
			return nil, fmt.Errorf("%w: semantic_repair hint without repaired_intent", ErrInvalidInput)
		}
		return SemanticRepairHint{Ref: env.Artifact, Original: env.Original, RepairedIntent: env.RepairedIntent}, nil
	case HintLLMAssist:
		if env.CapabilityID == "" {
			return nil, fmt.Errorf("%w: llm_assist hint without capability_id", ErrInvalidInput)
		}
		return LLMAssistHint{Ref: env.Artifact, CapabilityID: env.CapabilityID, Confidence: env.Confidence}, nil
	case HintContext:
		return ContextHint{Ref: env.Artifact, RecentCapabilityIDs: env.RecentCapabilityIDs}, nil
	case HintIdentity:
		if env.SubjectID == "" {
			return nil, fmt.Errorf("%w: identity hint without subject_id", ErrInvalidInput)
		}
		return IdentityHint{Ref: env.Artifact, SubjectID: env.SubjectID, Verified: env.Verified}, nil
	case HintMemory:
		if env.PreferredCapabilityID == "" {
			return nil, fmt.Errorf("%w: memory hint without preferred_capability_id", ErrInvalidInput)
		}
		return MemoryHint{Ref: env.Artifact, PreferredCapabilityID: env.PreferredCapabilityID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown hint kind %q", ErrInvalidInput, env.Kind)
	}
}

// EncodeHint is the inverse of DecodeHint.
func EncodeHint(h Hint) HintEnvelope {
	env := HintEnvelope{Kind: h.Kind(), Artifact: h.Artifact()}
	switch v := h.(type) {
	case LanguageHint:
		env.Language, env.Confidence = v.Language, v.Confidence
	case SemanticRepairHint:
		env.Original, env.RepairedIntent = v.Original, v.RepairedIntent
	case LLMAssistHint:
		env.CapabilityID, env.Confidence = v.CapabilityID, v.Confidence
	case ContextHint:
		env.RecentCapabilityIDs = v.RecentCapabilityIDs
	case IdentityHint:
		env.SubjectID, env.Verified = v.SubjectID, v.Verified
	case MemoryHint:
		env.PreferredCapabilityID = v.PreferredCapabilityID
	}
	return env
}
