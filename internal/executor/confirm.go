package executor

import (
	"slices"

	"selene.app/actioncore/internal/model"
)

// Answer is how a reply to a confirmation prompt was understood.
type Answer int

const (
	AnswerUnclear Answer = iota
	AnswerAffirm
	AnswerDeny
)

func (a Answer) String() string {
	switch a {
	case AnswerAffirm:
		return "affirm"
	case AnswerDeny:
		return "deny"
	default:
		return "unclear"
	}
}

// ParseConfirmation matches the whole normalized utterance against the
// lexicon for lang. Anything not listed verbatim, or listed as ambiguous, is
// unclear.
func ParseConfirmation(lex model.ConfirmationLexicon, lang, utterance string) Answer {
	entry, ok := lex.Entry(lang)
	if !ok {
		return AnswerUnclear
	}
	text := model.NormalizeText(utterance)
	if text == "" {
		return AnswerUnclear
	}
	in := func(phrases []string) bool {
		return slices.ContainsFunc(phrases, func(p string) bool { return model.NormalizeText(p) == text })
	}
	switch {
	case in(entry.Ambiguous):
		return AnswerUnclear
	case in(entry.Deny) && in(entry.Affirm):
		return AnswerUnclear
	case in(entry.Deny):
		return AnswerDeny
	case in(entry.Affirm):
		return AnswerAffirm
	}
	return AnswerUnclear
}

// ConfirmationRef is the proof that a step was confirmed, bound to the lexicon
// version and the exact reply.
func ConfirmationRef(lexiconVersion string, planID int64, st model.Step, utterance string) string {
	return "confirm:" + lexiconVersion + ":" + model.NewHasher("confirmation").
		String(lexiconVersion).
		Int(planID).
		Int(st.ID).
		Int(int64(st.Attempt)).
		String(model.NormalizeText(utterance)).
		Sum()[:16]
}
