package projection

import (
	"fmt"

	"selene.app/actioncore/internal/model"
)

type ClarificationState struct {
	Clarification model.Clarification
}

func (s *ClarificationState) Apply(ev model.Event) error {
	if ev.AggregateType != model.AggregateClarification {
		return fmt.Errorf("%w: %s event in clarification stream", model.ErrReplayIntegrity, ev.AggregateType)
	}
	if ev.Sequence != s.Clarification.Sequence+1 {
		return fmt.Errorf("%w: clarification %s sequence %d follows %d", model.ErrReplayIntegrity, ev.AggregateID, ev.Sequence, s.Clarification.Sequence)
	}

	switch ev.Type {
	case model.EventClarificationOpened:
		if s.Clarification.Status == model.ClarificationOpen {
			return fmt.Errorf("%w: clarification for cycle %s is already open", model.ErrInvalidTransition, ev.AggregateID)
		}
		var c model.Clarification
		if err := ev.Decode(&c); err != nil {
			return err
		}
		if c.AttemptIndex != s.Clarification.AttemptIndex+1 {
			return fmt.Errorf("%w: clarification attempt %d follows %d", model.ErrInvalidTransition, c.AttemptIndex, s.Clarification.AttemptIndex)
		}
		created := s.Clarification.CreatedAt
		s.Clarification = c
		s.Clarification.Status = model.ClarificationOpen
		if created.IsZero() {
			created = ev.CreatedAt
		}
		s.Clarification.CreatedAt = created

	case model.EventClarificationClosed:
		to := model.ClarificationStatus(ev.To)
		if err := model.ValidateClarificationTransition(s.Clarification.Status, to); err != nil {
			return err
		}
		s.Clarification.Status = to

	default:
		return fmt.Errorf("%w: unexpected %s event in clarification stream", model.ErrReplayIntegrity, ev.Type)
	}

	s.Clarification.Sequence = ev.Sequence
	s.Clarification.UpdatedAt = ev.CreatedAt
	return nil
}

func RebuildClarification(events []model.Event) (ClarificationState, error) {
	var s ClarificationState
	if len(events) == 0 {
		return s, fmt.Errorf("%w: empty clarification stream", model.ErrReplayIntegrity)
	}
	for _, ev := range events {
		if err := s.Apply(ev); err != nil {
			return ClarificationState{}, asReplayError(err)
		}
	}
	return s, nil
}
