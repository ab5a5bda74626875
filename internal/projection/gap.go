package projection

import (
	"errors"
	"fmt"

	"selene.app/actioncore/internal/model"
)

func isReplay(err error) bool { return errors.Is(err, model.ErrReplayIntegrity) }

type GapState struct {
	Record model.GapRecord
}

func (s *GapState) Apply(ev model.Event) error {
	if ev.AggregateType != model.AggregateGap {
		return fmt.Errorf("%w: %s event in gap stream", model.ErrReplayIntegrity, ev.AggregateType)
	}
	if ev.Sequence != s.Record.Sequence+1 {
		return fmt.Errorf("%w: gap %s sequence %d follows %d", model.ErrReplayIntegrity, ev.AggregateID, ev.Sequence, s.Record.Sequence)
	}

	switch ev.Type {
	case model.EventGapCreated:
		if s.Record.ID != 0 {
			return fmt.Errorf("%w: gap %s created twice", model.ErrReplayIntegrity, ev.AggregateID)
		}
		var p GapCreated
		if err := ev.Decode(&p); err != nil {
			return err
		}
		s.Record = p.Record
		s.Record.Status = model.GapNew
		s.Record.CreatedAt = ev.CreatedAt

	case model.EventGapMerged:
		if s.Record.ID == 0 {
			return fmt.Errorf("%w: gap %s merged before creation", model.ErrReplayIntegrity, ev.AggregateID)
		}
		var p GapMerged
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if p.Occurrences != s.Record.Occurrences+1 {
			return fmt.Errorf("%w: gap %s occurrence %d follows %d", model.ErrReplayIntegrity, ev.AggregateID, p.Occurrences, s.Record.Occurrences)
		}
		s.Record.Occurrences = p.Occurrences
		s.Record.Worthiness = p.Worthiness
		s.Record.Reporters = addReporter(s.Record.Reporters, p.Reporter)

	case model.EventGapTransitioned:
		if s.Record.ID == 0 {
			return fmt.Errorf("%w: gap %s transitioned before creation", model.ErrReplayIntegrity, ev.AggregateID)
		}
		from, to := model.GapStatus(ev.From), model.GapStatus(ev.To)
		if s.Record.Status != from {
			return fmt.Errorf("%w: gap is %s, event moves from %s", model.ErrInvalidTransition, s.Record.Status, from)
		}
		if err := model.ValidateGapTransition(from, to); err != nil {
			return err
		}
		var p GapTransition
		if len(ev.Payload) > 0 {
			if err := ev.Decode(&p); err != nil {
				return err
			}
		}
		s.Record.Status = to
		s.Record.Reason = ev.Reason
		if p.DedupedInto != nil {
			v := *p.DedupedInto
			s.Record.DedupedInto = &v
		}
		if p.ResolutionRef != "" {
			s.Record.ResolutionRef = p.ResolutionRef
		}

	default:
		return fmt.Errorf("%w: unexpected %s event in gap stream", model.ErrReplayIntegrity, ev.Type)
	}

	s.Record.Sequence = ev.Sequence
	s.Record.UpdatedAt = ev.CreatedAt
	return nil
}

func addReporter(reporters []string, r string) []string {
	if r == "" {
		return reporters
	}
	for _, existing := range reporters {
		if existing == r {
			return reporters
		}
	}
	return append(reporters, r)
}

// AddReporter appends r to the reporter list unless already present.
func AddReporter(reporters []string, r string) []string {
	return addReporter(append([]string(nil), reporters...), r)
}

func RebuildGap(events []model.Event) (GapState, error) {
	var s GapState
	if len(events) == 0 {
		return s, fmt.Errorf("%w: empty gap stream", model.ErrReplayIntegrity)
	}
	for _, ev := range events {
		if err := s.Apply(ev); err != nil {
			return GapState{}, asReplayError(err)
		}
	}
	return s, nil
}

// RebuildCounters sums the rate-limit counter keys recorded by gap occurrences
// across any number of gap streams.
func RebuildCounters(streams ...[]model.Event) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, events := range streams {
		for _, ev := range events {
			var keys []string
			switch ev.Type {
			case model.EventGapCreated:
				var p GapCreated
				if err := ev.Decode(&p); err != nil {
					return nil, err
				}
				keys = p.CounterKeys
			case model.EventGapMerged:
				var p GapMerged
				if err := ev.Decode(&p); err != nil {
					return nil, err
				}
				keys = p.CounterKeys
			}
			for _, k := range keys {
				out[k]++
			}
		}
	}
	return out, nil
}
