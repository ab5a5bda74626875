package projection

import (
	"fmt"
	"maps"
	"strconv"

	"selene.app/actioncore/internal/model"
)

// PlanState is a plan and its steps as folded from the plan's event stream.
type PlanState struct {
	Plan  model.Plan
	Steps []model.Step
}

func (s *PlanState) Empty() bool { return s.Plan.ID == 0 }

// StepIndex returns the index of the step with the given id, or -1.
func (s *PlanState) StepIndex(stepID int64) int {
	for i := range s.Steps {
		if s.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// Current returns the index of the one step the plan is working on: an active
// rollback step first, otherwise the first main step that is not satisfied.
// It returns -1 when every main step is satisfied.
func (s *PlanState) Current() int {
	for i, st := range s.Steps {
		if st.RollbackOnly && st.Status != model.StepPending && !st.Status.Terminal() {
			return i
		}
	}
	for i, st := range s.Steps {
		if !st.RollbackOnly && !st.Status.Satisfied() {
			return i
		}
	}
	return -1
}

// NextMain returns the first main step after index i, or -1.
func (s *PlanState) NextMain(i int) int {
	for j := i + 1; j < len(s.Steps); j++ {
		if !s.Steps[j].RollbackOnly {
			return j
		}
	}
	return -1
}

// Clone returns a deep copy safe to mutate.
func (s *PlanState) Clone() PlanState {
	out := PlanState{Plan: s.Plan, Steps: make([]model.Step, len(s.Steps))}
	out.Plan.StepIDs = append([]int64(nil), s.Plan.StepIDs...)
	for i, st := range s.Steps {
		st.Fields = maps.Clone(st.Fields)
		st.RequiredFields = append([]string(nil), st.RequiredFields...)
		if st.Outcome != nil {
			o := *st.Outcome
			st.Outcome = &o
		}
		out.Steps[i] = st
	}
	return out
}

func activeSteps(steps []model.Step) int {
	n := 0
	for _, st := range steps {
		if st.Status != model.StepPending && !st.Status.Terminal() {
			n++
		}
	}
	return n
}

// Apply folds one event into the state, enforcing sequence continuity and the
// plan and step edge lists.
func (s *PlanState) Apply(ev model.Event) error {
	if ev.AggregateType != model.AggregatePlan {
		return fmt.Errorf("%w: %s event in plan stream", model.ErrReplayIntegrity, ev.AggregateType)
	}
	if ev.Sequence != s.Plan.Sequence+1 {
		return fmt.Errorf("%w: plan %s sequence %d follows %d", model.ErrReplayIntegrity, ev.AggregateID, ev.Sequence, s.Plan.Sequence)
	}

	switch ev.Type {
	case model.EventPlanCreated:
		if !s.Empty() {
			return fmt.Errorf("%w: plan %s created twice", model.ErrReplayIntegrity, ev.AggregateID)
		}
		var p PlanCreated
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if strconv.FormatInt(p.Plan.ID, 10) != ev.AggregateID {
			return fmt.Errorf("%w: plan.created for %d in stream %s", model.ErrReplayIntegrity, p.Plan.ID, ev.AggregateID)
		}
		s.Plan = p.Plan
		s.Plan.Status = model.PlanCreated
		s.Plan.CreatedAt = ev.CreatedAt
		s.Steps = p.Steps
		for i := range s.Steps {
			s.Steps[i].Status = model.StepPending
			s.Steps[i].UpdatedAt = ev.CreatedAt
		}

	case model.EventPlanTransitioned:
		if s.Empty() {
			return fmt.Errorf("%w: plan %s transitioned before creation", model.ErrReplayIntegrity, ev.AggregateID)
		}
		from, to := model.PlanStatus(ev.From), model.PlanStatus(ev.To)
		if s.Plan.Status != from {
			return fmt.Errorf("%w: plan is %s, event moves from %s", model.ErrInvalidTransition, s.Plan.Status, from)
		}
		if err := model.ValidatePlanTransition(from, to); err != nil {
			return err
		}
		var p PlanTransition
		if len(ev.Payload) > 0 {
			if err := ev.Decode(&p); err != nil {
				return err
			}
		}
		s.Plan.Status = to
		s.Plan.Reason = ev.Reason
		s.Plan.OperatorRequired = s.Plan.OperatorRequired || p.OperatorRequired

	case model.EventStepTransitioned:
		i, err := s.stepFor(ev)
		if err != nil {
			return err
		}
		st := &s.Steps[i]
		from, to := model.StepStatus(ev.From), model.StepStatus(ev.To)
		if st.Status != from {
			return fmt.Errorf("%w: step %d is %s, event moves from %s", model.ErrInvalidTransition, st.ID, st.Status, from)
		}
		if err := model.ValidateStepTransition(from, to); err != nil {
			return err
		}
		if to == model.StepExecuting && s.Plan.Status != model.PlanInProgress {
			return fmt.Errorf("%w: step %d cannot execute while plan is %s", model.ErrInvalidTransition, st.ID, s.Plan.Status)
		}
		var p StepTransition
		if len(ev.Payload) > 0 {
			if err := ev.Decode(&p); err != nil {
				return err
			}
		}
		st.Status = to
		st.Reason = ev.Reason
		st.UpdatedAt = ev.CreatedAt
		if p.Attempt > 0 {
			st.Attempt = p.Attempt
		}
		if len(p.Fields) > 0 {
			if st.Fields == nil {
				st.Fields = make(map[string]string, len(p.Fields))
			}
			maps.Copy(st.Fields, p.Fields)
		}
		if p.FieldFingerprint != "" {
			st.FieldFingerprint = p.FieldFingerprint
		}
		if p.ConfirmationRef != "" {
			st.ConfirmationRef = p.ConfirmationRef
		}
		if p.IdempotencyKey != "" {
			st.IdempotencyKey = p.IdempotencyKey
		}
		if p.ProofRef != "" {
			st.ProofRef = p.ProofRef
		}
		if p.Outcome != nil {
			o := *p.Outcome
			st.Outcome = &o
		}
		if activeSteps(s.Steps) > 1 {
			return fmt.Errorf("%w: plan %d would have more than one current step", model.ErrInvalidTransition, s.Plan.ID)
		}

	case model.EventStepFieldsSupplied:
		i, err := s.stepFor(ev)
		if err != nil {
			return err
		}
		var p FieldsSupplied
		if err := ev.Decode(&p); err != nil {
			return err
		}
		st := &s.Steps[i]
		if st.Fields == nil {
			st.Fields = make(map[string]string, len(p.Fields))
		}
		maps.Copy(st.Fields, p.Fields)
		st.FieldFingerprint = p.FieldFingerprint
		st.UpdatedAt = ev.CreatedAt

	default:
		return fmt.Errorf("%w: unexpected %s event in plan stream", model.ErrReplayIntegrity, ev.Type)
	}

	s.Plan.Sequence = ev.Sequence
	s.Plan.UpdatedAt = ev.CreatedAt
	return nil
}

func (s *PlanState) stepFor(ev model.Event) (int, error) {
	if s.Empty() {
		return -1, fmt.Errorf("%w: step event before plan creation", model.ErrReplayIntegrity)
	}
	stepID, err := strconv.ParseInt(ev.EntityID, 10, 64)
	if err != nil {
		return -1, fmt.Errorf("%w: step event with entity %q", model.ErrReplayIntegrity, ev.EntityID)
	}
	i := s.StepIndex(stepID)
	if i < 0 {
		return -1, fmt.Errorf("%w: unknown step %d", model.ErrReplayIntegrity, stepID)
	}
	return i, nil
}

// RebuildPlan folds a complete plan stream. Any inconsistency is reported as
// model.ErrReplayIntegrity.
func RebuildPlan(events []model.Event) (PlanState, error) {
	var s PlanState
	if len(events) == 0 {
		return s, fmt.Errorf("%w: empty plan stream", model.ErrReplayIntegrity)
	}
	for _, ev := range events {
		if err := s.Apply(ev); err != nil {
			return PlanState{}, asReplayError(err)
		}
	}
	return s, nil
}

func asReplayError(err error) error {
	if isReplay(err) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrReplayIntegrity, err)
}
