package executor

import (
	"strconv"
	"time"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
)

// recorder appends transitions to a batch and folds each one into its working
// copy of the plan, so every change is checked by the projection before it is
// committed.
type recorder struct {
	state *projection.PlanState
	batch *model.EventBatch
	now   func() time.Time
	newID func() int64
}

func newRecorder(state projection.PlanState, now func() time.Time, newID func() int64) *recorder {
	s := state.Clone()
	r := &recorder{state: &s, now: now, newID: newID}
	r.reset()
	return r
}

func (r *recorder) aggregateID() string { return strconv.FormatInt(r.state.Plan.ID, 10) }

func (r *recorder) reset() {
	r.batch = model.NewEventBatch(r.state.Plan.TenantID, model.AggregatePlan, r.aggregateID(), r.state.Plan.Sequence, r.now().UTC(), r.newID)
}

func (r *recorder) pending() bool { return r.batch.Len() > 0 }

func (r *recorder) apply(typ model.EventType, entityID, from, to string, reason model.ReasonCode, payload any) error {
	ev, err := r.batch.Add(typ, entityID, from, to, reason, payload)
	if err != nil {
		return err
	}
	return r.state.Apply(ev)
}

func (r *recorder) plan(to model.PlanStatus, reason model.ReasonCode, payload *projection.PlanTransition) error {
	var p any
	if payload != nil {
		p = payload
	}
	return r.apply(model.EventPlanTransitioned, r.aggregateID(), string(r.state.Plan.Status), string(to), reason, p)
}

func (r *recorder) step(i int, to model.StepStatus, reason model.ReasonCode, payload *projection.StepTransition) error {
	st := r.state.Steps[i]
	var p any
	if payload != nil {
		p = payload
	}
	return r.apply(model.EventStepTransitioned, strconv.FormatInt(st.ID, 10), string(st.Status), string(to), reason, p)
}

// fields merges supplied values into step i and recomputes its field fingerprint.
func (r *recorder) fields(i int, supplied map[string]string) error {
	st := r.state.Steps[i]
	merged := make(map[string]string, len(st.Fields)+len(supplied))
	for k, v := range st.Fields {
		merged[k] = v
	}
	for k, v := range supplied {
		merged[k] = v
	}
	return r.apply(model.EventStepFieldsSupplied, strconv.FormatInt(st.ID, 10), "", "", model.ReasonNone, projection.FieldsSupplied{
		Fields:           supplied,
		FieldFingerprint: model.FieldFingerprint(st.RequiredFields, merged),
	})
}

// open moves a pending step into the state it waits in.
func (r *recorder) open(i int) (model.StepStatus, error) {
	st := r.state.Steps[i]
	to, reason := model.StepReady, model.ReasonNone
	switch {
	case st.RollbackOnly:
	case len(st.MissingFields()) > 0:
		to, reason = model.StepWaitingClarify, model.ReasonFieldsMissing
	case st.RequiresConfirmation:
		to = model.StepWaitingConfirm
	}
	return to, r.step(i, to, reason, nil)
}
