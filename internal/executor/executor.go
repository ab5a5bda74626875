// Package executor advances plans one step per turn: confirmation and field
// gates, access and catalog checks, idempotent dispatch, retry and rollback.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
)

// Ledger is the durable plan state. Load rebuilds the plan from its events;
// Commit appends events and saves the projection atomically and fails with
// model.ErrConflict when another writer got there first. Claims are leased:
// only the holder of a fresh lease may dispatch under the claim's key.
type Ledger interface {
	Load(ctx context.Context, tenantID string, planID int64) (projection.PlanState, error)
	Commit(ctx context.Context, state projection.PlanState, events []model.Event) error
	Claim(ctx context.Context, claim model.IdempotencyClaim) (model.IdempotencyClaim, bool, error)
	CompleteClaim(ctx context.Context, tenantID, key string, outcome model.DispatchOutcome, at time.Time) error
	LeaseClaim(ctx context.Context, tenantID, key string, at, staleBefore time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, tenantID, key string) error
}

type AccessOracle interface {
	Decide(ctx context.Context, req model.AccessRequest) (model.AccessResult, error)
}

// EffectExecutor performs the side effect. An error means the outcome is
// unknown (transport failure); a definitive failure is reported in the outcome.
type EffectExecutor interface {
	Dispatch(ctx context.Context, env model.DispatchEnvelope) (model.DispatchOutcome, error)
}

type Config struct {
	// LocalRetries bounds transport-error retries within one dispatch.
	LocalRetries int
	RetryBackoff time.Duration
	// ClaimLease is how long an unfinished claim belongs to the advance that
	// took it. A resumer finding a younger claim loses with model.ErrConflict.
	ClaimLease time.Duration
	Now        func() time.Time
	NewID      func() int64
	Sleep      func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Executor struct {
	ledger  Ledger
	oracle  AccessOracle
	effects EffectExecutor
	cfg     Config
}

func New(ledger Ledger, oracle AccessOracle, effects EffectExecutor, cfg Config) *Executor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.LocalRetries < 0 {
		cfg.LocalRetries = 0
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 30 * time.Second
	}
	return &Executor{ledger: ledger, oracle: oracle, effects: effects, cfg: cfg}
}

// Turn is one user turn addressed to a plan.
type Turn struct {
	TenantID  string
	PlanID    int64
	Utterance string
	Language  string
	Fields    map[string]string
}

type Result struct {
	State projection.PlanState
	Next  model.PendingAction
	// Reason explains where the turn stopped.
	Reason   model.ReasonCode
	Events   []model.Event
	Replayed bool
}

// NextAction describes what the plan needs next.
func NextAction(s projection.PlanState) model.PendingAction {
	if s.Plan.Status.Closed() {
		return model.PendingAction{Kind: model.ActionNone}
	}
	i := s.Current()
	if i < 0 {
		return model.PendingAction{Kind: model.ActionNone}
	}
	st := s.Steps[i]
	a := model.PendingAction{
		StepID:       st.ID,
		CapabilityID: st.CapabilityID,
		StepStatus:   st.Status,
	}
	switch st.Status {
	case model.StepWaitingClarify:
		a.Kind = model.ActionClarify
		a.MissingFields = st.MissingFields()
		a.Prompt = "Please provide " + strings.Join(a.MissingFields, ", ") + "."
	case model.StepWaitingConfirm:
		a.Kind = model.ActionConfirm
		a.Prompt = fmt.Sprintf("Please confirm %s.", st.CapabilityID)
	default:
		a.Kind = model.ActionDispatch
	}
	return a
}

// Open moves a freshly built plan out of Created into the state its first step
// waits in. Nothing is committed.
func (e *Executor) Open(state projection.PlanState) (projection.PlanState, []model.Event, error) {
	if state.Plan.Status != model.PlanCreated {
		return projection.PlanState{}, nil, fmt.Errorf("%w: open plan in %s", model.ErrInvalidTransition, state.Plan.Status)
	}
	r := newRecorder(state, e.cfg.Now, e.cfg.NewID)
	i := r.state.Current()
	if i < 0 {
		return projection.PlanState{}, nil, fmt.Errorf("%w: plan %d has no main step", model.ErrInvalidInput, state.Plan.ID)
	}
	status, err := r.open(i)
	if err != nil {
		return projection.PlanState{}, nil, err
	}
	target := model.PlanReady
	switch status {
	case model.StepWaitingClarify:
		target = model.PlanWaitingClarify
	case model.StepWaitingConfirm:
		target = model.PlanWaitingConfirm
	}
	if err := r.plan(target, model.ReasonNone, nil); err != nil {
		return projection.PlanState{}, nil, err
	}
	return *r.state, r.batch.Events(), nil
}

type run struct {
	*recorder
	result *Result
}

func (e *Executor) commit(ctx context.Context, rn *run) error {
	if !rn.pending() {
		return nil
	}
	events := rn.batch.Events()
	if err := e.ledger.Commit(ctx, *rn.state, events); err != nil {
		return err
	}
	rn.result.Events = append(rn.result.Events, events...)
	rn.reset()
	return nil
}

// Advance performs at most one step advance for the turn. The plan is always
// re-derived from its event log first.
func (e *Executor) Advance(ctx context.Context, turn Turn, cat model.CatalogSnapshot, lex model.ConfirmationLexicon) (Result, error) {
	state, err := e.ledger.Load(ctx, turn.TenantID, turn.PlanID)
	if err != nil {
		return Result{}, err
	}
	if state.Plan.Status.Closed() {
		return Result{}, fmt.Errorf("%w: plan %d is %s", model.ErrPlanClosed, state.Plan.ID, state.Plan.Status)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:  logger.Ptr(turn.TenantID),
		PlanID:    logger.Ptr(turn.PlanID),
		Component: "actioncore.executor.advance",
	})
	sc := logger.StartSpan(ctx, "executor.advance")
	defer sc.End()
	ctx = sc.Context()

	res := &Result{}
	rn := &run{recorder: newRecorder(state, e.cfg.Now, e.cfg.NewID), result: res}
	reason, err := e.advance(ctx, rn, turn, cat, lex)
	if err != nil {
		sc.RecordError(err)
		return Result{}, err
	}
	if err := e.commit(ctx, rn); err != nil {
		sc.RecordError(err)
		return Result{}, err
	}

	res.State = *rn.state
	res.Next = NextAction(res.State)
	res.Reason = reason
	if res.State.Plan.Status.Closed() {
		res.Reason = res.State.Plan.Reason
	}
	slog.InfoContext(ctx, "plan advanced",
		"plan_status", res.State.Plan.Status,
		"reason", res.Reason,
		"events", len(res.Events),
		"next", res.Next.Kind)
	return *res, nil
}

func (e *Executor) advance(ctx context.Context, rn *run, turn Turn, cat model.CatalogSnapshot, lex model.ConfirmationLexicon) (model.ReasonCode, error) {
	i := rn.state.Current()
	if i < 0 {
		if rn.state.Plan.Status == model.PlanInProgress {
			return model.ReasonCompleted, rn.plan(model.PlanCompleted, model.ReasonCompleted, nil)
		}
		return model.ReasonNone, fmt.Errorf("%w: plan %d has no current step", model.ErrReplayIntegrity, rn.state.Plan.ID)
	}

	if rn.state.Steps[i].Status != model.StepExecuting {
		proceed, reason, err := e.gate(ctx, rn, i, turn, cat, lex)
		if err != nil || !proceed {
			return reason, err
		}
		// concurrent advances of the same step lose here, before any side effect
		if err := e.commit(ctx, rn); err != nil {
			return model.ReasonNone, err
		}
	}

	for {
		i = rn.state.Current()
		rollback, reason, err := e.execute(ctx, rn, i)
		if err != nil || rollback < 0 {
			return reason, err
		}
		if err := e.startExecuting(rn, rollback, ""); err != nil {
			return model.ReasonNone, err
		}
		denied, proof, err := e.authorize(ctx, rn, rollback, cat)
		if err != nil {
			return model.ReasonNone, err
		}
		if denied != model.ReasonNone {
			return model.ReasonRollbackFailed, e.failRollback(ctx, rn, rollback, denied, proof)
		}
		if err := e.commit(ctx, rn); err != nil {
			return model.ReasonNone, err
		}
	}
}

// gate runs everything that must hold before step i may dispatch. It returns
// false when the turn ends without a dispatch.
func (e *Executor) gate(ctx context.Context, rn *run, i int, turn Turn, cat model.CatalogSnapshot, lex model.ConfirmationLexicon) (bool, model.ReasonCode, error) {
	if rn.state.Steps[i].Status == model.StepPending {
		status, err := rn.open(i)
		if err != nil {
			return false, model.ReasonNone, err
		}
		if status.Waiting() && rn.state.Plan.Status == model.PlanInProgress {
			if err := rn.plan(model.PlanPaused, model.ReasonNone, nil); err != nil {
				return false, model.ReasonNone, err
			}
		}
	}

	if rn.state.Steps[i].Status == model.StepWaitingClarify {
		st := rn.state.Steps[i]
		supplied := map[string]string{}
		for _, name := range st.MissingFields() {
			if v := turn.Fields[name]; v != "" {
				supplied[name] = v
			}
		}
		if len(supplied) > 0 {
			if err := rn.fields(i, supplied); err != nil {
				return false, model.ReasonNone, err
			}
		}
		st = rn.state.Steps[i]
		if len(st.MissingFields()) > 0 {
			return false, model.ReasonFieldsMissing, nil
		}
		if st.RequiresConfirmation {
			// the reply that carried the fields is not a confirmation
			return false, model.ReasonNone, rn.step(i, model.StepWaitingConfirm, model.ReasonNone, nil)
		}
	}

	confirmationRef := ""
	if rn.state.Steps[i].Status == model.StepWaitingConfirm {
		lang := rn.state.Plan.Language
		if turn.Language != "" {
			lang = turn.Language
		}
		switch ParseConfirmation(lex, lang, turn.Utterance) {
		case AnswerDeny:
			return false, model.ReasonConfirmationDeclined, rn.plan(model.PlanCancelled, model.ReasonConfirmationDeclined, nil)
		case AnswerUnclear:
			slog.DebugContext(ctx, "confirmation not understood", "utterance", logger.Truncate(turn.Utterance, 64))
			return false, model.ReasonConfirmationUnclear, nil
		}
		confirmationRef = ConfirmationRef(lex.Version, rn.state.Plan.ID, rn.state.Steps[i], turn.Utterance)
	}

	if err := e.startExecuting(rn, i, confirmationRef); err != nil {
		return false, model.ReasonNone, err
	}
	denied, proof, err := e.authorize(ctx, rn, i, cat)
	if err != nil {
		return false, model.ReasonNone, err
	}
	if denied != model.ReasonNone {
		if rn.state.Steps[i].RollbackOnly {
			return false, model.ReasonRollbackFailed, e.failRollback(ctx, rn, i, denied, proof)
		}
		return false, denied, e.failGate(rn, i, denied, proof)
	}
	return true, model.ReasonNone, nil
}

// authorize asks the access oracle and the catalog whether step i may
// dispatch now, rollback steps included. A non-empty reason carries the proof
// reference of the refusal.
func (e *Executor) authorize(ctx context.Context, rn *run, i int, cat model.CatalogSnapshot) (model.ReasonCode, string, error) {
	st := rn.state.Steps[i]
	if e.oracle != nil && st.AccessAction != "" {
		access, err := e.oracle.Decide(ctx, model.AccessRequest{
			TenantID:  st.TenantID,
			SubjectID: rn.state.Plan.SubjectID,
			Action:    st.AccessAction,
			PolicyRef: rn.state.Plan.PolicyRef,
			PlanID:    rn.state.Plan.ID,
			StepID:    st.ID,
		})
		if err != nil {
			return model.ReasonNone, "", fmt.Errorf("access check for step %d: %w", st.ID, err)
		}
		switch access.Decision {
		case model.AccessAllow:
		case model.AccessEscalate:
			return model.ReasonApprovalRequired, access.DecisionRef, nil
		default:
			return model.ReasonAccessDenied, access.DecisionRef, nil
		}
	}

	if _, ok := cat.ActiveFor(st.TenantID, st.CapabilityID); !ok {
		proof := fmt.Sprintf("catalog:%s:%s:missing", cat.Version, st.CapabilityID)
		if c, found := cat.Get(st.CapabilityID); found {
			proof = cat.Ref(c)
		}
		return model.ReasonCapabilityInactive, proof, nil
	}
	return model.ReasonNone, "", nil
}

// startExecuting moves the plan into progress and step i into Executing with a
// fresh attempt number and idempotency key.
func (e *Executor) startExecuting(rn *run, i int, confirmationRef string) error {
	if rn.state.Plan.Status != model.PlanInProgress {
		if err := rn.plan(model.PlanInProgress, model.ReasonNone, nil); err != nil {
			return err
		}
	}
	next := rn.state.Steps[i]
	next.Attempt++
	return rn.step(i, model.StepExecuting, model.ReasonNone, &projection.StepTransition{
		Attempt:         next.Attempt,
		ConfirmationRef: confirmationRef,
		IdempotencyKey:  model.IdempotencyKeyFor(next.TenantID, next.PlanID, next),
	})
}

// failGate fails an executing step that never dispatched. Nothing ran, so no
// rollback is attempted.
func (e *Executor) failGate(rn *run, i int, reason model.ReasonCode, proofRef string) error {
	if err := rn.step(i, model.StepFailedTerminal, reason, &projection.StepTransition{ProofRef: proofRef}); err != nil {
		return err
	}
	return rn.plan(model.PlanFailed, reason, nil)
}

// failRollback fails a rollback step refused before dispatch. The step it
// compensates already failed, so the plan needs an operator.
func (e *Executor) failRollback(ctx context.Context, rn *run, i int, reason model.ReasonCode, proofRef string) error {
	slog.ErrorContext(ctx, "rollback refused, operator required",
		"step_id", rn.state.Steps[i].ID, "capability", rn.state.Steps[i].CapabilityID, "reason", reason)
	if err := rn.step(i, model.StepFailedTerminal, reason, &projection.StepTransition{ProofRef: proofRef}); err != nil {
		return err
	}
	return rn.plan(model.PlanFailed, model.ReasonRollbackFailed, &projection.PlanTransition{OperatorRequired: true})
}

// execute claims the step's idempotency key, dispatches unless a completed
// claim already holds the outcome, and applies the outcome. It returns the
// index of a rollback step that must run next, or -1.
func (e *Executor) execute(ctx context.Context, rn *run, i int) (int, model.ReasonCode, error) {
	st := rn.state.Steps[i]
	ctx = logger.WithLogFields(ctx, logger.LogFields{StepID: logger.Ptr(st.ID)})
	now := e.cfg.Now().UTC()

	claim, created, err := e.ledger.Claim(ctx, model.IdempotencyClaim{
		TenantID:  st.TenantID,
		Key:       st.IdempotencyKey,
		PlanID:    st.PlanID,
		StepID:    st.ID,
		Attempt:   st.Attempt,
		CreatedAt: now,
	})
	if err != nil {
		return -1, model.ReasonNone, fmt.Errorf("claim %s: %w", st.IdempotencyKey, err)
	}

	var outcome model.DispatchOutcome
	if !created && claim.Outcome != nil {
		outcome = *claim.Outcome
		rn.result.Replayed = true
		slog.InfoContext(ctx, "replaying recorded dispatch outcome", "key", st.IdempotencyKey, "status", outcome.Status)
	} else {
		if !created {
			// Unfinished claim: either a concurrent advance is dispatching or an
			// earlier one gave up on an unknown outcome. Only the latter may resume.
			owned, err := e.ledger.LeaseClaim(ctx, st.TenantID, st.IdempotencyKey, now, now.Add(-e.cfg.ClaimLease))
			if err != nil {
				return -1, model.ReasonNone, fmt.Errorf("lease claim %s: %w", st.IdempotencyKey, err)
			}
			if !owned {
				return -1, model.ReasonNone, fmt.Errorf("%w: dispatch of %s is in flight", model.ErrConflict, st.IdempotencyKey)
			}
		}
		out, err := e.dispatch(ctx, envelope(*rn.state, i))
		if err != nil {
			slog.WarnContext(ctx, "side-effect executor unavailable, step stays executing",
				"key", st.IdempotencyKey, "error", err)
			if relErr := e.ledger.ReleaseClaim(ctx, st.TenantID, st.IdempotencyKey); relErr != nil {
				slog.WarnContext(ctx, "failed to release claim, resume waits for the lease", "error", relErr)
			}
			return -1, model.ReasonExecutorUnavailable, nil
		}
		if !out.Status.Valid() {
			out = model.DispatchOutcome{Status: model.DispatchFailedTerminal, ProofRef: out.ProofRef, Detail: "invalid outcome status " + string(out.Status)}
		}
		if err := e.ledger.CompleteClaim(ctx, st.TenantID, st.IdempotencyKey, out, e.cfg.Now().UTC()); err != nil {
			return -1, model.ReasonNone, fmt.Errorf("complete claim %s: %w", st.IdempotencyKey, err)
		}
		outcome = out
	}
	return e.applyOutcome(ctx, rn, i, outcome)
}

func (e *Executor) dispatch(ctx context.Context, env model.DispatchEnvelope) (model.DispatchOutcome, error) {
	sc := logger.StartSpan(ctx, "executor.dispatch")
	defer sc.End()
	ctx = sc.Context()

	var lastErr error
	for try := 0; try <= e.cfg.LocalRetries; try++ {
		if try > 0 {
			if err := e.cfg.Sleep(ctx, e.cfg.RetryBackoff*time.Duration(try)); err != nil {
				return model.DispatchOutcome{}, err
			}
		}
		out, err := e.effects.Dispatch(ctx, env)
		if err == nil {
			return out, nil
		}
		lastErr = err
		slog.WarnContext(ctx, "dispatch transport error", "try", try+1, "error", err)
	}
	sc.RecordError(lastErr)
	return model.DispatchOutcome{}, lastErr
}

func envelope(s projection.PlanState, i int) model.DispatchEnvelope {
	st := s.Steps[i]
	env := model.DispatchEnvelope{
		TenantID:        st.TenantID,
		SubjectID:       s.Plan.SubjectID,
		PlanID:          s.Plan.ID,
		StepID:          st.ID,
		CapabilityID:    st.CapabilityID,
		IdempotencyKey:  st.IdempotencyKey,
		Attempt:         st.Attempt,
		ConfirmationRef: st.ConfirmationRef,
		PolicyRef:       s.Plan.PolicyRef,
		Fields:          maps.Clone(st.Fields),
	}
	if !st.RollbackOnly {
		return env
	}
	for _, o := range s.Steps {
		if o.RollbackStepID == nil || *o.RollbackStepID != st.ID || o.Status != model.StepFailedTerminal {
			continue
		}
		env.RollbackOf = o.IdempotencyKey
		env.ConfirmationRef = o.ConfirmationRef
		if env.Fields == nil {
			env.Fields = map[string]string{}
		}
		for k, v := range o.Fields {
			if _, ok := env.Fields[k]; !ok {
				env.Fields[k] = v
			}
		}
	}
	return env
}

func (e *Executor) applyOutcome(ctx context.Context, rn *run, i int, out model.DispatchOutcome) (int, model.ReasonCode, error) {
	st := rn.state.Steps[i]
	payload := &projection.StepTransition{ProofRef: out.ProofRef, Outcome: &out}

	switch out.Status.StepStatus() {
	case model.StepSucceeded, model.StepSkipped:
		if err := rn.step(i, out.Status.StepStatus(), model.ReasonNone, payload); err != nil {
			return -1, model.ReasonNone, err
		}
		if st.RollbackOnly {
			return -1, model.ReasonRolledBack, rn.plan(model.PlanFailed, model.ReasonRolledBack, nil)
		}
		j := rn.state.Current()
		if j < 0 {
			return -1, model.ReasonCompleted, rn.plan(model.PlanCompleted, model.ReasonCompleted, nil)
		}
		status, err := rn.open(j)
		if err != nil {
			return -1, model.ReasonNone, err
		}
		if status.Waiting() {
			return -1, model.ReasonNone, rn.plan(model.PlanPaused, model.ReasonNone, nil)
		}
		return -1, model.ReasonNone, nil

	case model.StepFailedRetryable:
		if err := rn.step(i, model.StepFailedRetryable, model.ReasonExecutorUnavailable, payload); err != nil {
			return -1, model.ReasonNone, err
		}
		if st.Attempt < st.MaxAttempts {
			return -1, model.ReasonExecutorUnavailable, rn.step(i, model.StepReady, model.ReasonNone, nil)
		}
		if err := rn.step(i, model.StepFailedTerminal, model.ReasonRetryExhausted, nil); err != nil {
			return -1, model.ReasonNone, err
		}
		return e.abort(ctx, rn, i, model.ReasonRetryExhausted)

	default:
		if err := rn.step(i, model.StepFailedTerminal, model.ReasonDispatchRejected, payload); err != nil {
			return -1, model.ReasonNone, err
		}
		return e.abort(ctx, rn, i, model.ReasonDispatchRejected)
	}
}

// abort handles a terminal dispatch failure of step i: its rollback step is
// opened when defined, otherwise the plan fails. A failed rollback needs an
// operator.
func (e *Executor) abort(ctx context.Context, rn *run, i int, reason model.ReasonCode) (int, model.ReasonCode, error) {
	st := rn.state.Steps[i]
	if st.RollbackOnly {
		slog.ErrorContext(ctx, "rollback failed, operator required", "step_id", st.ID, "capability", st.CapabilityID)
		return -1, model.ReasonRollbackFailed, rn.plan(model.PlanFailed, model.ReasonRollbackFailed, &projection.PlanTransition{OperatorRequired: true})
	}
	if st.RollbackStepID != nil {
		if k := rn.state.StepIndex(*st.RollbackStepID); k >= 0 && rn.state.Steps[k].Status == model.StepPending {
			slog.InfoContext(ctx, "rolling back failed step", "step_id", st.ID, "rollback_step_id", *st.RollbackStepID)
			if _, err := rn.open(k); err != nil {
				return -1, model.ReasonNone, err
			}
			return k, reason, nil
		}
	}
	return -1, reason, rn.plan(model.PlanFailed, reason, nil)
}

// Cancel stops a plan that is paused or still waiting on its first step.
func (e *Executor) Cancel(ctx context.Context, tenantID string, planID int64) (Result, error) {
	state, err := e.ledger.Load(ctx, tenantID, planID)
	if err != nil {
		return Result{}, err
	}
	if state.Plan.Status.Closed() {
		return Result{}, fmt.Errorf("%w: plan %d is %s", model.ErrPlanClosed, planID, state.Plan.Status)
	}
	if !state.Plan.Status.Cancellable() {
		return Result{}, fmt.Errorf("%w: plan %d is %s", model.ErrNotCancellable, planID, state.Plan.Status)
	}

	res := &Result{}
	rn := &run{recorder: newRecorder(state, e.cfg.Now, e.cfg.NewID), result: res}
	if err := rn.plan(model.PlanCancelled, model.ReasonCancelledByUser, nil); err != nil {
		return Result{}, err
	}
	if err := e.commit(ctx, rn); err != nil {
		return Result{}, err
	}
	res.State = *rn.state
	res.Next = NextAction(res.State)
	res.Reason = model.ReasonCancelledByUser
	return *res, nil
}
