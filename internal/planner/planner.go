// Package planner materializes a matched candidate into a fixed plan of steps.
package planner

import (
	"fmt"
	"strconv"
	"time"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
)

const implicitStepID = "main"

type Input struct {
	Understanding  model.Understanding
	Candidate      model.Candidate
	Catalog        model.CatalogSnapshot
	Policy         model.PolicySnapshot
	Templates      model.TemplateRegistry
	LexiconVersion string
}

// Built is a freshly created plan and the plan.created event that produced it.
type Built struct {
	State  projection.PlanState
	Events []model.Event
}

type Builder struct {
	newID func() int64
	now   func() time.Time
}

func New(newID func() int64, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{newID: newID, now: now}
}

// TemplateFor returns the family template when it applies to the capability,
// else a single-step template built from the capability itself.
func TemplateFor(reg model.TemplateRegistry, c model.Capability, catalogVersion string) model.TemplateSet {
	if t, ok := reg[c.Family]; ok && t.AppliesTo(c.ID) {
		return t
	}
	return model.TemplateSet{
		ID:      "implicit." + c.ID,
		Version: catalogVersion,
		Family:  c.Family,
		Steps:   []model.StepTemplate{{ID: implicitStepID, Ordinal: 1}},
	}
}

func stepFingerprint(st model.Step, rollbackTemplateID string) string {
	return model.NewHasher("step").
		String(st.TemplateStepID).
		Int(int64(st.Ordinal)).
		String(st.CapabilityID).
		String(st.FieldFingerprint).
		Bool(st.RequiresConfirmation).
		String(st.AccessAction).
		Int(int64(st.MaxAttempts)).
		String(rollbackTemplateID).
		Bool(st.RollbackOnly).
		Sum()
}

// PlanFingerprint hashes everything that fixes the plan's shape. Ids are
// excluded so identical inputs always agree.
func PlanFingerprint(candidateFingerprint, templateRef string, stepFingerprints []string, policyRef string) string {
	return model.NewHasher("plan").
		String(candidateFingerprint).
		String(templateRef).
		Strings(stepFingerprints).
		String(policyRef).
		Sum()
}

// Build materializes every step of the plan up front, including rollback-only
// steps, and returns the plan in the Created state.
func (b *Builder) Build(in Input) (Built, error) {
	cand := in.Candidate
	u := in.Understanding
	capability, ok := in.Catalog.Get(cand.CapabilityID)
	if !ok {
		return Built{}, fmt.Errorf("%w: capability %s is not in catalog %s", model.ErrInvalidInput, cand.CapabilityID, in.Catalog.Version)
	}
	tmpl := TemplateFor(in.Templates, capability, in.Catalog.Version)
	ordered := tmpl.OrderedSteps()

	planID := b.newID()
	plan := model.Plan{
		ID:                   planID,
		TenantID:             u.TenantID,
		CycleID:              u.CycleID,
		UserID:               u.UserID,
		SubjectID:            u.Subject(),
		CapabilityID:         capability.ID,
		Family:               capability.Family,
		CandidateFingerprint: cand.Fingerprint,
		TemplateRef:          tmpl.Ref(),
		PolicyRef:            in.Policy.Ref(),
		CatalogVersion:       in.Catalog.Version,
		LexiconVersion:       in.LexiconVersion,
		Language:             u.Language,
	}

	steps := make([]model.Step, 0, len(ordered))
	byTemplateID := make(map[string]int64, len(ordered))
	var tier model.RiskTier
	for _, ts := range ordered {
		capID := ts.CapabilityID
		if capID == "" {
			capID = capability.ID
		}
		c, ok := in.Catalog.Get(capID)
		if !ok {
			return Built{}, fmt.Errorf("%w: template %s step %s uses unknown capability %s", model.ErrInvalidInput, tmpl.Ref(), ts.ID, capID)
		}
		required := c.RequiredFieldNames()
		fields := make(map[string]string, len(required))
		for _, name := range required {
			if v := u.Fields[name]; v != "" {
				fields[name] = v
			}
		}

		confirm := c.RequiresConfirmation
		if ts.RequiresConfirmation != nil {
			confirm = *ts.RequiresConfirmation
		}
		if ts.RollbackOnly {
			// rollback runs unattended
			confirm = false
		}
		action := ts.AccessAction
		if action == "" {
			action = c.AccessAction
		}
		maxAttempts := ts.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = in.Policy.Retry.MaxAttempts
		}
		if maxAttempts <= 0 {
			maxAttempts = 1
		}

		st := model.Step{
			ID:                   b.newID(),
			PlanID:               planID,
			TenantID:             u.TenantID,
			TemplateStepID:       ts.ID,
			Ordinal:              ts.Ordinal,
			CapabilityID:         c.ID,
			RequiredFields:       required,
			Fields:               fields,
			FieldFingerprint:     model.FieldFingerprint(required, fields),
			RequiresConfirmation: confirm,
			AccessAction:         action,
			MaxAttempts:          maxAttempts,
			RollbackOnly:         ts.RollbackOnly,
			Status:               model.StepPending,
		}
		st.Fingerprint = stepFingerprint(st, ts.Rollback)
		byTemplateID[ts.ID] = st.ID
		steps = append(steps, st)

		tier = model.MaxRisk(tier, c.RiskTier)
		if confirm {
			plan.RequiredConfirmations++
		}
	}

	stepFPs := make([]string, len(steps))
	for i, ts := range ordered {
		stepFPs[i] = steps[i].Fingerprint
		if ts.Rollback == "" {
			continue
		}
		rb, ok := byTemplateID[ts.Rollback]
		if !ok {
			return Built{}, fmt.Errorf("%w: template %s step %s rolls back to missing step %s", model.ErrInvalidInput, tmpl.Ref(), ts.ID, ts.Rollback)
		}
		steps[i].RollbackStepID = &rb
	}
	for _, st := range steps {
		plan.StepIDs = append(plan.StepIDs, st.ID)
	}
	plan.RiskTier = tier
	plan.Fingerprint = PlanFingerprint(cand.Fingerprint, tmpl.Ref(), stepFPs, plan.PolicyRef)

	aggID := strconv.FormatInt(planID, 10)
	batch := model.NewEventBatch(u.TenantID, model.AggregatePlan, aggID, 0, b.now().UTC(), b.newID)
	if _, err := batch.Add(model.EventPlanCreated, aggID, "", string(model.PlanCreated), model.ReasonNone, projection.PlanCreated{
		Plan:  plan,
		Steps: steps,
	}); err != nil {
		return Built{}, err
	}

	var state projection.PlanState
	for _, ev := range batch.Events() {
		if err := state.Apply(ev); err != nil {
			return Built{}, err
		}
	}
	return Built{State: state, Events: batch.Events()}, nil
}
