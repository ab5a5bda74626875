package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"selene.app/actioncore/core/db"
	"selene.app/actioncore/internal/model"
)

type planStore struct {
	q db.DBTX
}

func newPlanStore(q db.DBTX) PlanStore {
	return &planStore{q: q}
}

func (s *planStore) Save(ctx context.Context, plan model.Plan, steps []model.Step) error {
	doc, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO plans (tenant_id, id, status, fingerprint, sequence, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET status = EXCLUDED.status, sequence = EXCLUDED.sequence, doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		plan.TenantID, plan.ID, string(plan.Status), plan.Fingerprint, plan.Sequence, doc, plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}

	for _, st := range steps {
		stepDoc, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode step: %w", err)
		}
		_, err = s.q.Exec(ctx, `
			INSERT INTO steps (tenant_id, id, plan_id, ordinal, status, doc, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, id) DO UPDATE
			SET status = EXCLUDED.status, doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
			st.TenantID, st.ID, st.PlanID, st.Ordinal, string(st.Status), stepDoc, st.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert step: %w", err)
		}
	}
	return nil
}

func (s *planStore) Get(ctx context.Context, tenantID string, planID int64) (model.Plan, []model.Step, error) {
	var doc []byte
	err := s.q.QueryRow(ctx, `SELECT doc FROM plans WHERE tenant_id = $1 AND id = $2`, tenantID, planID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Plan{}, nil, ErrNotFound
		}
		return model.Plan{}, nil, err
	}
	var plan model.Plan
	if err := json.Unmarshal(doc, &plan); err != nil {
		return model.Plan{}, nil, fmt.Errorf("decode plan: %w", err)
	}

	rows, err := s.q.Query(ctx, `
		SELECT doc FROM steps WHERE tenant_id = $1 AND plan_id = $2 ORDER BY ordinal, id`,
		tenantID, planID,
	)
	if err != nil {
		return model.Plan{}, nil, err
	}
	defer rows.Close()

	var steps []model.Step
	for rows.Next() {
		var stepDoc []byte
		if err := rows.Scan(&stepDoc); err != nil {
			return model.Plan{}, nil, err
		}
		var st model.Step
		if err := json.Unmarshal(stepDoc, &st); err != nil {
			return model.Plan{}, nil, fmt.Errorf("decode step: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return model.Plan{}, nil, err
	}
	return plan, orderSteps(plan, steps), nil
}

func (s *planStore) ListOperatorRequired(ctx context.Context, tenantID string) ([]model.Plan, error) {
	rows, err := s.q.Query(ctx, `
		SELECT doc FROM plans
		WHERE tenant_id = $1 AND status = 'failed' AND (doc->>'operator_required')::boolean
		ORDER BY updated_at`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Plan
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p model.Plan
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// orderSteps returns steps in the plan's materialized order.
func orderSteps(plan model.Plan, steps []model.Step) []model.Step {
	byID := make(map[int64]model.Step, len(steps))
	for _, st := range steps {
		byID[st.ID] = st
	}
	out := make([]model.Step, 0, len(steps))
	for _, stepID := range plan.StepIDs {
		if st, ok := byID[stepID]; ok {
			out = append(out, st)
		}
	}
	return out
}
