package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"selene.app/actioncore/core/db"
	"selene.app/actioncore/internal/model"
)

type claimStore struct {
	q db.DBTX
}

func newClaimStore(q db.DBTX) ClaimStore {
	return &claimStore{q: q}
}

func (s *claimStore) Claim(ctx context.Context, claim model.IdempotencyClaim) (model.IdempotencyClaim, bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO idempotency_claims (tenant_id, idempotency_key, plan_id, step_id, attempt, created_at, leased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
		claim.TenantID, claim.Key, claim.PlanID, claim.StepID, claim.Attempt, claim.CreatedAt,
	)
	if err != nil {
		return model.IdempotencyClaim{}, false, fmt.Errorf("insert claim: %w", err)
	}
	if tag.RowsAffected() == 1 {
		claim.LeasedAt = claim.CreatedAt
		return claim, true, nil
	}
	existing, err := s.Get(ctx, claim.TenantID, claim.Key)
	if err != nil {
		return model.IdempotencyClaim{}, false, err
	}
	return existing, false, nil
}

func (s *claimStore) Complete(ctx context.Context, tenantID, key string, outcome model.DispatchOutcome, at time.Time) error {
	doc, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE idempotency_claims SET outcome = $3, completed_at = $4
		WHERE tenant_id = $1 AND idempotency_key = $2 AND completed_at IS NULL`,
		tenantID, key, doc, at,
	)
	if err != nil {
		return fmt.Errorf("complete claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, tenantID, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *claimStore) Get(ctx context.Context, tenantID, key string) (model.IdempotencyClaim, error) {
	var (
		c       model.IdempotencyClaim
		outcome []byte
	)
	err := s.q.QueryRow(ctx, `
		SELECT tenant_id, idempotency_key, plan_id, step_id, attempt, outcome, created_at, completed_at, leased_at
		FROM idempotency_claims WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, key,
	).Scan(&c.TenantID, &c.Key, &c.PlanID, &c.StepID, &c.Attempt, &outcome, &c.CreatedAt, &c.CompletedAt, &c.LeasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.IdempotencyClaim{}, ErrNotFound
		}
		return model.IdempotencyClaim{}, err
	}
	if len(outcome) > 0 {
		var o model.DispatchOutcome
		if err := json.Unmarshal(outcome, &o); err != nil {
			return model.IdempotencyClaim{}, fmt.Errorf("decode outcome: %w", err)
		}
		c.Outcome = &o
	}
	return c, nil
}

func (s *claimStore) Lease(ctx context.Context, tenantID, key string, at, staleBefore time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE idempotency_claims SET leased_at = $3
		WHERE tenant_id = $1 AND idempotency_key = $2 AND completed_at IS NULL AND leased_at <= $4`,
		tenantID, key, at, staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("lease claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *claimStore) Release(ctx context.Context, tenantID, key string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE idempotency_claims SET leased_at = to_timestamp(0)
		WHERE tenant_id = $1 AND idempotency_key = $2 AND completed_at IS NULL`,
		tenantID, key,
	)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
