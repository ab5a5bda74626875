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

type clarificationStore struct {
	q db.DBTX
}

func newClarificationStore(q db.DBTX) ClarificationStore {
	return &clarificationStore{q: q}
}

func (s *clarificationStore) Get(ctx context.Context, tenantID, cycleID string) (model.Clarification, error) {
	var doc []byte
	err := s.q.QueryRow(ctx, `SELECT doc FROM clarifications WHERE tenant_id = $1 AND cycle_id = $2`, tenantID, cycleID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Clarification{}, ErrNotFound
		}
		return model.Clarification{}, err
	}
	var c model.Clarification
	if err := json.Unmarshal(doc, &c); err != nil {
		return model.Clarification{}, fmt.Errorf("decode clarification: %w", err)
	}
	return c, nil
}

func (s *clarificationStore) Save(ctx context.Context, c model.Clarification) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode clarification: %w", err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO clarifications (tenant_id, cycle_id, sequence, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, cycle_id) DO UPDATE
		SET sequence = EXCLUDED.sequence, doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		c.TenantID, c.CycleID, c.Sequence, doc, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert clarification: %w", err)
	}
	return nil
}
