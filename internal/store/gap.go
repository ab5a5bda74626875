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

type gapStore struct {
	q db.DBTX
}

func newGapStore(q db.DBTX) GapStore {
	return &gapStore{q: q}
}

func (s *gapStore) one(ctx context.Context, sql string, args ...any) (model.GapRecord, error) {
	var doc []byte
	if err := s.q.QueryRow(ctx, sql, args...).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GapRecord{}, ErrNotFound
		}
		return model.GapRecord{}, err
	}
	var g model.GapRecord
	if err := json.Unmarshal(doc, &g); err != nil {
		return model.GapRecord{}, fmt.Errorf("decode gap record: %w", err)
	}
	return g, nil
}

func (s *gapStore) GetByID(ctx context.Context, tenantID string, gapID int64) (model.GapRecord, error) {
	return s.one(ctx, `SELECT doc FROM gap_records WHERE tenant_id = $1 AND id = $2`, tenantID, gapID)
}

func (s *gapStore) GetByDedupe(ctx context.Context, tenantID, dedupeFingerprint string) (model.GapRecord, error) {
	return s.one(ctx, `SELECT doc FROM gap_records WHERE tenant_id = $1 AND dedupe_fingerprint = $2`, tenantID, dedupeFingerprint)
}

func (s *gapStore) FindOpenByRequest(ctx context.Context, tenantID, requestFingerprint, beforeDay string) (model.GapRecord, error) {
	return s.one(ctx, `
		SELECT doc FROM gap_records
		WHERE tenant_id = $1 AND request_fingerprint = $2 AND day_bucket < $3
		  AND status IN ('PROPOSED', 'RESOLVED')
		ORDER BY day_bucket, id
		LIMIT 1`,
		tenantID, requestFingerprint, beforeDay,
	)
}

func (s *gapStore) Save(ctx context.Context, gap model.GapRecord) error {
	doc, err := json.Marshal(gap)
	if err != nil {
		return fmt.Errorf("encode gap record: %w", err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO gap_records (tenant_id, id, dedupe_fingerprint, request_fingerprint, day_bucket, status, sequence, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET status = EXCLUDED.status, sequence = EXCLUDED.sequence, doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		gap.TenantID, gap.ID, gap.DedupeFingerprint, gap.RequestFingerprint, gap.DayBucket,
		string(gap.Status), gap.Sequence, doc, gap.UpdatedAt,
	)
	if err != nil {
		if db.UniqueViolation(err) {
			return fmt.Errorf("%w: gap record for %s already exists", model.ErrConflict, gap.DedupeFingerprint)
		}
		return fmt.Errorf("upsert gap record: %w", err)
	}
	return nil
}
