package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"selene.app/actioncore/core/db"
	"selene.app/actioncore/internal/model"
)

type counterStore struct {
	q db.DBTX
}

func newCounterStore(q db.DBTX) CounterStore {
	return &counterStore{q: q}
}

// IncrementWithin must run inside a transaction: it locks the counter rows in key
// order before checking them.
func (s *counterStore) IncrementWithin(ctx context.Context, limits []model.CounterLimit, now time.Time) (*model.CounterLimit, error) {
	if len(limits) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(limits))
	for _, l := range limits {
		keys = append(keys, l.Key)
	}
	sort.Strings(keys)

	if _, err := s.q.Exec(ctx, `
		INSERT INTO counters (key, value, updated_at)
		SELECT k, 0, $2 FROM unnest($1::text[]) AS k
		ON CONFLICT (key) DO NOTHING`, keys, now); err != nil {
		return nil, fmt.Errorf("seed counters: %w", err)
	}

	rows, err := s.q.Query(ctx, `SELECT key, value FROM counters WHERE key = ANY($1) ORDER BY key FOR UPDATE`, keys)
	if err != nil {
		return nil, fmt.Errorf("lock counters: %w", err)
	}
	current := make(map[string]int64, len(keys))
	for rows.Next() {
		var (
			k string
			v int64
		)
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, err
		}
		current[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range limits {
		if current[limits[i].Key]+1 > limits[i].Limit {
			breached := limits[i]
			return &breached, nil
		}
	}

	if _, err := s.q.Exec(ctx, `
		UPDATE counters SET value = value + 1, updated_at = $2 WHERE key = ANY($1)`, keys, now); err != nil {
		return nil, fmt.Errorf("increment counters: %w", err)
	}
	return nil, nil
}

func (s *counterStore) Get(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.q.QueryRow(ctx, `SELECT value FROM counters WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}
