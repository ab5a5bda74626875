package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so stores can run
// inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type DB struct {
	pool       *pgxpool.Pool
	txAttempts int
}

type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
	// Idle connections older than this are closed; zero keeps pgx's default.
	MaxConnIdleTime time.Duration
	// Attempts for a transaction that aborts with a serialization failure or
	// deadlock. Values below 1 mean 3.
	TxAttempts int
}

// New connects, pings and returns a pool-backed DB.
func New(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = orDefault(cfg.MaxConns, 10)
	poolCfg.MinConns = orDefault(cfg.MinConns, 2)
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool, txAttempts: orDefault(cfg.TxAttempts, 3)}, nil
}

func orDefault[T int | int32](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

func (db *DB) Close() {
	db.pool.Close()
}

// Ping also fails when every connection in the pool is checked out, which
// the health endpoint reports as degraded.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return err
	}
	if st := db.pool.Stat(); st.MaxConns() > 0 && st.AcquiredConns() >= st.MaxConns() {
		return fmt.Errorf("connection pool exhausted: %d/%d acquired", st.AcquiredConns(), st.MaxConns())
	}
	return nil
}

// Conn returns the pool for non-transactional operations.
func (db *DB) Conn() DBTX {
	return db.pool
}

// WithTx runs fn inside a read-committed transaction. Any error from fn rolls
// back. A commit or statement aborted by a serialization failure or deadlock
// reruns fn from the start, so fn must not keep state across calls.
//
//	err := db.WithTx(ctx, func(tx db.DBTX) error {
//	    if _, err := tx.Exec(ctx, insertEvent, ...); err != nil {
//	        return err
//	    }
//	    _, err := tx.Exec(ctx, upsertProjection, ...)
//	    return err
//	})
func (db *DB) WithTx(ctx context.Context, fn func(tx DBTX) error) error {
	var err error
	for attempt := 1; attempt <= db.txAttempts; attempt++ {
		err = db.runTx(ctx, fn)
		if !Retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (db *DB) runTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// Retryable reports whether err is a transient transaction abort.
func Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// UniqueViolation reports whether err is a unique-constraint failure, which
// stores translate into an optimistic-concurrency conflict.
func UniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
