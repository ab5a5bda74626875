package store

import (
	"context"

	"selene.app/actioncore/core/db"
)

// Backend is one consistent view over every store.
type Backend interface {
	Events() EventStore
	Plans() PlanStore
	Claims() ClaimStore
	Counters() CounterStore
	Gaps() GapStore
	Clarifications() ClarificationStore
}

// TxRunner hands out stores that either commit together or not at all.
// Backend returns stores for single reads and writes outside a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(b Backend) error) error
	Backend() Backend
}

type pgTx struct {
	db *db.DB
}

func NewPostgresTx(database *db.DB) TxRunner {
	return pgTx{db: database}
}

func (t pgTx) WithTx(ctx context.Context, fn func(b Backend) error) error {
	return t.db.WithTx(ctx, func(tx db.DBTX) error {
		return fn(NewStores(tx))
	})
}

func (t pgTx) Backend() Backend { return NewStores(t.db.Conn()) }

type memTx struct {
	m *Memory
}

func NewMemoryTx(m *Memory) TxRunner {
	return memTx{m: m}
}

func (t memTx) WithTx(_ context.Context, fn func(b Backend) error) error {
	return t.m.RunTx(func() error { return fn(t.m) })
}

func (t memTx) Backend() Backend { return t.m }
