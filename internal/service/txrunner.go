package service

import (
	"context"

	"selene.app/actioncore/internal/resolver"
	"selene.app/actioncore/internal/store"
)

// resolverTx narrows a store.TxRunner to the stores the resolver writes.
type resolverTx struct {
	tx store.TxRunner
}

func NewResolverTx(tx store.TxRunner) resolver.TxRunner {
	return resolverTx{tx: tx}
}

func (r resolverTx) WithTx(ctx context.Context, fn func(stores resolver.Stores) error) error {
	return r.tx.WithTx(ctx, func(b store.Backend) error {
		return fn(b)
	})
}
