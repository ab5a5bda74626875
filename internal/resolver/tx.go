package resolver

import (
	"context"
	"errors"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/store"
)

// Stores is the subset of the ledger the resolver writes to.
type Stores interface {
	Events() store.EventStore
	Gaps() store.GapStore
	Counters() store.CounterStore
	Clarifications() store.ClarificationStore
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores Stores) error) error
}

// RetryConflict runs a whole transaction again once when it lost a sequence
// race, typically two first occurrences of the same gap. The rerun sees the
// winner's writes and merges into them.
func RetryConflict(run func() error) error {
	err := run()
	if errors.Is(err, model.ErrConflict) {
		err = run()
	}
	return err
}
