package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/rmskTV/advPlanner-sub000/internal/txn"
)

// PgTransactor hands each unit of work a Store bound to its own transaction.
type PgTransactor struct {
	manager *txn.Manager
}

// NewPgTransactor adapts a transaction manager to the Transactor interface.
func NewPgTransactor(manager *txn.Manager) *PgTransactor {
	return &PgTransactor{manager: manager}
}

func (t *PgTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context, store ExchangeStore) error) error {
	return t.manager.RunInTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, NewStore(tx))
	})
}
