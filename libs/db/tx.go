package db

import (
	"context"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	trmcontext "github.com/avito-tech/go-transaction-manager/trm/v2/context"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
)

// NewTxManager binds transactions to the context. Nested Do calls join the
// outer transaction.
func NewTxManager(pool *Pool) *manager.Manager {
	return manager.Must(
		trmpgx.NewDefaultFactory(pool.Pool),
		manager.WithCtxManager(trmcontext.DefaultManager),
	)
}

// Conn returns the transaction bound to ctx, or the pool when there is none.
func (p *Pool) Conn(ctx context.Context) trmpgx.Tr {
	return trmpgx.DefaultCtxGetter.DefaultTrOrDB(ctx, p.Pool)
}

// InTransaction reports whether ctx carries a transaction opened by NewTxManager.
func InTransaction(ctx context.Context) bool {
	return trmcontext.DefaultManager.Default(ctx) != nil
}
