package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx runs fn in a transaction that is committed when fn returns nil and
// rolled back otherwise, including on panic. Combined with
// job.RiverBroker.EnqueueTx a job becomes visible only with the rows it
// refers to.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	if err := pgx.BeginFunc(ctx, pool, fn); err != nil {
		return fmt.Errorf("db: transaction: %w", err)
	}
	return nil
}
