package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const txKey contextKey = "db_tx"

// maxTxRetries bounds automatic retries of serialization failures before the
// error is surfaced to the caller.
const maxTxRetries = 3

const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
)

type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxFromContext returns the transaction opened by Serializable for this
// context, or nil outside one. Repositories consult it so every statement
// issued inside a Serializable block joins the same transaction.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// IsSerializationFailure reports whether err is a PostgreSQL serialization
// or deadlock failure, the retryable outcome of two conflicting
// serializable transactions.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlstateSerializationFailure || pgErr.Code == sqlstateDeadlockDetected
	}
	return false
}

// Serializable runs fn inside a short-lived serializable-isolation
// transaction. The transaction begins on the tenant-scoped connection when
// the context carries one, otherwise on the pool. Serialization failures
// are retried up to maxTxRetries times; the last failure is returned so the
// caller can map it to a retryable error. Nested calls join the enclosing
// transaction instead of opening a second one.
func Serializable(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var b txBeginner = pool
	if conn := ConnFromContext(ctx); conn != nil {
		b = conn
	}

	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = runInTx(ctx, b, fn)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
	}
	return err
}

// TxRunner abstracts Serializable so services can be exercised in tests
// without a live pool.
type TxRunner interface {
	Serializable(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolRunner is the production TxRunner backed by a pgxpool.Pool.
type PoolRunner struct {
	Pool *pgxpool.Pool
}

func (r PoolRunner) Serializable(ctx context.Context, fn func(ctx context.Context) error) error {
	return Serializable(ctx, r.Pool, fn)
}

func runInTx(ctx context.Context, b txBeginner, fn func(ctx context.Context) error) error {
	tx, err := b.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
