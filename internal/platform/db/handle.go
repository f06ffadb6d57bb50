package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx so that
// repositories can run the same statements inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxStarter is a Querier that can open transactions.
type TxStarter interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Handle is the data-access handle bound to exactly one tenant namespace.
// Every statement issued through it resolves unqualified table names inside
// that namespace.
type Handle interface {
	Namespace() string
	Querier() Querier
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
	Close()
}

// PoolHandle is the Postgres-backed Handle. Its pool pins search_path to the
// namespace on every physical connection.
type PoolHandle struct {
	namespace string
	pool      *pgxpool.Pool
}

func NewPoolHandle(namespace string, pool *pgxpool.Pool) *PoolHandle {
	return &PoolHandle{namespace: namespace, pool: pool}
}

func (h *PoolHandle) Namespace() string { return h.namespace }

func (h *PoolHandle) Querier() Querier { return h.pool }

func (h *PoolHandle) InTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	err := pgx.BeginTxFunc(ctx, h.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", h.namespace, err)
	}
	return nil
}

func (h *PoolHandle) Ping(ctx context.Context) error {
	return h.pool.Ping(ctx)
}

func (h *PoolHandle) Stats() *PoolStats {
	return statsOf(h.pool.Stat())
}

func (h *PoolHandle) Close() {
	h.pool.Close()
}
