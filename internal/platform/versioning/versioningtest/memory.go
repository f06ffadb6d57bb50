// Package versioningtest provides in-memory namespaces, tables and a history
// ledger for exercising the versioning engine without Postgres.
package versioningtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/ilpi/internal/platform/db"
)

var errNoSQL = errors.New("versioningtest: SQL is not supported by the in-memory querier")

// Namespace is one isolated in-memory tenant namespace. Transactions are
// serialized and roll back by restoring a snapshot of every collection.
type Namespace struct {
	name string

	mu   sync.Mutex
	data map[string]map[string][]byte

	closed bool
}

func NewNamespace(name string) *Namespace {
	return &Namespace{name: name, data: make(map[string]map[string][]byte)}
}

func (n *Namespace) Namespace() string { return n.name }

func (n *Namespace) Querier() db.Querier { return &Conn{ns: n} }

func (n *Namespace) InTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return fmt.Errorf("%s: namespace closed", n.name)
	}

	saved := n.snapshot()
	if err := fn(ctx, &Conn{ns: n, inTx: true}); err != nil {
		n.data = saved
		return err
	}
	return nil
}

func (n *Namespace) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
}

// Len returns the number of rows in a collection.
func (n *Namespace) Len(collection string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.data[collection])
}

// Rows returns the raw stored documents of a collection sorted by key.
func (n *Namespace) Rows(collection string) [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := make([]string, 0, len(n.data[collection]))
	for k := range n.data[collection] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = n.data[collection][k]
	}
	return out
}

// stored values are never mutated in place, so copying the maps is enough
func (n *Namespace) snapshot() map[string]map[string][]byte {
	out := make(map[string]map[string][]byte, len(n.data))
	for name, rows := range n.data {
		c := make(map[string][]byte, len(rows))
		for k, v := range rows {
			c[k] = v
		}
		out[name] = c
	}
	return out
}

// Conn is the db.Querier handed out by a Namespace. It refuses SQL; the
// in-memory tables reach the namespace's collections through it instead.
type Conn struct {
	ns   *Namespace
	inTx bool
}

func (c *Conn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errNoSQL
}

func (c *Conn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errNoSQL
}

func (c *Conn) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

type errRow struct{}

func (errRow) Scan(...any) error { return errNoSQL }

// with runs fn against the collection. Outside a transaction it takes the
// namespace lock for the duration of fn.
func (c *Conn) with(collection string, fn func(rows map[string][]byte) error) error {
	if !c.inTx {
		c.ns.mu.Lock()
		defer c.ns.mu.Unlock()
	}
	rows, ok := c.ns.data[collection]
	if !ok {
		rows = make(map[string][]byte)
		c.ns.data[collection] = rows
	}
	return fn(rows)
}

func conn(q db.Querier) (*Conn, error) {
	c, ok := q.(*Conn)
	if !ok || c == nil {
		return nil, fmt.Errorf("versioningtest: querier %T is not an in-memory connection", q)
	}
	return c, nil
}

// Context returns ctx routed to ns for tenantID, the way the tenant
// middleware routes a request.
func Context(ctx context.Context, ns *Namespace, tenantID uuid.UUID) context.Context {
	ctx = db.WithHandle(ctx, ns)
	return db.WithTenantID(ctx, tenantID.String())
}
