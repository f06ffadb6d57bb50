package isolation

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type traceKey struct{}

type traceData struct {
	sql   string
	start time.Time
}

// Tracer feeds every statement executed on one namespace's pool to a Monitor.
type Tracer struct {
	monitor   *Monitor
	namespace string
}

func NewTracer(m *Monitor, namespace string) *Tracer {
	return &Tracer{monitor: m, namespace: namespace}
}

// TracerFactory returns a function suitable for db.WithTracerFactory.
func (m *Monitor) TracerFactory() func(namespace string) pgx.QueryTracer {
	return func(namespace string) pgx.QueryTracer { return NewTracer(m, namespace) }
}

func (t *Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceData{sql: data.SQL, start: time.Now()})
}

func (t *Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	td, ok := ctx.Value(traceKey{}).(traceData)
	if !ok {
		return
	}
	t.monitor.Observe(Operation{
		Namespace: t.namespace,
		SQL:       td.sql,
		Duration:  time.Since(td.start),
		Err:       data.Err,
	})
}
