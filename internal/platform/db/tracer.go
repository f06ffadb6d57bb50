package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// QueryTracers fans one pgx tracer hook out to several tracers. Each tracer
// receives the context returned by the previous one.
type QueryTracers []pgx.QueryTracer

func (ts QueryTracers) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	for _, t := range ts {
		ctx = t.TraceQueryStart(ctx, conn, data)
	}
	return ctx
}

func (ts QueryTracers) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	for _, t := range ts {
		t.TraceQueryEnd(ctx, conn, data)
	}
}

type logTraceKey struct{}

type logTraceData struct {
	sql   string
	start time.Time
}

// LogTracer writes one debug line per statement executed in a namespace.
// Arguments are never logged.
type LogTracer struct {
	namespace string
	logger    zerolog.Logger
}

func NewLogTracer(logger zerolog.Logger, namespace string) *LogTracer {
	return &LogTracer{namespace: namespace, logger: logger}
}

func (t *LogTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, logTraceKey{}, logTraceData{sql: data.SQL, start: time.Now()})
}

func (t *LogTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	td, ok := ctx.Value(logTraceKey{}).(logTraceData)
	if !ok {
		return
	}

	evt := t.logger.Debug()
	if data.Err != nil {
		evt = t.logger.Warn().Err(data.Err)
	}
	evt.
		Str("namespace", t.namespace).
		Str("sql", td.sql).
		Dur("duration", time.Since(td.start)).
		Int64("rows", data.CommandTag.RowsAffected()).
		Msg("query")
}
