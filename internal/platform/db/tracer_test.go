package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

type recordingTracer struct {
	name  string
	calls *[]string
}

type recordingKey string

func (r recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	*r.calls = append(*r.calls, "start:"+r.name)
	return context.WithValue(ctx, recordingKey(r.name), true)
}

func (r recordingTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryEndData) {
	if ctx.Value(recordingKey(r.name)) == nil {
		*r.calls = append(*r.calls, "missing-ctx:"+r.name)
		return
	}
	*r.calls = append(*r.calls, "end:"+r.name)
}

func TestQueryTracers_FansOutAndChainsContext(t *testing.T) {
	var calls []string
	tracers := QueryTracers{
		recordingTracer{name: "a", calls: &calls},
		recordingTracer{name: "b", calls: &calls},
	}

	ctx := tracers.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracers.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	want := []string{"start:a", "start:b", "end:a", "end:b"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestLogTracer_LogsStatement(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	tracer := NewLogTracer(logger, "tenant_a")

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL:  "SELECT id FROM residents WHERE id = $1",
		Args: []any{"secret-value"},
	})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	out := buf.String()
	if !strings.Contains(out, `"namespace":"tenant_a"`) {
		t.Errorf("expected namespace in log, got %s", out)
	}
	if !strings.Contains(out, "SELECT id FROM residents") {
		t.Errorf("expected sql in log, got %s", out)
	}
	if strings.Contains(out, "secret-value") {
		t.Errorf("expected arguments to be omitted, got %s", out)
	}
}

func TestLogTracer_ErrorIsWarn(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewLogTracer(zerolog.New(&buf), "tenant_a")

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("expected warn level, got %s", buf.String())
	}
}

func TestLogTracer_EndWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewLogTracer(zerolog.New(&buf), "tenant_a")
	tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %s", buf.String())
	}
}
