package database

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/stockalloc/pkg/database"

// QueryTracer is a pgx.QueryTracer that opens a client span per statement
// and logs statements slower than a threshold.
type QueryTracer struct {
	slow   time.Duration
	logger *slog.Logger
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

// NewQueryTracer creates a QueryTracer. A zero slow threshold or nil logger
// disables slow query logging.
func NewQueryTracer(slow time.Duration, logger *slog.Logger) *QueryTracer {
	return &QueryTracer{slow: slow, logger: logger}
}

type queryCtxKey struct{}

type queryState struct {
	sql   string
	start time.Time
	span  trace.Span
}

// TraceQueryStart implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := Operation(data.SQL)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", data.SQL),
		),
	)
	return context.WithValue(ctx, queryCtxKey{}, &queryState{sql: data.SQL, start: time.Now(), span: span})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	st, ok := ctx.Value(queryCtxKey{}).(*queryState)
	if !ok {
		return
	}
	if data.Err != nil {
		st.span.RecordError(data.Err)
		st.span.SetStatus(codes.Error, data.Err.Error())
	} else {
		st.span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	st.span.End()

	if t.slow <= 0 || t.logger == nil {
		return
	}
	if elapsed := time.Since(st.start); elapsed >= t.slow {
		attrs := []any{
			slog.String("operation", Operation(st.sql)),
			slog.String("statement", st.sql),
			slog.Duration("duration", elapsed),
		}
		if data.Err != nil {
			attrs = append(attrs, slog.String("error", data.Err.Error()))
		}
		t.logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}

// Operation returns the leading SQL keyword of a statement in upper case,
// e.g. SELECT or WITH.
func Operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(strings.TrimLeft(fields[0], "("))
}
