// Package sqltrace traces database/sql calls.
package sqltrace

import (
	"context"
	"database/sql"
	"errors"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/tracing"
)

// SpanName is the exit span opened per statement
const SpanName = "sql"

// DB wraps *sql.DB and opens an exit span for each statement run inside a
// trace. Methods not overridden here are passed through untraced.
type DB struct {
	*sql.DB
	tracer *tracing.Tracer
	info   map[string]any
}

// Option describes the connection for span data
type Option func(map[string]any)

// WithAdapter names the driver, e.g. "postgres"
func WithAdapter(name string) Option {
	return func(info map[string]any) { info["adapter"] = name }
}

// WithHost records the database host
func WithHost(host string) Option {
	return func(info map[string]any) { info["host"] = host }
}

// WithUsername records the connecting user
func WithUsername(user string) Option {
	return func(info map[string]any) { info["username"] = user }
}

// Wrap traces db
func Wrap(db *sql.DB, tracer *tracing.Tracer, opts ...Option) *DB {
	info := make(map[string]any)
	for _, opt := range opts {
		opt(info)
	}
	return &DB{DB: db, tracer: tracer, info: info}
}

// ExecContext runs a statement inside an exit span
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	span, ctx := db.start(ctx, query)
	res, err := db.DB.ExecContext(ctx, query, args...)
	db.finish(span, err)
	return res, err
}

// QueryContext runs a query inside an exit span. The span ends when the
// query returns, not when the rows are closed.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	span, ctx := db.start(ctx, query)
	rows, err := db.DB.QueryContext(ctx, query, args...)
	db.finish(span, err)
	return rows, err
}

// QueryRowContext runs a single-row query inside an exit span
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	span, ctx := db.start(ctx, query)
	row := db.DB.QueryRowContext(ctx, query, args...)
	db.finish(span, row.Err())
	return row
}

func (db *DB) start(ctx context.Context, query string) (*tracing.Span, context.Context) {
	if !db.tracer.Tracing(ctx) {
		return nil, ctx
	}

	data := make(map[string]any, len(db.info)+1)
	for k, v := range db.info {
		data[k] = v
	}
	data["sql"] = query

	return db.tracer.StartSpan(ctx, SpanName, tracing.WithData(map[string]any{"sql": data}))
}

func (db *DB) finish(span *tracing.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
	}
	span.Finish()
}
