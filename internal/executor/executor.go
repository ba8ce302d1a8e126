// Package executor runs test definitions against the legacy and shadow
// stores and captures every result or failure as data.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shadowcheck/internal/db"
	"shadowcheck/internal/procedure"
	"shadowcheck/internal/rowset"
	"shadowcheck/internal/util"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultScanLimit = 10000
)

// Options configures an Executor.
type Options struct {
	// Timeout bounds each call, including transaction setup.
	Timeout time.Duration
	// ScanLimit caps the rows materialized per result set; rows beyond it are
	// counted but not kept.
	ScanLimit int
}

// Executor calls procedures on both stores. It is not safe for concurrent
// use; each store holds a single connection.
type Executor struct {
	legacy *db.DB
	shadow *db.DB
	opts   Options
	tracer trace.Tracer
}

// New returns an Executor over the two stores.
func New(legacy, shadow *db.DB, opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = defaultScanLimit
	}
	return &Executor{
		legacy: legacy,
		shadow: shadow,
		opts:   opts,
		tracer: otel.Tracer("shadowcheck/executor"),
	}
}

// Execute runs test in its classified mode. It never returns an error:
// every failure is recorded in the returned Pair.
func (e *Executor) Execute(ctx context.Context, test procedure.Test) Pair {
	pair := Pair{Test: test}
	if test.Mode == procedure.ModeMutating {
		pair.Legacy = Outcome{Skipped: true}
		pair.Shadow = e.RunMutating(ctx, test)
		return pair
	}
	pair.Legacy = e.RunReadOnly(ctx, e.legacy, test)
	pair.Shadow = e.RunReadOnly(ctx, e.shadow, test)
	return pair
}

// RunReadOnly calls test on store over a dedicated connection.
func (e *Executor) RunReadOnly(ctx context.Context, store *db.DB, test procedure.Test) Outcome {
	ctx, span := e.startSpan(ctx, store, test)
	defer span.End()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	conn, err := store.Conn(ctx)
	if err != nil {
		return e.finish(span, Failure(StageCall, errors.Wrapf(err, "acquire %s connection", store.Label), time.Since(start)))
	}
	defer util.CloseWithErr(conn, store.Label+" conn")
	return e.finish(span, e.call(ctx, store, conn, test, start))
}

// RunMutating calls test on the shadow store inside a transaction that is
// always rolled back.
func (e *Executor) RunMutating(ctx context.Context, test procedure.Test) Outcome {
	store := e.shadow
	ctx, span := e.startSpan(ctx, store, test)
	defer span.End()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	tx, err := store.BeginTx(ctx, nil)
	if err != nil {
		return e.finish(span, Failure(StageBegin, errors.Wrapf(err, "begin %s transaction", store.Label), time.Since(start)))
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			util.Errorf("rollback %s on %s failed: %v", test.Name, store.Label, err)
		}
	}()
	return e.finish(span, e.call(ctx, store, tx, test, start))
}

func (e *Executor) call(ctx context.Context, store *db.DB, q db.Querier, test procedure.Test, start time.Time) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failure(StageCall, errors.Wrapf(db.ErrDriverPanic, "%s: %v", store.Label, r), time.Since(start))
		}
	}()
	call, err := store.BuildCall(test)
	if err != nil {
		return Failure(StageBuild, err, time.Since(start))
	}
	if util.Verbose() {
		util.Detailf("[%s] %s", store.Label, call)
	}
	for _, stmt := range call.Setup {
		if _, err := q.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return withSQL(Failure(StageSetup, err, time.Since(start)), call)
		}
	}
	rows, err := q.QueryContext(ctx, call.Query.SQL, call.Query.Args...)
	if err != nil {
		return withSQL(Failure(StageCall, err, time.Since(start)), call)
	}
	defer util.CloseWithErr(rows, store.Label+" rows")
	rs, err := rowset.Scan(rows, e.opts.ScanLimit)
	if err != nil {
		return withSQL(Failure(StageScan, err, time.Since(start)), call)
	}
	return withSQL(Success(rs, time.Since(start)), call)
}

func withSQL(o Outcome, call db.Call) Outcome {
	o.SQL = call.String()
	return o
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.Timeout)
}

func (e *Executor) startSpan(ctx context.Context, store *db.DB, test procedure.Test) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "shadowcheck.call", trace.WithAttributes(
		attribute.String("store", store.Label),
		attribute.String("procedure", test.Name),
		attribute.String("mode", test.Mode.String()),
	))
}

func (e *Executor) finish(span trace.Span, o Outcome) Outcome {
	span.SetAttributes(attribute.Int("rows", o.RowCount()), attribute.Int64("elapsed_ms", o.Elapsed.Milliseconds()))
	if !o.OK {
		span.SetStatus(codes.Error, fmt.Sprintf("%s: %s", o.Stage, o.Reason))
	}
	return o
}
