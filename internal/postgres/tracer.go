package postgres

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

const modulePrefix = "github.com/linnemanlabs/triagedesk/"

// QueryObserver receives per-query timings (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

// RequestStats accumulates the queries issued while serving one request.
type RequestStats struct {
	mu       sync.Mutex
	queries  int
	errors   int
	duration time.Duration
}

// Add records a single query execution.
func (s *RequestStats) Add(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	s.duration += dur
	if err != nil {
		s.errors++
	}
}

// Snapshot returns the totals recorded so far.
func (s *RequestStats) Snapshot() (queries, errs int, total time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries, s.errors, s.duration
}

type requestInfo struct {
	method string
	stats  *RequestStats
}

type requestKey struct{}

type queryKey struct{}

type queryInfo struct {
	sql    string
	start  time.Time
	caller string
}

// WithRequest attaches the HTTP method and a fresh RequestStats to ctx.
func WithRequest(ctx context.Context, method string) (context.Context, *RequestStats) {
	st := &RequestStats{}
	return context.WithValue(ctx, requestKey{}, &requestInfo{method: method, stats: st}), st
}

func requestFromContext(ctx context.Context) (*requestInfo, bool) {
	ri, ok := ctx.Value(requestKey{}).(*requestInfo)
	return ri, ok
}

// Middleware labels queries with the request method and logs a per-request
// query summary for requests that touched the database.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, st := WithRequest(r.Context(), r.Method)
		next.ServeHTTP(w, r.WithContext(ctx))

		if n, errs, total := st.Snapshot(); n > 0 {
			log.FromContext(ctx).Info(ctx, "request db usage",
				"db.queries", n,
				"db.errors", errs,
				"db.duration", total.Seconds(),
			)
		}
	})
}

// queryTracer wraps another pgx.QueryTracer (otelpgx) with logging,
// per-request accounting and an optional observer.
type queryTracer struct {
	inner    pgx.QueryTracer
	slow     time.Duration
	observer QueryObserver
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	start := time.Now()
	caller := appCaller()

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if caller != "" {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("code.function", caller))
		}
	}

	return context.WithValue(ctx, queryKey{}, &queryInfo{sql: data.SQL, start: start, caller: caller})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qi, _ := ctx.Value(queryKey{}).(*queryInfo)
	if qi == nil {
		return
	}
	dur := time.Since(qi.start)

	method := "NONE"
	if ri, ok := requestFromContext(ctx); ok {
		ri.stats.Add(dur, data.Err)
		method = ri.method
	}

	if t.observer != nil {
		route := "none"
		if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		t.observer.ObserveQuery(ctx, method, route, outcome(data.Err), dur)
	}

	if data.Err == nil && (t.slow <= 0 || dur < t.slow) {
		return
	}

	fields := []any{
		"db.statement", qi.sql,
		"db.duration", dur.Seconds(),
		"db.operation.name", operationName(qi.sql),
	}
	if qi.caller != "" {
		fields = append(fields, "db.caller", qi.caller)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Warn(ctx, "slow db query", fields...)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// operationName returns the leading SQL verb, upper-cased.
func operationName(sql string) string {
	f := strings.Fields(sql)
	if len(f) == 0 {
		return ""
	}
	return strings.ToUpper(f[0])
}

// appCaller returns the first frame in this module outside the postgres package.
func appCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, modulePrefix) &&
			!strings.HasPrefix(fr.Function, modulePrefix+"internal/postgres.") {
			return shortFuncName(fr.Function)
		}
		if !more {
			return ""
		}
	}
}

// shortFuncName trims the import path, keeping package, receiver and method.
func shortFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	return fn
}
