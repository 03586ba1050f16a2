package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RequestIDHeader echoes the id chi.RequestID read or generated.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader carries the span's trace id, or the request id when
	// no tracer provider is installed.
	TraceIDHeader = "X-Trace-ID"
)

var tracer = otel.Tracer("heron-api")

type annotationsKey struct{}

// annotations collects the comparison attributes handlers attach to a
// request. They end up on the request span and on the access log line.
type annotations struct {
	mu    sync.Mutex
	attrs []attribute.KeyValue
}

// annotate records attrs on the request span and the access log line.
func annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
	if a, ok := ctx.Value(annotationsKey{}).(*annotations); ok {
		a.mu.Lock()
		a.attrs = append(a.attrs, attrs...)
		a.mu.Unlock()
	}
}

// logArgs renders the attributes as slog pairs, "comparison.id" becoming
// "comparison_id".
func (a *annotations) logArgs() []any {
	a.mu.Lock()
	defer a.mu.Unlock()

	args := make([]any, 0, 2*len(a.attrs))
	for _, kv := range a.attrs {
		args = append(args, strings.ReplaceAll(string(kv.Key), ".", "_"), kv.Value.AsInterface())
	}
	return args
}

// ObservabilityMiddleware wraps each request in a server span and writes
// one access log line once the handler returns. It must run after
// middleware.RequestID.
func ObservabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		traceID := requestID
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}

		notes := &annotations{}
		ctx = context.WithValue(ctx, annotationsKey{}, notes)

		w.Header().Set(RequestIDHeader, requestID)
		w.Header().Set(TraceIDHeader, traceID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
			"trace_id", traceID,
		}
		slog.Info("http request", append(args, notes.logArgs()...)...)
	})
}

// CORSMiddleware lets browser clients call the API and read the
// comparison id of a result.
func CORSMiddleware(next http.Handler) http.Handler {
	allowHeaders := strings.Join([]string{"Content-Type", RequestIDHeader, TraceIDHeader}, ", ")
	exposeHeaders := strings.Join([]string{RequestIDHeader, TraceIDHeader, ComparisonIDHeader}, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Expose-Headers", exposeHeaders)
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
