package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	// TraceIDKey is the context key for the trace ID.
	TraceIDKey contextKey = "traceID"

	// TraceIDHeader carries the trace ID in and out of the API.
	TraceIDHeader = "X-Trace-ID"
)

var tracer = otel.Tracer("kestrel-api")

// routeInfo describes the matched route once chi has routed the request.
type routeInfo struct {
	pattern      string
	sessionID    string
	evaluationID string
}

func matchedRoute(r *http.Request) routeInfo {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return routeInfo{pattern: "unmatched"}
	}

	info := routeInfo{pattern: rctx.RoutePattern()}
	id := rctx.URLParam("id")
	switch {
	case strings.HasPrefix(info.pattern, "/sessions/{id}"):
		info.sessionID = id
	case strings.HasPrefix(info.pattern, "/evaluations/{id}"):
		info.evaluationID = id
	}
	return info
}

// TracingMiddleware opens a span per request and names it after the matched
// route. A caller-supplied X-Trace-ID is kept when no span context exists.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", r.Method)),
		)
		defer span.End()

		traceID := r.Header.Get(TraceIDHeader)
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			traceID = sc.TraceID().String()
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx = context.WithValue(ctx, TraceIDKey, traceID)
		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))

		route := matchedRoute(r)
		span.SetName(r.Method + " " + route.pattern)
		span.SetAttributes(attribute.String("http.route", route.pattern))
		if route.sessionID != "" {
			span.SetAttributes(attribute.String("session.id", route.sessionID))
		}
		if route.evaluationID != "" {
			span.SetAttributes(attribute.String("evaluation.id", route.evaluationID))
		}
	})
}

// LoggingMiddleware logs one line per request. Server errors log at error
// level, client errors at warn; probes and scrapes log at debug.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := matchedRoute(r)
		attrs := []any{
			"method", r.Method,
			"route", route.pattern,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"trace_id", GetTraceID(r.Context()),
		}
		if route.sessionID != "" {
			attrs = append(attrs, "session_id", route.sessionID)
		}
		if route.evaluationID != "" {
			attrs = append(attrs, "evaluation_id", route.evaluationID)
		}

		level := slog.LevelInfo
		switch {
		case rw.statusCode >= http.StatusInternalServerError:
			level = slog.LevelError
		case rw.statusCode >= http.StatusBadRequest:
			level = slog.LevelWarn
		case isProbe(route.pattern):
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "http request", attrs...)
	})
}

func isProbe(pattern string) bool {
	switch pattern {
	case "/health", "/ready", "/metrics":
		return true
	}
	return false
}

// CORSMiddleware lets browser front ends call the scoring API.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+TraceIDHeader)
		w.Header().Set("Access-Control-Expose-Headers", TraceIDHeader)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a panic in a handler into a JSON 500.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetTraceID returns the request's trace ID, or "".
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}
