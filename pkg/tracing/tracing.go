// Package tracing wraps the OpenTelemetry tracer used for the
// per-request span the API layer starts around every handler.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cuemby/orchestrator-core"

// Tracer returns the global tracer for this module.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Middleware starts a span named after the request's method and chi
// route pattern, closing it once the handler returns.
func Middleware(routePattern func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routePattern(r)
			ctx, span := Tracer().Start(r.Context(), r.Method+" "+route)
			defer span.End()

			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StartSpan is a convenience wrapper for background tasks (dispatcher
// ticks, detector passes) that want a span without an inbound request.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name)
}
