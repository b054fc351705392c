// Package middleware provides the chi middleware chain used by every
// request: per-request logging, metrics, and a correlation id for
// internal errors.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/cuemby/orchestrator-core/pkg/log"
	"github.com/cuemby/orchestrator-core/pkg/metrics"
)

type requestIDKey struct{}

// RequestID attaches a correlation id to the request context and the
// response headers, ungated from chi's own RequestID so pkg/log's
// WithRequestID helper can pick it up uniformly.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the correlation id set by RequestID, or
// "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// LoggingAndMetrics logs each request at the component logger's level
// and records the API request counters/histograms, keyed by chi's
// matched route pattern so cardinality stays bounded.
func LoggingAndMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := routePattern(r)
		duration := time.Since(start)
		metrics.APIRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())
		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, http.StatusText(ww.Status())).Inc()

		log.WithRequestID(RequestIDFromContext(r.Context())).Info().
			Str("method", r.Method).
			Str("route", route).
			Int("status", ww.Status()).
			Dur("duration", duration).
			Msg("request handled")
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
