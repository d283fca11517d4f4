package observability

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

type recordingWriter struct {
	http.ResponseWriter
	status int
}

func (w *recordingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMetrics records duration, count and 4xx/5xx count per method, matched
// route and status. Unmatched paths share the "unmatched" route so arbitrary
// URLs cannot grow label cardinality. A nil metrics disables recording.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	if metrics == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &recordingWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			ctx := r.Context()
			attrs := otelmetric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", routeOf(r)),
				attribute.String("status", strconv.Itoa(rw.status)),
			)
			metrics.HTTPRequestDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
			metrics.HTTPRequestTotal.Add(ctx, 1, attrs)
			if rw.status >= http.StatusBadRequest {
				metrics.HTTPRequestErrors.Add(ctx, 1, attrs)
			}
		})
	}
}

func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}
