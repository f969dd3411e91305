package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MetricsMiddleware records request counts, latency, and an active-request
// gauge for every route it wraps. Both metrics and tracer may be nil.
// Paths are reduced to route labels before use: conversation ids are
// uuids, and raw ids in a label would grow the series set without bound.
func MetricsMiddleware(metrics *MetricsCollector, tracer trace.Tracer) okapi.Middleware {
	return func(next okapi.HandlerFunc) okapi.HandlerFunc {
		return func(c *okapi.Context) error {
			r := c.Request()
			route := routeLabel(r.URL.Path)

			if tracer != nil {
				_, span := tracer.Start(r.Context(), "http.request",
					trace.WithAttributes(
						attribute.String("http.method", r.Method),
						attribute.String("http.route", route),
						attribute.String("http.path", r.URL.Path),
					))
				defer span.End()
			}

			if metrics != nil {
				metrics.ActiveRequests.Inc()
				defer metrics.ActiveRequests.Dec()
			}

			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()

			if metrics != nil {
				code := c.Response().StatusCode()
				if code == 0 {
					code = http.StatusOK
				}
				metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, statusCode(code)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			}

			return err
		}
	}
}

// routeLabel collapses uuid path segments to "{id}" so one conversation
// route yields one metric series.
func routeLabel(path string) string {
	if !strings.Contains(path, "-") {
		return path
	}
	segments := strings.Split(path, "/")
	changed := false
	for i, seg := range segments {
		if _, err := uuid.Parse(seg); err == nil {
			segments[i] = "{id}"
			changed = true
		}
	}
	if !changed {
		return path
	}
	return strings.Join(segments, "/")
}
