package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Instrument traces and measures every request with OpenTelemetry. Spans are
// named after the chi route pattern, or the method alone when no route
// matched, so path parameters never reach span names.
func Instrument(service string, tp trace.TracerProvider, mp metric.MeterProvider, prop propagation.TextMapPropagator) Middleware {
	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method
		}),
	}
	if tp != nil {
		opts = append(opts, otelhttp.WithTracerProvider(tp))
	}
	if mp != nil {
		opts = append(opts, otelhttp.WithMeterProvider(mp))
	}
	if prop != nil {
		opts = append(opts, otelhttp.WithPropagators(prop))
	}
	otelMiddleware := otelhttp.NewMiddleware(service, opts...)
	return func(next http.Handler) http.Handler {
		return otelMiddleware(nameByRoute(next))
	}
}

// nameByRoute hands the router a route context up front so the matched
// pattern is still readable once routing is done.
func nameByRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			rctx = chi.NewRouteContext()
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		}

		next.ServeHTTP(w, r)

		pattern := rctx.RoutePattern()
		if pattern == "" {
			return
		}
		route := attribute.String("http.route", pattern)
		span := trace.SpanFromContext(r.Context())
		span.SetName(r.Method + " " + pattern)
		span.SetAttributes(route)
		if l, ok := otelhttp.LabelerFromContext(r.Context()); ok {
			l.Add(route)
		}
	})
}
