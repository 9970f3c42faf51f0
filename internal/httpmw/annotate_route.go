package httpmw

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/svcmw/internal/tracectx"
)

// FieldRoute is the tracectx key carrying the matched route pattern.
const FieldRoute = "http.route"

// AnnotateHTTPRoute records the chi route pattern once routing is done: on
// the span (http.route attribute and name) and in the tracectx record so
// the access log carries it.
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		ctx := r.Context()
		routePat := ""
		if rc := chi.RouteContext(ctx); rc != nil {
			routePat = rc.RoutePattern()
		}
		if routePat == "" {
			return
		}

		tracectx.FromContext(ctx).Set(FieldRoute, routePat)

		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}
		span.SetAttributes(attribute.String("http.route", routePat))
		span.SetName(r.Method + " " + routePat)
	})
}
