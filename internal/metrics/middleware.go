package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/svcmw/internal/log"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	n      int
}

// WriteHeader records the first final status. 1xx responses other than
// 101 are interim and leave the outcome open.
func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 && (code >= 200 || code == http.StatusSwitchingProtocols) {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.n += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// timer observes elapsed time once, whether the handler returns or panics.
type timer struct {
	ctx   context.Context
	obs   prometheus.Observer
	start time.Time
	done  bool
}

func (t *timer) stop() {
	if t.done || t.obs == nil {
		return
	}
	t.done = true
	observe(t.ctx, t.obs, time.Since(t.start).Seconds())
}

type metered struct {
	rt   *Route
	next http.Handler
}

// Metered wraps h so every request records duration, body size and outcome
// under the route label derived from pattern.
func (m *Registry) Metered(pattern string, h http.Handler) http.Handler {
	return &metered{rt: m.Route(pattern), next: h}
}

// Middleware is Metered in chain form.
func (m *Registry) Middleware(pattern string) func(http.Handler) http.Handler {
	rt := m.Route(pattern)
	return func(next http.Handler) http.Handler {
		return &metered{rt: rt, next: next}
	}
}

// MeteredRoute mounts h on r for every method under pattern.
func (m *Registry) MeteredRoute(r chi.Router, pattern string, h http.Handler) {
	r.Handle(pattern, m.Metered(pattern, h))
}

// MeteredMethod mounts h on r for one method under pattern.
func (m *Registry) MeteredMethod(r chi.Router, method, pattern string, h http.Handler) {
	r.Method(method, pattern, m.Metered(pattern, h))
}

func (h *metered) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mi, ok := methodIndex(r.Method)
	if !ok {
		log.FromContext(ctx).Debug(ctx, "method outside metered set, skipping metrics",
			"path", h.rt.path, "method", r.Method)
		h.next.ServeHTTP(w, r)
		return
	}

	// -1 means the client gave no size hint.
	if r.ContentLength >= 0 {
		if obs := h.rt.bodySize(ctx, mi); obs != nil {
			obs.Observe(float64(r.ContentLength))
		}
	}

	t := &timer{ctx: ctx, obs: h.rt.duration(ctx, mi), start: time.Now()}
	defer t.stop()

	sw := &statusWriter{ResponseWriter: w}
	h.next.ServeHTTP(sw, r)

	// Handlers that never Write/WriteHeader get the implicit 200.
	code := sw.status
	if code == 0 {
		code = http.StatusOK
	}
	if c := h.rt.status(ctx, mi, code); c != nil {
		c.Inc()
	}
}

func observe(ctx context.Context, obs prometheus.Observer, v float64) {
	if ex := traceExemplar(ctx); ex != nil {
		if eo, ok := obs.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(v, ex)
			return
		}
	}
	obs.Observe(v)
}

// if a sampled trace is present attach its trace_id as an exemplar
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
