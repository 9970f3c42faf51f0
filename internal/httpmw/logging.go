package httpmw

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/svcmw/internal/log"
	"github.com/keithlinneman/svcmw/internal/otelx"
	"github.com/keithlinneman/svcmw/internal/tracectx"
)

// responseWriter wraps http.ResponseWriter to capture status and bytes written
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64

	// response.write span (starts on first WriteHeader/Write)
	ctx      context.Context
	reqStart time.Time

	writeSpan        trace.Span
	writeSpanStarted bool
	firstWriteAt     time.Duration
	writeBlocked     time.Duration
	writeErr         error
}

func (rw *responseWriter) ensureWriteSpan() {
	if rw.writeSpanStarted {
		return
	}
	rw.writeSpanStarted = true
	rw.firstWriteAt = time.Since(rw.reqStart)

	parent := trace.SpanFromContext(rw.ctx)
	if !parent.IsRecording() {
		return
	}

	rw.ctx, rw.writeSpan = otelx.Tracer("httpmw").Start(rw.ctx, "response.write",
		trace.WithAttributes(
			attribute.Float64("http.server.ttfb_seconds", rw.firstWriteAt.Seconds()),
		),
	)
}

func (rw *responseWriter) finishWriteSpan() {
	if rw.writeSpan == nil {
		return
	}

	rw.writeSpan.SetAttributes(
		attribute.Int("http.response.status_code", rw.statusCode()),
		attribute.Int64("http.response.body.size", rw.bytes),
		attribute.Float64("http.server.write.block_seconds", rw.writeBlocked.Seconds()),
	)
	if rw.writeErr != nil {
		rw.writeSpan.RecordError(rw.writeErr)
		rw.writeSpan.SetStatus(codes.Error, rw.writeErr.Error())
	}
	rw.writeSpan.End()
}

func (rw *responseWriter) statusCode() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.ensureWriteSpan()
	if rw.status == 0 {
		rw.status = code
	}
	start := time.Now()
	rw.ResponseWriter.WriteHeader(code)
	rw.writeBlocked += time.Since(start)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.ensureWriteSpan()
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	start := time.Now()
	n, err := rw.ResponseWriter.Write(b)
	rw.writeBlocked += time.Since(start)
	rw.bytes += int64(n)
	if err != nil && rw.writeErr == nil {
		rw.writeErr = err
	}
	return n, err
}

// support Flush if the underlying writer does.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// support Hijack (websockets, etc).
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// WithLogger stores a request-scoped logger derived from base in the
// context, tagged with the request id and connection details.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)

			peerAddr := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peerAddr); err == nil {
				peerAddr = host
			}
			scheme := schemeFromRequest(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("server.address", r.Host),
					attribute.String("network.peer.address", peerAddr),
					attribute.String("url.scheme", scheme),
				)
			}

			L := base.With(
				"request_id", reqID,
				"network.peer.address", peerAddr,
				"server.address", r.Host,
				"url.scheme", scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// AccessLogOptions configures AccessLog.
type AccessLogOptions struct {
	// SkipPaths are not logged (health probes).
	SkipPaths []string
	// RedactParams are query parameters whose values never reach the log.
	// Defaults to DefaultRedactParams.
	RedactParams []string
}

// DefaultRedactParams holds the query parameters that carry credentials.
var DefaultRedactParams = []string{"access_token"}

const redacted = "REDACTED"

// redactQuery replaces the values of params in raw. Queries without any of
// them are returned untouched.
func redactQuery(raw string, params []string) string {
	q, err := url.ParseQuery(raw)
	if err != nil {
		// a malformed query may still carry a credential; never log it
		return redacted
	}
	hit := false
	for _, p := range params {
		vs, ok := q[p]
		if !ok {
			continue
		}
		hit = true
		for i := range vs {
			vs[i] = redacted
		}
	}
	if !hit {
		return raw
	}
	return q.Encode()
}

// AccessLog is the per-request log span. It attaches a tracectx record
// before the inner chain runs so identity resolution can annotate it, then
// emits one line per request: Error for 4xx/5xx, Info otherwise.
func AccessLog(opts AccessLogOptions) func(http.Handler) http.Handler {
	redact := opts.RedactParams
	if redact == nil {
		redact = DefaultRedactParams
	}
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, fields := tracectx.Attach(r.Context())
			r = r.WithContext(ctx)

			rw := &responseWriter{
				ResponseWriter: w,
				ctx:            ctx,
				reqStart:       start,
			}

			next.ServeHTTP(rw, r)

			// child span that captures time blocked on writing the response to the client
			rw.finishWriteSpan()

			if _, ok := skip[r.URL.Path]; ok {
				return
			}

			status := rw.statusCode()
			kv := []any{
				"path", r.URL.Path,
				"method", r.Method,
				"status", status,
				"latency", time.Since(start).Seconds(),
				"http.response.body.size", rw.bytes,
			}
			if r.URL.RawQuery != "" {
				kv = append(kv, "query", redactQuery(r.URL.RawQuery, redact))
			}
			if r.Method != http.MethodGet && r.Method != http.MethodOptions && r.ContentLength >= 0 {
				kv = append(kv, "http.request.body.size", r.ContentLength)
			}
			kv = append(kv, fields.KV()...)

			L := log.FromContext(ctx)
			if status >= http.StatusBadRequest {
				L.Error(ctx, nil, "http request", kv...)
				return
			}
			L.Info(ctx, "http request", kv...)
		})
	}
}

var validSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
}

func schemeFromRequest(r *http.Request) string {
	// X-Forwarded-Proto is only a hint; anything but http/https is ignored
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		s := strings.ToLower(strings.TrimSpace(first))
		if _, ok := validSchemes[s]; ok {
			return s
		}
	}

	if r.URL != nil && r.URL.Scheme != "" {
		s := strings.ToLower(r.URL.Scheme)
		if _, ok := validSchemes[s]; ok {
			return s
		}
	}

	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Scope tags the request logger and span with the handler name.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			L := log.FromContext(ctx).With("handler", handler)
			ctx = log.WithContext(ctx, L)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
