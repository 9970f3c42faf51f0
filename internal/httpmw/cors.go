package httpmw

import (
	"net/http"
	"strconv"
	"strings"
)

// DefaultCORSAllowHeaders are the request headers browsers may send
// cross-origin.
var DefaultCORSAllowHeaders = []string{
	"authorization",
	"ulms-app-audience",
	"ulms-scope",
	"ulms-app-version",
	"ulms-app-label",
	"content-type",
	"x-agent-label",
}

const (
	corsAllowMethods = "GET, PUT, POST, PATCH, DELETE"
	corsMaxAge       = 3600
)

// CORSOptions configures the CORS interceptor.
type CORSOptions struct {
	// AllowHeaders overrides DefaultCORSAllowHeaders when non-empty.
	AllowHeaders []string
}

// CORS adds the cross-origin response headers to every response and
// answers preflight requests that the inner router rejects with 405.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	headers := opts.AllowHeaders
	if len(headers) == 0 {
		headers = DefaultCORSAllowHeaders
	}
	allowHeaders := strings.Join(headers, ", ")
	maxAge := strconv.Itoa(corsMaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			if origin := r.Header.Get("Origin"); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Max-Age", maxAge)

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(&preflightWriter{ResponseWriter: w}, r)
		})
	}
}

// preflightWriter turns a 405 into a bodyless 200 so routes that only
// register concrete methods still satisfy browser preflights.
type preflightWriter struct {
	http.ResponseWriter
	rewritten bool
}

func (w *preflightWriter) WriteHeader(code int) {
	if code == http.StatusMethodNotAllowed {
		w.rewritten = true
		w.Header().Del("Content-Type")
		w.Header().Del("Content-Length")
		code = http.StatusOK
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *preflightWriter) Write(p []byte) (int, error) {
	if w.rewritten {
		return len(p), nil
	}
	return w.ResponseWriter.Write(p)
}

func (w *preflightWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
