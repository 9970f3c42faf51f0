package httpmw

import "net/http"

// BodyLimit caps request bodies at limit bytes. A request that declares a
// larger Content-Length is answered 413 with an empty body before next runs;
// bodies of unknown length fail with 413 once the handler reads past limit.
// limit <= 0 disables the check.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
