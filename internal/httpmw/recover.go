package httpmw

import (
	"fmt"
	"net/http"

	"github.com/keithlinneman/svcmw/internal/log"
	"github.com/keithlinneman/svcmw/internal/xerrors"
)

// Recover turns a handler panic into a 500 and logs it. onPanic, when set,
// runs after logging (panic counter). http.ErrAbortHandler is re-raised so
// net/http can abort the connection quietly.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.Wrap(v, "panic")
				default:
					err = xerrors.Newf("panic: %s", fmt.Sprint(v))
				}

				ctx := r.Context()
				L.With("http.request.method", r.Method, "url.path", r.URL.Path).
					Error(ctx, err, "httpserver panic recovered")
				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
