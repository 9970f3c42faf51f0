package authn

import (
	"net/http"

	"github.com/keithlinneman/svcmw/internal/jws"
	"github.com/keithlinneman/svcmw/internal/log"
	"github.com/keithlinneman/svcmw/internal/tracectx"
)

// ConfigMiddleware injects the process verification config into every
// request context. cfg must be fully built before the server starts.
func ConfigMiddleware(cfg *jws.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithConfig(r.Context(), cfg)))
		})
	}
}

// SeedFunc reports the AccountID a trusted upstream stage established for
// r. It must not derive the identity from caller-controlled request data.
type SeedFunc func(r *http.Request) (AccountID, bool)

// SeedMiddleware attaches the seeded AccountID returned by seed. A nil seed
// leaves requests untouched.
func SeedMiddleware(seed SeedFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if seed == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := seed(r); ok {
				r = r.WithContext(WithSeededAccount(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware requires an AccountID. On success the id is available through
// AccountFromContext and the request logger carries account_id; on failure
// a 401 is written and next is not called.
func Middleware(res *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := res.ResolveAccount(r)
			if err != nil {
				WriteError(w, err)
				return
			}
			ctx := withAccount(r.Context(), id)
			ctx = log.With(ctx, tracectx.FieldAccountID, id.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentMiddleware requires an AgentID. Both AgentFromContext and
// AccountFromContext are populated for next.
func AgentMiddleware(res *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := res.ResolveAgent(r)
			if err != nil {
				WriteError(w, err)
				return
			}
			ctx := withAgent(r.Context(), id)
			ctx = log.With(ctx,
				tracectx.FieldAccountID, id.Account.String(),
				tracectx.FieldAgentID, id.String(),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
