package httpserver

import (
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/svcmw/internal/authn"
	"github.com/keithlinneman/svcmw/internal/httpmw"
	"github.com/keithlinneman/svcmw/internal/jws"
	"github.com/keithlinneman/svcmw/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	UseRecoverMW bool
	OnPanic      func()

	// AuthnConfig is injected into every request context. Nil leaves it
	// absent so identity resolution fails with no_authn_config.
	AuthnConfig *jws.Config

	// SeedAccount attaches a trusted AccountID used for anonymous access
	// when a request carries no credential. Nil disables seeding.
	SeedAccount authn.SeedFunc

	CORS      httpmw.CORSOptions
	BodyLimit int64

	// Routes registers the application routes (metered and authenticated
	// stacks are applied per route by the caller).
	Routes func(r chi.Router)
}
