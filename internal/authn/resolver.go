package authn

import (
	"net/http"
	"strings"

	"github.com/keithlinneman/svcmw/internal/jws"
	"github.com/keithlinneman/svcmw/internal/log"
	"github.com/keithlinneman/svcmw/internal/tracectx"
	"github.com/keithlinneman/svcmw/internal/xerrors"
)

const (
	// AccessTokenParam is the query parameter fallback for the bearer token.
	AccessTokenParam = "access_token"

	// AgentLabelHeader carries the caller-chosen session label.
	AgentLabelHeader = "X-Agent-Label"
)

// Options configures a Resolver.
type Options struct {
	// Verifier checks tokens. Defaults to jws.Verifier{}.
	Verifier Verifier
	// DefaultLabel is the agent label used when X-Agent-Label is absent.
	// Defaults to DefaultAgentLabel.
	DefaultLabel string
	// RequireLabel rejects requests without X-Agent-Label instead of
	// falling back to DefaultLabel.
	RequireLabel bool
}

// Resolver turns request credentials into identities. It holds no
// per-request state and is safe for concurrent use.
type Resolver struct {
	verifier     Verifier
	defaultLabel string
	requireLabel bool
}

// NewResolver returns a Resolver with defaults applied to opts.
func NewResolver(opts Options) *Resolver {
	if opts.Verifier == nil {
		opts.Verifier = jws.Verifier{}
	}
	if opts.DefaultLabel == "" {
		opts.DefaultLabel = DefaultAgentLabel
	}
	return &Resolver{
		verifier:     opts.Verifier,
		defaultLabel: opts.DefaultLabel,
		requireLabel: opts.RequireLabel,
	}
}

// ResolveAccount runs the account resolution chain for r and records the
// result under tracectx.FieldAccountID. Failures are *Error values.
func (res *Resolver) ResolveAccount(r *http.Request) (AccountID, error) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	cfg, ok := ConfigFromContext(ctx)
	if !ok {
		err := noConfigError()
		L.Error(ctx, xerrors.WithStack(ErrNoConfig), "verification config missing from request context",
			"alert", "operator",
		)
		return AccountID{}, err
	}

	token, source, present, err := credential(r)
	if err != nil {
		L.Warn(ctx, "malformed credential", "source", source, "error", err.Error())
		return AccountID{}, invalidAuthError(err)
	}

	var id AccountID
	if present {
		claims, err := res.verifier.Verify(token, cfg)
		if err != nil {
			L.Warn(ctx, "token verification failed", "source", source, "error", err.Error())
			return AccountID{}, invalidAuthError(err)
		}
		id = AccountID{Subject: claims.Subject, Audience: claims.Audience}
	} else {
		seeded, ok := SeededAccountFromContext(ctx)
		if !ok {
			return AccountID{}, invalidAuthError(xerrors.New("no credential and no seeded identity"))
		}
		id = AccountID{Subject: AnonymousSubject, Audience: seeded.Audience}
	}

	tracectx.Record(ctx, tracectx.FieldAccountID, id.String())
	return id, nil
}

// ResolveAgent resolves the account and pairs it with the request's agent
// label, recording the result under tracectx.FieldAgentID.
func (res *Resolver) ResolveAgent(r *http.Request) (AgentID, error) {
	label := strings.TrimSpace(r.Header.Get(AgentLabelHeader))
	if label == "" {
		if res.requireLabel {
			log.FromContext(r.Context()).Warn(r.Context(), "missing agent label")
			return AgentID{}, invalidAuthError(xerrors.Newf("missing %s header", AgentLabelHeader))
		}
		label = res.defaultLabel
	}

	account, err := res.ResolveAccount(r)
	if err != nil {
		return AgentID{}, err
	}

	id := AgentID{Label: label, Account: account}
	tracectx.Record(r.Context(), tracectx.FieldAgentID, id.String())
	return id, nil
}

// credential extracts the bearer token. present is false when neither the
// header nor the query parameter carries one. An Authorization header with
// another scheme does not count as a credential.
func credential(r *http.Request) (token, source string, present bool, err error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, rest, _ := strings.Cut(h, " ")
		if strings.EqualFold(scheme, "Bearer") {
			token = strings.TrimSpace(rest)
			if token == "" {
				return "", "header", true, xerrors.New("empty bearer token")
			}
			return token, "header", true, nil
		}
	}
	if q := r.URL.Query(); q.Has(AccessTokenParam) {
		token = strings.TrimSpace(q.Get(AccessTokenParam))
		if token == "" {
			return "", "query", true, xerrors.Newf("empty %s parameter", AccessTokenParam)
		}
		return token, "query", true, nil
	}
	return "", "", false, nil
}
