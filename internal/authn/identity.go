package authn

import (
	"context"

	"github.com/keithlinneman/svcmw/internal/jws"
)

// AnonymousSubject is the subject given to callers admitted through a
// seeded identity.
const AnonymousSubject = "anonymous"

// DefaultAgentLabel is used when the request carries no X-Agent-Label.
const DefaultAgentLabel = "http"

// AccountID identifies a credential holder within an audience. Comparable.
type AccountID struct {
	Subject  string
	Audience string
}

func (a AccountID) String() string { return a.Subject + "." + a.Audience }

// AgentID identifies one session of an account.
type AgentID struct {
	Label   string
	Account AccountID
}

func (a AgentID) String() string { return a.Label + "." + a.Account.String() }

// Verifier is the external token verifier.
type Verifier interface {
	Verify(token string, cfg *jws.Config) (jws.Claims, error)
}

// VerifierFunc adapts a function into a Verifier.
type VerifierFunc func(token string, cfg *jws.Config) (jws.Claims, error)

func (f VerifierFunc) Verify(token string, cfg *jws.Config) (jws.Claims, error) {
	return f(token, cfg)
}

type (
	configKey  struct{}
	seededKey  struct{}
	accountKey struct{}
	agentKey   struct{}
)

// WithConfig attaches the process verification config to ctx.
func WithConfig(ctx context.Context, cfg *jws.Config) context.Context {
	if cfg == nil {
		return ctx
	}
	return context.WithValue(ctx, configKey{}, cfg)
}

// ConfigFromContext returns the verification config attached to ctx.
func ConfigFromContext(ctx context.Context) (*jws.Config, bool) {
	cfg, ok := ctx.Value(configKey{}).(*jws.Config)
	return cfg, ok && cfg != nil
}

// WithSeededAccount attaches an AccountID established by a trusted upstream
// stage. Never call this with data taken from the request itself.
func WithSeededAccount(ctx context.Context, id AccountID) context.Context {
	return context.WithValue(ctx, seededKey{}, id)
}

// SeededAccountFromContext returns the seeded AccountID, if any.
func SeededAccountFromContext(ctx context.Context) (AccountID, bool) {
	id, ok := ctx.Value(seededKey{}).(AccountID)
	return id, ok
}

// AccountFromContext returns the AccountID stored by Middleware.
func AccountFromContext(ctx context.Context) (AccountID, bool) {
	id, ok := ctx.Value(accountKey{}).(AccountID)
	return id, ok
}

// AgentFromContext returns the AgentID stored by AgentMiddleware.
func AgentFromContext(ctx context.Context) (AgentID, bool) {
	id, ok := ctx.Value(agentKey{}).(AgentID)
	return id, ok
}

func withAccount(ctx context.Context, id AccountID) context.Context {
	return context.WithValue(ctx, accountKey{}, id)
}

func withAgent(ctx context.Context, id AgentID) context.Context {
	ctx = withAccount(ctx, id.Account)
	return context.WithValue(ctx, agentKey{}, id)
}
