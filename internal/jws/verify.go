package jws

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keithlinneman/svcmw/internal/xerrors"
)

// Claims is the verified payload used to build an identity.
type Claims struct {
	Subject  string
	Audience string
	Issuer   string
}

// Verifier checks signature, issuer, audience and time claims of a compact
// JWS. The zero value is ready to use.
type Verifier struct {
	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration
	// TimeFunc overrides the clock, for tests.
	TimeFunc func() time.Time
}

// Verify parses token and validates it against cfg. It holds no state
// between calls, so verifying the same token twice yields identical Claims.
func (v Verifier) Verify(token string, cfg *Config) (Claims, error) {
	if cfg == nil {
		return Claims{}, ErrNoConfig
	}

	opts := []jwt.ParserOption{jwt.WithIssuedAt()}
	if v.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.Leeway))
	}
	if v.TimeFunc != nil {
		opts = append(opts, jwt.WithTimeFunc(v.TimeFunc))
	}

	var selected *issuer
	rc := &jwt.RegisteredClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, rc, func(t *jwt.Token) (any, error) {
		claims, ok := t.Claims.(*jwt.RegisteredClaims)
		if !ok {
			return nil, ErrMissingClaim
		}
		iss, ok := cfg.lookup(claims.Issuer)
		if !ok {
			return nil, xerrors.Wrapf(ErrUnknownIssuer, "iss=%q", claims.Issuer)
		}
		if t.Method == nil || t.Method.Alg() != iss.method.Alg() {
			return nil, xerrors.Wrapf(ErrUnsupportedAlgorithm, "issuer %q expects %s", claims.Issuer, iss.method.Alg())
		}
		selected = iss
		return iss.key, nil
	})
	if err != nil {
		return Claims{}, xerrors.Wrap(err, "verify token")
	}

	if rc.Subject == "" {
		return Claims{}, xerrors.Wrap(ErrMissingClaim, "sub")
	}

	for _, aud := range rc.Audience {
		if _, ok := selected.audiences[aud]; ok {
			return Claims{Subject: rc.Subject, Audience: aud, Issuer: rc.Issuer}, nil
		}
	}
	if len(rc.Audience) == 0 {
		return Claims{}, xerrors.Wrap(ErrMissingClaim, "aud")
	}
	return Claims{}, xerrors.Wrapf(ErrAudienceMismatch, "aud=%v", []string(rc.Audience))
}
