package jws

import "errors"

var (
	// ErrUnknownIssuer means the token's iss claim has no entry in the Config.
	ErrUnknownIssuer = errors.New("unknown token issuer")

	// ErrAudienceMismatch means none of the token's aud values is allowed
	// for its issuer.
	ErrAudienceMismatch = errors.New("token audience not allowed for issuer")

	// ErrMissingClaim means a claim required to build an identity is absent.
	ErrMissingClaim = errors.New("missing required claim")

	// ErrUnsupportedAlgorithm means the algorithm is unknown, disabled, or
	// differs from the one configured for the issuer.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

	// ErrNoConfig means Verify was called without a Config.
	ErrNoConfig = errors.New("no verification config")
)
