package authn

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Machine-readable failure codes.
const (
	CodeNoConfig              = "no_authn_config"
	CodeInvalidAuthentication = "invalid_authentication"
)

var (
	// ErrNoConfig means no verification config was reachable from the
	// request. This is a wiring defect, not a caller error.
	ErrNoConfig = errors.New("no authn config")

	// ErrInvalidAuthentication covers absent, malformed and rejected
	// credentials.
	ErrInvalidAuthentication = errors.New("invalid authentication")
)

// Error is an identity-resolution failure. Message is safe to show the
// caller; the cause is for logs only.
type Error struct {
	Code    string
	Message string
	Status  int
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.sentinel(), e.cause}
	}
	return []error{e.sentinel()}
}

func (e *Error) sentinel() error {
	if e.Code == CodeNoConfig {
		return ErrNoConfig
	}
	return ErrInvalidAuthentication
}

func noConfigError() *Error {
	return &Error{Code: CodeNoConfig, Message: "No authn config", Status: http.StatusUnauthorized}
}

func invalidAuthError(cause error) *Error {
	return &Error{
		Code:    CodeInvalidAuthentication,
		Message: "Invalid authentication",
		Status:  http.StatusUnauthorized,
		cause:   cause,
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError renders err as a JSON error body. Errors that are not *Error
// are reported as invalid_authentication.
func WriteError(w http.ResponseWriter, err error) {
	var ae *Error
	if !errors.As(err, &ae) {
		ae = invalidAuthError(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(ae.Status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: ae.Code, Message: ae.Message})
}
