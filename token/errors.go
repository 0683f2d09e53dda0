package token

import "fmt"

// Reason codes surfaced to callers. These are part of the observable
// contract: the HTTP layer maps them to status codes without
// re-deriving the cause.
const (
	CodeInvalidJWT     = "INVALID_JWT_TOKEN"
	CodeInvalidAccess  = "INVALID_ACCESS_TOKEN"
	CodeInvalidRefresh = "INVALID_REFRESH_TOKEN"
	CodeExpired        = "TOKEN_EXPIRED"
	CodeBlacklisted    = "TOKEN_BLACKLISTED"
)

// ValidationError is the typed failure returned by credential
// validation. It carries a stable reason code instead of relying on
// exception-style control flow.
type ValidationError struct {
	Code string
	err  error
}

func (e *ValidationError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.err)
	}
	return e.Code
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

func validationErr(code string, err error) *ValidationError {
	return &ValidationError{Code: code, err: err}
}

// ReasonCode extracts the reason code from a validation failure,
// falling back to CodeInvalidJWT for unexpected errors.
func ReasonCode(err error) string {
	if ve, ok := err.(*ValidationError); ok {
		return ve.Code
	}
	return CodeInvalidJWT
}
