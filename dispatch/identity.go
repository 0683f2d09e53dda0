package dispatch

import (
	"context"
	"net/http"
)

// AuthMethod records how a request authenticated.
type AuthMethod string

const (
	AuthMethodSession AuthMethod = "session"
	AuthMethodAPIKey  AuthMethod = "api_key"
	AuthMethodNone    AuthMethod = "none"
)

// Identity is attached to the request context once the dispatcher has
// made its authentication decision.
type Identity struct {
	UserID     string
	Email      string
	Role       string
	AuthMethod AuthMethod
}

type contextKey struct{}

var identityKey contextKey

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the identity attached by the dispatcher, if
// any.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// SessionTokenFrom returns the bearer session credential from the
// standard authorization header, or "".
func SessionTokenFrom(r *http.Request) string {
	return bearerToken(r.Header.Get("Authorization"))
}

// APIKeyFrom returns the value of the X-API-Key header. Header lookup
// is case-insensitive.
func APIKeyFrom(r *http.Request) string {
	return r.Header.Get(APIKeyHeader)
}
