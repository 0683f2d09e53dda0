// Package dispatch implements the per-request authentication entry
// point. The dispatcher is plain middleware composed from the token
// service and the API key validator: it tries session-credential
// authentication first, falls back to API-key authentication, attaches
// an identity to the request context, or rejects with a structured
// error.
package dispatch

import (
	"net/http"
	"strings"

	"github.com/sambena/edgegate/apikey"
	"github.com/sambena/edgegate/logger"
	"github.com/sambena/edgegate/policy"
	"github.com/sambena/edgegate/token"
)

// APIKeyHeader is the static-secret header name. Lookup is
// case-insensitive.
const APIKeyHeader = "X-API-Key"

// Config wires the dispatcher's collaborators and path rules.
type Config struct {
	Tokens *token.Service
	Keys   *apikey.Validator

	// BypassPaths are served without authentication (health, docs).
	BypassPaths []string

	// IngestPrefix marks webhook delivery endpoints; they carry their
	// own token scheme validated downstream.
	IngestPrefix string

	// RealtimePrefix marks streaming-connection endpoints; that
	// protocol authenticates itself after the handshake.
	RealtimePrefix string

	Logger logger.Logger
}

type Dispatcher struct {
	tokens         *token.Service
	keys           *apikey.Validator
	bypass         *pathMatcher
	ingestPrefix   string
	realtimePrefix string
	logger         logger.Logger
}

func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		tokens:         cfg.Tokens,
		keys:           cfg.Keys,
		bypass:         newPathMatcher(cfg.BypassPaths),
		ingestPrefix:   strings.TrimPrefix(cfg.IngestPrefix, "/"),
		realtimePrefix: strings.TrimPrefix(cfg.RealtimePrefix, "/"),
		logger:         cfg.Logger,
	}
}

// Middleware runs the authentication state machine for every request.
//
// Session-credential authentication is tried before API-key
// authentication. Presence of a bearer credential commits the request
// to that path: a bad session credential is rejected even when a good
// API key accompanies it, so clients holding stale tokens see the
// token error rather than a silent downgrade.
func (d *Dispatcher) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS preflight carries no credentials.
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/")

		if d.bypass.matches(path) || d.hasPrefix(path, d.ingestPrefix) {
			next.ServeHTTP(w, r)
			return
		}

		if d.hasPrefix(path, d.realtimePrefix) {
			next.ServeHTTP(w, r)
			return
		}

		if bearer := SessionTokenFrom(r); bearer != "" {
			claims, err := d.tokens.ValidateAccess(bearer)
			if err != nil {
				code := token.ReasonCode(err)
				d.logger.Debug("session authentication failed",
					logger.String("code", code),
					logger.String("path", r.URL.Path))
				RespondError(w, r, http.StatusUnauthorized, code, "session credential rejected")
				return
			}

			id := &Identity{
				UserID:     claims.UserID(),
				Email:      claims.Email,
				Role:       claims.Role,
				AuthMethod: AuthMethodSession,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
			return
		}

		if key := APIKeyFrom(r); key != "" {
			if !d.keys.IsValid(key) {
				d.logger.Debug("API key authentication failed",
					logger.String("path", r.URL.Path))
				RespondError(w, r, http.StatusUnauthorized, policy.CodeInvalidAPIKey, "invalid API key")
				return
			}

			id := &Identity{AuthMethod: AuthMethodAPIKey}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
			return
		}

		RespondError(w, r, http.StatusUnauthorized, policy.CodeAPIKeyRequired, "no credentials provided")
	})
}

func (d *Dispatcher) hasPrefix(path, prefix string) bool {
	return prefix != "" && strings.HasPrefix(path, prefix)
}

// bearerToken extracts the credential from "Bearer <credential>".
// The scheme comparison is case-insensitive.
func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
