// Package policy implements the tiered access-control engine: public
// resources need only a valid API key, private resources additionally
// need a valid session credential, and ownership-checked operations
// compare the credential's principal to the resource owner (admin role
// bypasses ownership).
package policy

import (
	"github.com/sambena/edgegate/apikey"
	"github.com/sambena/edgegate/logger"
	"github.com/sambena/edgegate/principal"
	"github.com/sambena/edgegate/token"
)

// Credentials carries what the caller presented for a policy check.
type Credentials struct {
	APIKey       string
	SessionToken string
}

// Options selects orthogonal checks for an evaluation.
type Options struct {
	// RequireOwnership makes the operation owner-only. A session
	// credential is then required even for public resources.
	RequireOwnership bool
}

// Engine evaluates access decisions. It depends on the token service
// for credential introspection and on the API key validator.
type Engine struct {
	keys          *apikey.Validator
	tokens        *token.Service
	requireActive bool
	logger        logger.Logger
}

func NewEngine(keys *apikey.Validator, tokens *token.Service, requireActive bool, log logger.Logger) *Engine {
	return &Engine{
		keys:          keys,
		tokens:        tokens,
		requireActive: requireActive,
		logger:        log,
	}
}

// Evaluate runs the fixed evaluation order: resource existence, API key
// validity, session-credential validity, active flag, ownership. Each
// failing step yields a distinct reason code.
func (e *Engine) Evaluate(res Visible, creds Credentials, opts Options) Decision {
	if res == nil {
		return deny(CodeResourceNotFound, "resource not found")
	}

	if creds.APIKey == "" {
		return deny(CodeAPIKeyRequired, "API key is required")
	}
	if !e.keys.IsValid(creds.APIKey) {
		return deny(CodeInvalidAPIKey, "invalid API key")
	}

	needSession := !res.IsPublic() || opts.RequireOwnership

	if !needSession {
		return allow()
	}

	if creds.SessionToken == "" {
		if res.IsPublic() {
			// Public resource but owner-only operation.
			return deny(CodeJWTRequired, "session credential is required for this operation")
		}
		return deny(CodeForbiddenPublic, "resource is private and requires a session credential")
	}

	claims, err := e.tokens.ValidateAccess(creds.SessionToken)
	if err != nil {
		code := token.ReasonCode(err)
		e.logger.Debug("session credential rejected", logger.String("code", code))
		return deny(code, "session credential is not valid")
	}

	if e.requireActive && !claims.IsActive {
		return deny(CodeAccountInactive, "account is inactive")
	}

	if opts.RequireOwnership {
		return e.checkOwnership(res, claims)
	}

	return allow()
}

// checkOwnership allows admins unconditionally; everyone else must own
// the resource.
func (e *Engine) checkOwnership(res Visible, claims *token.Claims) Decision {
	if principal.ParseRole(claims.Role) == principal.RoleAdmin {
		return allow()
	}

	ownable, ok := res.(Ownable)
	if !ok || ownable.OwnerID() == "" || ownable.OwnerID() != claims.UserID() {
		return deny(CodeAccessDenied, "principal does not own this resource")
	}

	return allow()
}

// PublicAccess checks the public tier only: a valid API key grants
// access to public resources regardless of session credentials.
func (e *Engine) PublicAccess(res Visible, apiKey string) Decision {
	return e.Evaluate(res, Credentials{APIKey: apiKey}, Options{})
}

// CheckFileAccess evaluates access to a file. Visibility and ownership
// delegate to the containing bucket.
func (e *Engine) CheckFileAccess(file *File, creds Credentials, opts Options) Decision {
	if file == nil || file.Bucket == nil {
		return deny(CodeResourceNotFound, "resource not found")
	}
	return e.Evaluate(file, creds, opts)
}

// VerifyWebhookToken is the degenerate one-tier webhook check: a
// non-empty presented token passes. Cryptographic verification against
// the webhook's stored secret belongs to the business layer.
func (e *Engine) VerifyWebhookToken(presented string) Decision {
	if presented == "" {
		return deny(CodeAccessDenied, "webhook token is required")
	}
	return allow()
}
