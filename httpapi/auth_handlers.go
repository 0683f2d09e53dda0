package httpapi

import (
	"errors"
	"net/http"

	"github.com/sambena/edgegate/dispatch"
	"github.com/sambena/edgegate/logger"
	"github.com/sambena/edgegate/principal"
	"github.com/sambena/edgegate/ratelimit"
	"github.com/sambena/edgegate/token"
)

// loginOperation keys the rate-limit counter together with the
// attempted email, e.g. "login:alice@example.com".
const loginOperation = "login"

type authHandlers struct {
	users   principal.Store
	tokens  *token.Service
	limiter *ratelimit.Limiter
	logger  logger.Logger
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	User *principal.User `json:"user"`
	Pair *token.Pair     `json:"session"`
}

// handleRegister creates a principal and issues its first credential
// pair.
func (h *authHandlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		dispatch.RespondError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	user, err := h.users.Create(req.Email, req.Password, principal.RoleUser)
	if err != nil {
		switch {
		case errors.Is(err, principal.ErrEmailTaken):
			dispatch.RespondError(w, r, http.StatusConflict, "EMAIL_TAKEN", "email is already registered")
		case errors.Is(err, principal.ErrWeakPassword):
			dispatch.RespondError(w, r, http.StatusBadRequest, "WEAK_PASSWORD", err.Error())
		default:
			dispatch.RespondError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		}
		return
	}

	pair, err := h.tokens.IssuePair(user)
	if err != nil {
		h.logger.Error("failed to issue credential pair", logger.Err(err))
		dispatch.RespondError(w, r, http.StatusInternalServerError, "INTERNAL", "failed to issue credentials")
		return
	}

	h.logger.Info("user registered", logger.String("user_id", user.ID))
	respondJSON(w, http.StatusCreated, &sessionResponse{User: user, Pair: pair})
}

// handleLogin authenticates a principal. Attempts are rate limited per
// email with a per-minute window.
func (h *authHandlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		dispatch.RespondError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	if !h.limiter.Allow(loginOperation, req.Email) {
		dispatch.RespondError(w, r, http.StatusTooManyRequests,
			dispatch.CodeRateLimitExceeded, "too many login attempts, retry later")
		return
	}

	user, err := h.users.Authenticate(req.Email, req.Password)
	if err != nil {
		dispatch.RespondError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
		return
	}

	if !user.IsActive {
		dispatch.RespondError(w, r, http.StatusForbidden, "ACCOUNT_INACTIVE", "account is inactive")
		return
	}

	pair, err := h.tokens.IssuePair(user)
	if err != nil {
		h.logger.Error("failed to issue credential pair", logger.Err(err))
		dispatch.RespondError(w, r, http.StatusInternalServerError, "INTERNAL", "failed to issue credentials")
		return
	}

	respondJSON(w, http.StatusOK, &sessionResponse{User: user, Pair: pair})
}

// handleRefresh rotates a refresh credential: the presented credential
// is single-use and a brand-new pair is returned.
func (h *authHandlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		dispatch.RespondError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "refresh_token is required")
		return
	}

	pair, err := h.tokens.Rotate(req.RefreshToken)
	if err != nil {
		code := token.ReasonCode(err)
		dispatch.RespondError(w, r, dispatch.StatusForCode(code), code, "refresh credential rejected")
		return
	}

	respondJSON(w, http.StatusOK, map[string]*token.Pair{"session": pair})
}

// handleLogout revokes the presented access credential and, when
// supplied, the refresh credential. Idempotent.
func (h *authHandlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if access := dispatch.SessionTokenFrom(r); access != "" {
		h.tokens.Revoke(access)
	}

	var req refreshRequest
	if err := decodeJSON(r, &req); err == nil && req.RefreshToken != "" {
		h.tokens.Revoke(req.RefreshToken)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the principal behind the session credential.
func (h *authHandlers) handleMe(w http.ResponseWriter, r *http.Request) {
	id := dispatch.IdentityFrom(r.Context())
	if id == nil || id.AuthMethod != dispatch.AuthMethodSession {
		dispatch.RespondError(w, r, http.StatusUnauthorized, "JWT_REQUIRED", "session credential is required")
		return
	}

	user, err := h.users.GetByID(id.UserID)
	if err != nil {
		dispatch.RespondError(w, r, http.StatusNotFound, dispatch.CodeUserNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, user)
}
