package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sambena/edgegate/helper"
	"github.com/sambena/edgegate/policy"
	"github.com/sambena/edgegate/token"
)

// Reason codes owned by the dispatcher and downstream plumbing.
const (
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeUserNotFound      = "USER_NOT_FOUND"
	CodeBreakerOpen       = "circuit_breaker_open"
	CodeConnectionError   = "connection_error"
	CodeTimeoutError      = "timeout_error"
	CodeHTTPError         = "http_error"
)

// ErrorBody is the standard rejection response shape.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// RespondError writes the standard JSON error body with CORS headers
// attached, so browser clients can always read the rejection.
func RespondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = helper.GenerateRequestID()
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "x-api-key, Authorization, Content-Type")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(&ErrorBody{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	})
}

// StatusForCode maps a reason code to its HTTP status. The code itself
// travels in the body so clients never re-derive the cause.
func StatusForCode(code string) int {
	switch code {
	case policy.CodeAPIKeyRequired, policy.CodeInvalidAPIKey,
		policy.CodeJWTRequired, policy.CodeForbiddenPublic,
		token.CodeInvalidJWT, token.CodeInvalidAccess, token.CodeInvalidRefresh,
		token.CodeExpired, token.CodeBlacklisted:
		return http.StatusUnauthorized
	case policy.CodeAccessDenied, policy.CodeAccountInactive:
		return http.StatusForbidden
	case policy.CodeResourceNotFound, CodeUserNotFound:
		return http.StatusNotFound
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeBreakerOpen:
		return http.StatusServiceUnavailable
	case CodeTimeoutError:
		return http.StatusGatewayTimeout
	case CodeHTTPError:
		return http.StatusBadGateway
	case CodeConnectionError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RespondDecision writes the rejection for a policy decision.
func RespondDecision(w http.ResponseWriter, r *http.Request, d policy.Decision) {
	RespondError(w, r, StatusForCode(d.Code), d.Code, d.Message)
}
