package policy

// Reason codes returned by the engine. Stable: clients branch on them.
const (
	CodeResourceNotFound = "RESOURCE_NOT_FOUND"
	CodeAPIKeyRequired   = "API_KEY_REQUIRED"
	CodeInvalidAPIKey    = "INVALID_API_KEY"
	CodeJWTRequired      = "JWT_REQUIRED"
	CodeForbiddenPublic  = "FORBIDDEN_PUBLIC"
	CodeAccountInactive  = "ACCOUNT_INACTIVE"
	CodeAccessDenied     = "ACCESS_DENIED"
)

// Decision is the result of a policy evaluation. It is computed per
// call and never persisted.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(code, message string) Decision {
	return Decision{Allowed: false, Code: code, Message: message}
}
