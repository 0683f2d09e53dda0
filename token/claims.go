package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sambena/edgegate/principal"
)

// Type discriminates access from refresh credentials. A credential is
// only valid for the operation matching its type.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the payload encoded into every session credential. The
// principal's role and active flag are captured at issuance time.
type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
	TokenType Type   `json:"token_type"`

	jwt.RegisteredClaims
}

// UserID returns the principal id carried in the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// Principal reconstructs the principal embedded in the claims.
func (c *Claims) Principal() *principal.User {
	return &principal.User{
		ID:       c.Subject,
		Email:    c.Email,
		Role:     principal.ParseRole(c.Role),
		IsActive: c.IsActive,
	}
}

func newClaims(u *principal.User, tokenType Type, issuer string, ttl time.Duration, now time.Time) *Claims {
	return &Claims{
		Email:     u.Email,
		Role:      string(u.Role),
		IsActive:  u.IsActive,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			// A fresh jti makes every credential byte-unique even when
			// issued within the same second, so revoking one never
			// blacklists an identical-claims sibling.
			ID:        uuid.NewString(),
			Subject:   u.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}
