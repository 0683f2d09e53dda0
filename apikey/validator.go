// Package apikey validates static service secrets presented in the
// X-API-Key request header.
package apikey

import (
	"crypto/subtle"
	"errors"
)

// Validator holds the configured secrets. Construction fails when no
// secret is configured: a missing key is a fatal configuration error,
// never a silent allow.
type Validator struct {
	secrets [][]byte
}

func NewValidator(secrets []string) (*Validator, error) {
	if len(secrets) == 0 {
		return nil, errors.New("no API key configured")
	}

	v := &Validator{secrets: make([][]byte, 0, len(secrets))}
	for _, s := range secrets {
		if s == "" {
			return nil, errors.New("empty API key configured")
		}
		v.secrets = append(v.secrets, []byte(s))
	}
	return v, nil
}

// IsValid reports whether the provided value matches any configured
// secret. Each comparison is constant-time.
func (v *Validator) IsValid(provided string) bool {
	if provided == "" {
		return false
	}

	p := []byte(provided)
	matched := false
	for _, secret := range v.secrets {
		if subtle.ConstantTimeCompare(secret, p) == 1 {
			matched = true
		}
	}
	return matched
}
