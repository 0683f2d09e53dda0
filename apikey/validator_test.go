package apikey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidator_RequiresSecrets(t *testing.T) {
	_, err := NewValidator(nil)
	require.Error(t, err)

	_, err = NewValidator([]string{})
	require.Error(t, err)

	_, err = NewValidator([]string{"good", ""})
	require.Error(t, err)
}

func TestValidator_IsValid(t *testing.T) {
	v, err := NewValidator([]string{"primary-secret", "rotation-secret"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		provided string
		want     bool
	}{
		{"first configured secret", "primary-secret", true},
		{"second configured secret", "rotation-secret", true},
		{"empty value", "", false},
		{"wrong value", "guess", false},
		{"prefix of a secret", "primary-secre", false},
		{"secret plus suffix", "primary-secret2", false},
		{"case mismatch", "Primary-Secret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IsValid(tt.provided))
		})
	}
}
