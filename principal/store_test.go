package principal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_CreateAndLookup(t *testing.T) {
	s := NewMemStore()

	user, err := s.Create("Alice@Example.com", "correct-horse", RoleUser)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, RoleUser, user.Role)
	assert.True(t, user.IsActive)
	assert.NotEmpty(t, user.PasswordHash)

	byID, err := s.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, byID.Email)

	byEmail, err := s.GetByEmail("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	_, err = s.GetByID("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_RejectsDuplicateEmail(t *testing.T) {
	s := NewMemStore()

	_, err := s.Create("alice@example.com", "correct-horse", RoleUser)
	require.NoError(t, err)

	_, err = s.Create("ALICE@example.com", "other-password", RoleUser)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestMemStore_RejectsWeakPassword(t *testing.T) {
	s := NewMemStore()

	_, err := s.Create("alice@example.com", "short", RoleUser)
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestMemStore_Authenticate(t *testing.T) {
	s := NewMemStore()

	_, err := s.Create("alice@example.com", "correct-horse", RoleUser)
	require.NoError(t, err)

	user, err := s.Authenticate("alice@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)

	// Wrong password and unknown email are indistinguishable.
	_, err = s.Authenticate("alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate("nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestMemStore_SetActive(t *testing.T) {
	s := NewMemStore()

	user, err := s.Create("alice@example.com", "correct-horse", RoleUser)
	require.NoError(t, err)

	require.NoError(t, s.SetActive(user.ID, false))

	got, err := s.GetByID(user.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, s.SetActive("missing", true), ErrNotFound)
}

func TestMemStore_ReturnsCopies(t *testing.T) {
	s := NewMemStore()

	user, err := s.Create("alice@example.com", "correct-horse", RoleUser)
	require.NoError(t, err)

	user.Email = "mutated@example.com"

	got, err := s.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, ParseRole("admin"))
	assert.Equal(t, RoleUser, ParseRole("user"))
	assert.Equal(t, RoleUser, ParseRole("something-else"))
}
