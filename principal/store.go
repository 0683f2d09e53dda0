package principal

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password does not meet minimum strength requirements")
)

// MinPasswordLength is the registration password strength floor.
const MinPasswordLength = 8

// dummyHash absorbs a comparison for unknown emails so lookups and
// wrong passwords take comparable time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("edgegate-timing-pad"), bcrypt.DefaultCost)

// Store is the user store boundary. The gateway treats it as an
// external collaborator; an in-memory implementation is provided for
// single-process deployments and tests.
type Store interface {
	Create(email, password string, role Role) (*User, error)
	GetByID(id string) (*User, error)
	GetByEmail(email string) (*User, error)
	Authenticate(email, password string) (*User, error)
	SetActive(id string, active bool) error
}

// MemStore is a mutex-guarded in-memory Store.
type MemStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]*User
}

func NewMemStore() *MemStore {
	return &MemStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]*User),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *MemStore) Create(email, password string, role Role) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("invalid email address")
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return nil, ErrEmailTaken
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Role:         role,
		IsActive:     true,
		PasswordHash: hash,
	}
	s.byID[user.ID] = user
	s.byEmail[email] = user

	return copyUser(user), nil
}

func (s *MemStore) GetByID(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(user), nil
}

func (s *MemStore) GetByEmail(email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(user), nil
}

// Authenticate verifies the password against the stored bcrypt hash.
// A missing user and a wrong password return the same error so callers
// cannot probe for registered emails.
func (s *MemStore) Authenticate(email, password string) (*User, error) {
	s.mu.RLock()
	user, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()

	if !ok {
		// Burn a comparison anyway to keep timing uniform.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return copyUser(user), nil
}

func (s *MemStore) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.IsActive = active
	return nil
}

func copyUser(u *User) *User {
	c := *u
	return &c
}
