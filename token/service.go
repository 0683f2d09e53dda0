package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sambena/edgegate/logger"
	"github.com/sambena/edgegate/principal"
)

// ServiceConfig fixes the signing parameters at construction time.
type ServiceConfig struct {
	SecretKey  []byte
	Algorithm  string // HS256, HS384 or HS512
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Revocation *RevocationConfig
}

// Pair is a freshly issued access/refresh credential pair.
type Pair struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	TokenType       string    `json:"token_type"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

// Service issues, validates, rotates and revokes signed session
// credentials.
type Service struct {
	secretKey  []byte
	method     jwt.SigningMethod
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	revoked RevocationSet
	logger  logger.Logger
}

// NewService builds a Service. The signing key, algorithm, issuer and
// both TTLs are fixed for the service lifetime.
func NewService(cfg *ServiceConfig, log logger.Logger) (*Service, error) {
	if len(cfg.SecretKey) == 0 {
		return nil, errors.New("token service requires a signing key")
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	revoked, err := NewRevocationSet(log, cfg.Revocation)
	if err != nil {
		return nil, err
	}

	accessTTL := cfg.AccessTTL
	if accessTTL == 0 {
		accessTTL = 30 * time.Minute
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL == 0 {
		refreshTTL = 168 * time.Hour
	}

	log.Info("token service initialized",
		logger.String("algorithm", method.Alg()),
		logger.Duration("access_ttl", accessTTL),
		logger.Duration("refresh_ttl", refreshTTL))

	return &Service{
		secretKey:  cfg.SecretKey,
		method:     method,
		issuer:     cfg.Issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		revoked:    revoked,
		logger:     log,
	}, nil
}

func (s *Service) sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(s.method, claims).SignedString(s.secretKey)
}

// IssueAccess mints a short-lived access credential for the principal.
func (s *Service) IssueAccess(u *principal.User) (string, error) {
	return s.sign(newClaims(u, TypeAccess, s.issuer, s.accessTTL, time.Now()))
}

// IssueRefresh mints a long-lived refresh credential for the principal.
func (s *Service) IssueRefresh(u *principal.User) (string, error) {
	return s.sign(newClaims(u, TypeRefresh, s.issuer, s.refreshTTL, time.Now()))
}

// IssuePair mints a fresh access+refresh pair.
func (s *Service) IssuePair(u *principal.User) (*Pair, error) {
	now := time.Now()

	access, err := s.sign(newClaims(u, TypeAccess, s.issuer, s.accessTTL, now))
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(newClaims(u, TypeRefresh, s.issuer, s.refreshTTL, now))
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:     access,
		RefreshToken:    refresh,
		TokenType:       "bearer",
		AccessExpiresAt: now.Add(s.accessTTL),
	}, nil
}

// parse verifies the signature, issuer and expiry. Claims are returned
// for expired credentials so Revoke can still derive the remaining TTL.
func (s *Service) parse(credential string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	_, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, validationErr(CodeExpired, err)
		}
		return nil, validationErr(CodeInvalidJWT, err)
	}

	return claims, nil
}

func (s *Service) validate(credential string, want Type, mismatchCode string) (*Claims, error) {
	claims, err := s.parse(credential)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != want {
		return nil, validationErr(mismatchCode,
			fmt.Errorf("token type is %q, expected %q", claims.TokenType, want))
	}

	if s.revoked.Contains(credential) {
		return nil, validationErr(CodeBlacklisted, errors.New("credential has been revoked"))
	}

	return claims, nil
}

// ValidateAccess verifies an access credential. Failures are returned
// as *ValidationError carrying a stable reason code.
func (s *Service) ValidateAccess(credential string) (*Claims, error) {
	return s.validate(credential, TypeAccess, CodeInvalidAccess)
}

// ValidateRefresh verifies a refresh credential.
func (s *Service) ValidateRefresh(credential string) (*Claims, error) {
	return s.validate(credential, TypeRefresh, CodeInvalidRefresh)
}

// Revoke inserts the credential into the revocation set until its
// natural expiry. Revoking an unknown, expired or already-revoked
// credential is a no-op.
func (s *Service) Revoke(credential string) {
	claims, err := s.parse(credential)
	if claims == nil {
		// Signature never verified, nothing worth remembering.
		return
	}
	if err != nil && ReasonCode(err) != CodeExpired {
		return
	}

	ttl := s.refreshTTL
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	s.revoked.Add(credential, ttl)
}

// Rotate implements the single-use refresh protocol: the presented
// refresh credential is validated, revoked, and a brand-new pair is
// issued from its embedded principal.
func (s *Service) Rotate(refreshCredential string) (*Pair, error) {
	claims, err := s.ValidateRefresh(refreshCredential)
	if err != nil {
		return nil, err
	}

	s.Revoke(refreshCredential)

	pair, err := s.IssuePair(claims.Principal())
	if err != nil {
		return nil, err
	}

	s.logger.Debug("refresh credential rotated",
		logger.String("user_id", claims.UserID()))

	return pair, nil
}

// Metrics returns a snapshot of revocation set counters.
func (s *Service) Metrics() map[string]int64 {
	return s.revoked.Metrics()
}

// Close releases the revocation set resources.
func (s *Service) Close() {
	s.revoked.Close()
}
