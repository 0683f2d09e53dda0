package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambena/edgegate/apikey"
	"github.com/sambena/edgegate/logger"
	"github.com/sambena/edgegate/principal"
	"github.com/sambena/edgegate/token"
)

const testAPIKey = "test-api-key"

type engineFixture struct {
	engine *Engine
	tokens *token.Service
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	keys, err := apikey.NewValidator([]string{testAPIKey})
	require.NoError(t, err)

	tokens, err := token.NewService(&token.ServiceConfig{
		SecretKey:  []byte("policy-test-key"),
		Algorithm:  "HS256",
		Issuer:     "edgegate-test",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(tokens.Close)

	return &engineFixture{
		engine: NewEngine(keys, tokens, true, logger.NewTestLogger()),
		tokens: tokens,
	}
}

func (f *engineFixture) accessFor(t *testing.T, u *principal.User) string {
	t.Helper()
	access, err := f.tokens.IssueAccess(u)
	require.NoError(t, err)
	return access
}

func owner() *principal.User {
	return &principal.User{ID: "owner-1", Email: "owner@example.com", Role: principal.RoleUser, IsActive: true}
}

func stranger() *principal.User {
	return &principal.User{ID: "stranger-1", Email: "stranger@example.com", Role: principal.RoleUser, IsActive: true}
}

func admin() *principal.User {
	return &principal.User{ID: "admin-1", Email: "admin@example.com", Role: principal.RoleAdmin, IsActive: true}
}

func TestEvaluate_MissingResource(t *testing.T) {
	f := newEngineFixture(t)

	d := f.engine.Evaluate(nil, Credentials{APIKey: testAPIKey}, Options{})
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeResourceNotFound, d.Code)
}

func TestEvaluate_APIKeyTier(t *testing.T) {
	f := newEngineFixture(t)
	public := &Bucket{Name: "pub", Public: true, Owner: "owner-1"}

	// Existence is checked first, then key presence, then key validity.
	d := f.engine.Evaluate(public, Credentials{}, Options{})
	assert.Equal(t, CodeAPIKeyRequired, d.Code)

	d = f.engine.Evaluate(public, Credentials{APIKey: "wrong"}, Options{})
	assert.Equal(t, CodeInvalidAPIKey, d.Code)

	d = f.engine.Evaluate(public, Credentials{APIKey: testAPIKey}, Options{})
	assert.True(t, d.Allowed)
}

func TestEvaluate_PrivateRequiresSession(t *testing.T) {
	f := newEngineFixture(t)
	private := &Bucket{Name: "priv", Public: false, Owner: "owner-1"}

	d := f.engine.Evaluate(private, Credentials{APIKey: testAPIKey}, Options{})
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeForbiddenPublic, d.Code)

	creds := Credentials{APIKey: testAPIKey, SessionToken: f.accessFor(t, stranger())}
	d = f.engine.Evaluate(private, creds, Options{})
	assert.True(t, d.Allowed)
}

func TestEvaluate_InvalidSessionSurfacesTokenCode(t *testing.T) {
	f := newEngineFixture(t)
	private := &Bucket{Name: "priv", Public: false}

	creds := Credentials{APIKey: testAPIKey, SessionToken: "garbage"}
	d := f.engine.Evaluate(private, creds, Options{})
	assert.False(t, d.Allowed)
	assert.Equal(t, token.CodeInvalidJWT, d.Code)
}

func TestEvaluate_RevokedSessionIsBlacklisted(t *testing.T) {
	f := newEngineFixture(t)
	private := &Bucket{Name: "priv", Public: false}

	access := f.accessFor(t, owner())
	f.tokens.Revoke(access)

	d := f.engine.Evaluate(private, Credentials{APIKey: testAPIKey, SessionToken: access}, Options{})
	assert.False(t, d.Allowed)
	assert.Equal(t, token.CodeBlacklisted, d.Code)
}

func TestEvaluate_InactiveAccount(t *testing.T) {
	f := newEngineFixture(t)
	private := &Bucket{Name: "priv", Public: false}

	inactive := owner()
	inactive.IsActive = false

	creds := Credentials{APIKey: testAPIKey, SessionToken: f.accessFor(t, inactive)}
	d := f.engine.Evaluate(private, creds, Options{})
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeAccountInactive, d.Code)
}

func TestEvaluate_Ownership(t *testing.T) {
	f := newEngineFixture(t)
	bucket := &Bucket{Name: "pub", Public: true, Owner: "owner-1"}
	opts := Options{RequireOwnership: true}

	// Owner-only operations on public resources still need a session.
	d := f.engine.Evaluate(bucket, Credentials{APIKey: testAPIKey}, opts)
	assert.Equal(t, CodeJWTRequired, d.Code)

	d = f.engine.Evaluate(bucket, Credentials{APIKey: testAPIKey, SessionToken: f.accessFor(t, owner())}, opts)
	assert.True(t, d.Allowed)

	d = f.engine.Evaluate(bucket, Credentials{APIKey: testAPIKey, SessionToken: f.accessFor(t, stranger())}, opts)
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeAccessDenied, d.Code)

	// Admin role bypasses ownership.
	d = f.engine.Evaluate(bucket, Credentials{APIKey: testAPIKey, SessionToken: f.accessFor(t, admin())}, opts)
	assert.True(t, d.Allowed)
}

func TestEvaluate_OwnerlessResourceDeniesOwnership(t *testing.T) {
	f := newEngineFixture(t)
	bucket := &Bucket{Name: "orphan", Public: true}

	creds := Credentials{APIKey: testAPIKey, SessionToken: f.accessFor(t, owner())}
	d := f.engine.Evaluate(bucket, creds, Options{RequireOwnership: true})
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeAccessDenied, d.Code)
}

func TestCheckFileAccess_InheritsBucket(t *testing.T) {
	f := newEngineFixture(t)

	d := f.engine.CheckFileAccess(nil, Credentials{APIKey: testAPIKey}, Options{})
	assert.Equal(t, CodeResourceNotFound, d.Code)

	d = f.engine.CheckFileAccess(&File{Key: "a.txt"}, Credentials{APIKey: testAPIKey}, Options{})
	assert.Equal(t, CodeResourceNotFound, d.Code)

	private := &Bucket{Name: "priv", Public: false, Owner: "owner-1"}
	file := &File{Key: "a.txt", Bucket: private}

	d = f.engine.CheckFileAccess(file, Credentials{APIKey: testAPIKey}, Options{})
	assert.Equal(t, CodeForbiddenPublic, d.Code)

	creds := Credentials{APIKey: testAPIKey, SessionToken: f.accessFor(t, owner())}
	d = f.engine.CheckFileAccess(file, creds, Options{RequireOwnership: true})
	assert.True(t, d.Allowed)
}

func TestEvaluate_TableResource(t *testing.T) {
	f := newEngineFixture(t)
	table := &Table{Name: "events", Public: false, Owner: "owner-1"}

	d := f.engine.Evaluate(table, Credentials{APIKey: testAPIKey}, Options{})
	assert.Equal(t, CodeForbiddenPublic, d.Code)

	creds := Credentials{APIKey: testAPIKey, SessionToken: f.accessFor(t, owner())}
	d = f.engine.Evaluate(table, creds, Options{RequireOwnership: true})
	assert.True(t, d.Allowed)
}

func TestPublicAccess(t *testing.T) {
	f := newEngineFixture(t)

	d := f.engine.PublicAccess(&Bucket{Name: "pub", Public: true}, testAPIKey)
	assert.True(t, d.Allowed)

	d = f.engine.PublicAccess(&Bucket{Name: "priv", Public: false}, testAPIKey)
	assert.Equal(t, CodeForbiddenPublic, d.Code)
}

func TestVerifyWebhookToken(t *testing.T) {
	f := newEngineFixture(t)

	assert.True(t, f.engine.VerifyWebhookToken("delivery-token").Allowed)
	assert.False(t, f.engine.VerifyWebhookToken("").Allowed)
}
