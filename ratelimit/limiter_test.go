package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sambena/edgegate/logger"
)

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	l := New(3, logger.NewTestLogger())

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("login", "alice@example.com"), "attempt %d should pass", i+1)
	}
	assert.False(t, l.Allow("login", "alice@example.com"))
	assert.False(t, l.Allow("login", "alice@example.com"))
}

func TestLimiter_SubjectsAreIndependent(t *testing.T) {
	l := New(1, logger.NewTestLogger())

	assert.True(t, l.Allow("login", "alice@example.com"))
	assert.False(t, l.Allow("login", "alice@example.com"))

	assert.True(t, l.Allow("login", "bob@example.com"))
}

func TestLimiter_OperationsAreIndependent(t *testing.T) {
	l := New(1, logger.NewTestLogger())

	assert.True(t, l.Allow("login", "alice@example.com"))
	assert.False(t, l.Allow("login", "alice@example.com"))

	assert.True(t, l.Allow("reset", "alice@example.com"))
}

func TestLimiter_WindowRollover(t *testing.T) {
	l := New(2, logger.NewTestLogger())

	current := time.Date(2026, 8, 29, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return current }

	assert.True(t, l.Allow("login", "alice@example.com"))
	assert.True(t, l.Allow("login", "alice@example.com"))
	assert.False(t, l.Allow("login", "alice@example.com"))

	// Next minute window resets the counter.
	current = current.Add(time.Minute)
	assert.True(t, l.Allow("login", "alice@example.com"))
	assert.Equal(t, 1, l.Remaining("login", "alice@example.com"))
}

func TestLimiter_Remaining(t *testing.T) {
	l := New(3, logger.NewTestLogger())

	assert.Equal(t, 3, l.Remaining("login", "alice@example.com"))
	l.Allow("login", "alice@example.com")
	assert.Equal(t, 2, l.Remaining("login", "alice@example.com"))
}

func TestLimiter_ZeroLimitDisables(t *testing.T) {
	l := New(0, logger.NewTestLogger())

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("login", "alice@example.com"))
	}
}
