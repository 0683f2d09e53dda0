// Package ratelimit implements fixed-window per-minute counters keyed
// by (operation, subject), e.g. "login:alice@example.com". Buckets age
// out of the cache after the retention window, which resets the
// counter implicitly.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sambena/edgegate/logger"
)

const (
	// retention is the rolling window after which idle counters are
	// garbage-collected.
	retention = 5 * time.Minute

	// maxTrackedSubjects bounds memory under subject churn.
	maxTrackedSubjects = 100_000
)

type bucket struct {
	minute int64
	count  int
}

// Limiter is an in-process rate limiter. In a horizontally scaled
// deployment the counters must live in a shared store instead.
type Limiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *bucket]
	limit   int
	logger  logger.Logger

	now func() time.Time
}

// New builds a Limiter allowing limit events per (operation, subject)
// per minute.
func New(limit int, log logger.Logger) *Limiter {
	return &Limiter{
		buckets: expirable.NewLRU[string, *bucket](maxTrackedSubjects, nil, retention),
		limit:   limit,
		logger:  log,
		now:     time.Now,
	}
}

// Allow records an attempt and reports whether it is within the
// per-minute limit for the subject.
func (l *Limiter) Allow(operation, subject string) bool {
	if l.limit <= 0 {
		return true
	}

	key := operation + ":" + subject
	minute := l.now().Unix() / 60

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets.Get(key)
	if !ok || b.minute != minute {
		b = &bucket{minute: minute}
		l.buckets.Add(key, b)
	}

	b.count++
	if b.count > l.limit {
		l.logger.Warn("rate limit exceeded",
			logger.String("operation", operation),
			logger.String("subject", subject),
			logger.Int("count", b.count))
		return false
	}

	return true
}

// Remaining returns how many attempts are left in the current minute
// window for the subject.
func (l *Limiter) Remaining(operation, subject string) int {
	key := operation + ":" + subject
	minute := l.now().Unix() / 60

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets.Get(key)
	if !ok || b.minute != minute {
		return l.limit
	}
	if b.count >= l.limit {
		return 0
	}
	return l.limit - b.count
}
