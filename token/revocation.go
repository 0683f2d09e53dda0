package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/sambena/edgegate/logger"
)

// RevocationConfig holds configuration for the revocation set.
type RevocationConfig struct {
	// CacheMaxCost is the maximum cost of the cache (roughly bytes)
	CacheMaxCost int64

	// CacheNumCounters is the number of keys to track frequency
	CacheNumCounters int64

	// EnableMetrics enables collection of operational metrics
	EnableMetrics bool
}

// DefaultRevocationConfig returns a production-ready default configuration
func DefaultRevocationConfig() *RevocationConfig {
	return &RevocationConfig{
		CacheMaxCost:     50 << 20, // 50 MB
		CacheNumCounters: 1e6,
		EnableMetrics:    true,
	}
}

// RevocationMetrics tracks operational statistics
type RevocationMetrics struct {
	mu             sync.RWMutex
	TokensRevoked  int64
	RevokedHits    int64
	RevokedLookups int64
}

func (m *RevocationMetrics) IncrementRevoked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensRevoked++
}

func (m *RevocationMetrics) IncrementLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RevokedLookups++
	if hit {
		m.RevokedHits++
	}
}

func (m *RevocationMetrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"tokens_revoked":  m.TokensRevoked,
		"revoked_lookups": m.RevokedLookups,
		"revoked_hits":    m.RevokedHits,
	}
}

// RevocationSet stores hashes of credentials invalidated before their
// natural expiry. Entries carry a TTL equal to the credential's
// remaining lifetime, so the cache garbage-collects them once the
// credential would have expired anyway. In a horizontally scaled
// deployment this must be replaced by an implementation backed by a
// shared store.
type RevocationSet interface {
	Add(credential string, ttl time.Duration)
	Contains(credential string) bool
	Metrics() map[string]int64
	Close()
}

type revocationSet struct {
	cache   *ristretto.Cache[string, time.Time]
	config  *RevocationConfig
	logger  logger.Logger
	metrics *RevocationMetrics
}

// NewRevocationSet builds the in-process RevocationSet.
func NewRevocationSet(log logger.Logger, config *RevocationConfig) (RevocationSet, error) {
	if config == nil {
		config = DefaultRevocationConfig()
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, time.Time]{
		NumCounters: config.CacheNumCounters,
		MaxCost:     config.CacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize revocation cache: %w", err)
	}

	return &revocationSet{
		cache:   cache,
		config:  config,
		logger:  log,
		metrics: &RevocationMetrics{},
	}, nil
}

// hashCredential returns the cache key for a credential. Storing a
// digest keeps raw credentials out of process memory dumps.
func hashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

func (s *revocationSet) Add(credential string, ttl time.Duration) {
	if ttl <= 0 {
		// Already past natural expiry, nothing to remember.
		return
	}

	key := hashCredential(credential)
	s.cache.SetWithTTL(key, time.Now().Add(ttl), 80, ttl)
	s.cache.Wait()

	if s.config.EnableMetrics {
		s.metrics.IncrementRevoked()
	}

	s.logger.Debug("credential revoked",
		logger.String("credential_hash", key[:12]),
		logger.Duration("ttl", ttl))
}

func (s *revocationSet) Contains(credential string) bool {
	_, found := s.cache.Get(hashCredential(credential))
	if s.config.EnableMetrics {
		s.metrics.IncrementLookup(found)
	}
	return found
}

func (s *revocationSet) Metrics() map[string]int64 {
	if !s.config.EnableMetrics {
		return nil
	}
	return s.metrics.GetSnapshot()
}

func (s *revocationSet) Close() {
	s.cache.Clear()
	s.cache.Close()
}
