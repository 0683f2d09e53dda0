package upstream

import (
	"sync"
	"time"
)

// Metrics tracks operational statistics for the upstream client and
// the streaming gateway.
type Metrics struct {
	mu              sync.RWMutex
	Requests        int64
	Retries         int64
	BreakerRejected int64
	BreakerOpened   int64
	UpstreamErrors  int64
	BytesStreamed   int64
	LatencyMillis   int64
}

func (m *Metrics) IncrementRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests++
}

func (m *Metrics) IncrementRetries() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Retries++
}

func (m *Metrics) IncrementBreakerRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BreakerRejected++
}

func (m *Metrics) IncrementBreakerOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BreakerOpened++
}

func (m *Metrics) IncrementUpstreamErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpstreamErrors++
}

// RecordStream accumulates byte-count and latency after the last chunk
// of a streamed transfer has been handed off.
func (m *Metrics) RecordStream(bytes int64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BytesStreamed += bytes
	m.LatencyMillis += elapsed.Milliseconds()
}

func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"requests":         m.Requests,
		"retries":          m.Retries,
		"breaker_rejected": m.BreakerRejected,
		"breaker_opened":   m.BreakerOpened,
		"upstream_errors":  m.UpstreamErrors,
		"bytes_streamed":   m.BytesStreamed,
		"latency_millis":   m.LatencyMillis,
	}
}
