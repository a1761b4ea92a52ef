package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded ring of recent duration samples and
// computes percentiles over them. Used by the investigation service to log
// periodic p95 figures without a full metrics pipeline.
type LatencyTracker struct {
	mu    sync.RWMutex
	ring  []time.Duration
	next  int
	full  bool
	limit int
}

// NewLatencyTracker creates a tracker storing up to limit samples.
func NewLatencyTracker(limit int) *LatencyTracker {
	if limit <= 0 {
		limit = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, limit), limit: limit}
}

// Observe records a new duration, evicting the oldest sample once full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = d
	l.next++
	if l.next == l.limit {
		l.next = 0
		l.full = true
	}
}

// Count returns the number of samples recorded, capped at the ring size.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return l.limit
	}
	return l.next
}

// Percentile returns the percentile (0-100) duration, or zero without samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	n := l.next
	if l.full {
		n = l.limit
	}
	sorted := append([]time.Duration(nil), l.ring[:n]...)
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	index := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[index]
}
