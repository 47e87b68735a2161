// Package metrics keeps in-process latency percentiles and outcome counters
// for the inbound pipeline.
package metrics

import (
	"database/sql"
	"sort"
	"sync"
	"time"
)

// Operation names recorded by the service.
const (
	OpInboundSync   = "inbound.sync"
	OpInboundAsync  = "inbound.async"
	OpInboundWorker = "inbound.worker"
)

// Tracker keeps the last N latencies in a ring buffer plus outcome counters.
type Tracker struct {
	mu       sync.Mutex
	ring     []time.Duration
	next     int
	full     bool
	total    int64
	failures int64
}

func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = 1000
	}
	return &Tracker{ring: make([]time.Duration, window)}
}

func (t *Tracker) Observe(d time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ring[t.next] = d
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
	t.total++
	if !ok {
		t.failures++
	}
}

type Stats struct {
	Count    int64   `json:"count"`
	Failures int64   `json:"failures"`
	Samples  int     `json:"samples"`
	AvgMS    float64 `json:"avg_ms"`
	P50MS    float64 `json:"p50_ms"`
	P95MS    float64 `json:"p95_ms"`
	P99MS    float64 `json:"p99_ms"`
	MaxMS    float64 `json:"max_ms"`
}

// Stats computes percentiles over the current window.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	n := t.next
	if t.full {
		n = len(t.ring)
	}
	window := make([]time.Duration, n)
	copy(window, t.ring[:n])
	s := Stats{Count: t.total, Failures: t.failures, Samples: n}
	t.mu.Unlock()

	if n == 0 {
		return s
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	var sum time.Duration
	for _, d := range window {
		sum += d
	}
	s.AvgMS = ms(sum / time.Duration(n))
	s.P50MS = ms(percentile(window, 0.50))
	s.P95MS = ms(percentile(window, 0.95))
	s.P99MS = ms(percentile(window, 0.99))
	s.MaxMS = ms(window[n-1])
	return s
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// Registry holds one Tracker per operation name.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
	window   int
}

func NewRegistry(window int) *Registry {
	return &Registry{trackers: make(map[string]*Tracker), window: window}
}

func (r *Registry) Observe(op string, d time.Duration, ok bool) {
	r.mu.RLock()
	t, exists := r.trackers[op]
	r.mu.RUnlock()

	if !exists {
		r.mu.Lock()
		if t, exists = r.trackers[op]; !exists {
			t = NewTracker(r.window)
			r.trackers[op] = t
		}
		r.mu.Unlock()
	}
	t.Observe(d, ok)
}

func (r *Registry) Snapshot() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.trackers))
	for op, t := range r.trackers {
		out[op] = t.Stats()
	}
	return out
}

// DBPoolStats is the subset of sql.DBStats exposed on the metrics endpoint.
type DBPoolStats struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitMS          int64 `json:"wait_ms"`
}

func SQLPoolStats(db *sql.DB) DBPoolStats {
	if db == nil {
		return DBPoolStats{}
	}
	s := db.Stats()
	return DBPoolStats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
		WaitMS:          s.WaitDuration.Milliseconds(),
	}
}
