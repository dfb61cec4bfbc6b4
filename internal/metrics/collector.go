// Package metrics collects per-operation query metrics for the health
// surface: counts, average duration, cache hit rate, and rolling-window
// p95/p99 latencies. Reads never block storage and never mutate it.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const (
	// maxSamples bounds the rolling latency window per operation kind.
	maxSamples = 1000

	// defaultWindow is how long a latency sample stays relevant.
	defaultWindow = time.Hour
)

type sample struct {
	at       time.Time
	duration time.Duration
}

type opMetrics struct {
	count         uint64
	totalDuration time.Duration
	cacheHits     uint64
	cacheMisses   uint64
	samples       []sample // oldest first, capped at maxSamples
}

// Collector accumulates operation metrics. It is safe for concurrent use.
type Collector struct {
	mu       sync.RWMutex
	ops      map[string]*opMetrics
	timeouts uint64
	window   time.Duration
	now      func() time.Time
}

// NewCollector returns a Collector with a one-hour rolling window.
func NewCollector() *Collector {
	return &Collector{
		ops:    make(map[string]*opMetrics),
		window: defaultWindow,
		now:    time.Now,
	}
}

// RecordQuery records one completed operation of the given kind.
func (c *Collector) RecordQuery(kind string, duration time.Duration, cacheHit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.ops[kind]
	if !ok {
		m = &opMetrics{}
		c.ops[kind] = m
	}

	m.count++
	m.totalDuration += duration
	if cacheHit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}

	m.samples = append(m.samples, sample{at: c.now(), duration: duration})
	if len(m.samples) > maxSamples {
		m.samples = m.samples[len(m.samples)-maxSamples:]
	}
}

// RecordTimeout records a pool acquisition timeout.
func (c *Collector) RecordTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts++
}

// OperationStats is the per-operation-kind snapshot shape.
type OperationStats struct {
	Count        uint64        `json:"count"`
	AvgDuration  time.Duration `json:"avg_duration"`
	CacheHitRate float64       `json:"cache_hit_rate"`
	P95          time.Duration `json:"p95"`
	P99          time.Duration `json:"p99"`
}

// Snapshot is a point-in-time copy of all collected metrics.
type Snapshot struct {
	Operations map[string]OperationStats `json:"operations"`
	Timeouts   uint64                    `json:"timeouts"`
}

// Snapshot returns a copy of the current metrics. Samples older than the
// rolling window are excluded from the percentile calculations.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := c.now().Add(-c.window)
	snap := Snapshot{
		Operations: make(map[string]OperationStats, len(c.ops)),
		Timeouts:   c.timeouts,
	}

	for kind, m := range c.ops {
		stats := OperationStats{Count: m.count}
		if m.count > 0 {
			stats.AvgDuration = m.totalDuration / time.Duration(m.count)
		}
		if total := m.cacheHits + m.cacheMisses; total > 0 {
			stats.CacheHitRate = float64(m.cacheHits) / float64(total)
		}

		durations := make([]time.Duration, 0, len(m.samples))
		for _, s := range m.samples {
			if s.at.After(cutoff) {
				durations = append(durations, s.duration)
			}
		}
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		stats.P95 = percentile(durations, 95)
		stats.P99 = percentile(durations, 99)

		snap.Operations[kind] = stats
	}

	return snap
}

// percentile returns the pth percentile of a sorted duration slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
