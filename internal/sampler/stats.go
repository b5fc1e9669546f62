package sampler

import (
	"sync"
	"time"
)

// Stats aggregates pass timings and read outcomes across loops.
type Stats struct {
	mu        sync.Mutex
	ticks     uint64
	saturated uint64
	sum       time.Duration
	min       time.Duration
	max       time.Duration
	attempts  uint64
	errors    uint64
	samples   uint64
}

// StatsSnapshot is a consistent copy of Stats.
type StatsSnapshot struct {
	// Ticks is the number of sampling passes, Saturated those that took
	// longer than the interval.
	Ticks     uint64
	Saturated uint64
	Min       time.Duration
	Avg       time.Duration
	Max       time.Duration
	// Attempts counts thread reads, Errors the ones that failed.
	Attempts uint64
	Errors   uint64
	Samples  uint64
}

// NewStats returns empty statistics.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) recordTick(d, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticks == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	s.ticks++
	s.sum += d
	if d > interval {
		s.saturated++
	}
}

func (s *Stats) recordRead(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if !ok {
		s.errors++
	}
}

func (s *Stats) recordSample() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
}

// Snapshot returns the current values.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Ticks:     s.ticks,
		Saturated: s.saturated,
		Min:       s.min,
		Max:       s.max,
		Attempts:  s.attempts,
		Errors:    s.errors,
		Samples:   s.samples,
	}
	if s.ticks > 0 {
		snap.Avg = s.sum / time.Duration(s.ticks)
	}
	return snap
}
