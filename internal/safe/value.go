// Package safe holds overflow-aware numeric conversions used when turning
// kernel counters into metric deltas.
package safe

import (
	"math"
)

// Uint64ToInt64 converts val to int64, clamping to math.MaxInt64.
// The boolean reports whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// CounterDelta returns cur-prev for a monotonically increasing counter.
// A counter that went backwards (thread id reuse, wrap) yields zero.
func CounterDelta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

// SplitSigned splits a signed delta into its positive and negative parts,
// both returned as non-negative magnitudes.
func SplitSigned(delta int64) (pos, neg uint64) {
	switch {
	case delta > 0:
		return uint64(delta), 0
	case delta == math.MinInt64:
		return 0, uint64(math.MaxInt64) + 1
	case delta < 0:
		return 0, uint64(-delta)
	}
	return 0, 0
}
