package metrics

import (
	"math"
	"math/rand/v2"
)

// HeapSampler thins out memory deltas with Poisson sampling. A delta of |d|
// bytes is kept with probability 1 - exp(-|d|/threshold) and then scaled by
// the inverse of that probability, so the expected value of the reported
// delta equals d. A zero threshold keeps every delta unchanged.
type HeapSampler struct {
	threshold float64
	rnd       *rand.Rand
}

// NewHeapSampler returns a sampler for the given threshold in bytes.
func NewHeapSampler(threshold uint64, seed uint64) *HeapSampler {
	return &HeapSampler{
		threshold: float64(threshold),
		rnd:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Exact reports whether every delta is kept.
func (h *HeapSampler) Exact() bool {
	return h.threshold == 0
}

// Sample returns the estimate to report for delta, or 0 when the delta is
// not selected.
func (h *HeapSampler) Sample(delta int64) int64 {
	if delta == 0 || h.Exact() {
		return delta
	}

	p := Probability(delta, h.threshold)
	if h.rnd.Float64() >= p {
		return 0
	}
	return clamp(math.Round(float64(delta) / p))
}

// clamp converts v to int64, saturating at the type's bounds. float64 cannot
// represent math.MaxInt64, so anything at or above 2^63 saturates.
func clamp(v float64) int64 {
	switch {
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

// Probability is the chance that a delta is selected for a threshold.
func Probability(delta int64, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	return -math.Expm1(-math.Abs(float64(delta)) / threshold)
}
