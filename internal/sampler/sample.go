package sampler

import (
	"time"

	"github.com/Mortal/austin/internal/python"
)

// Metrics are the deltas carried by one sample since the previous sample of
// the same thread. Alloc and Dealloc are both magnitudes.
type Metrics struct {
	Wall    time.Duration
	CPU     time.Duration
	Alloc   uint64
	Dealloc uint64
}

// Memory returns the signed memory delta, positive for growth.
func (m Metrics) Memory() int64 {
	return int64(m.Alloc) - int64(m.Dealloc)
}

// Sample is one observation of a thread stack.
type Sample struct {
	PID int
	IID int64
	TID int
	// Frames are ordered innermost first.
	Frames  []python.Frame
	Metrics Metrics
	// Seq increases by one for every sample of a process.
	Seq  uint64
	Time time.Time
}

// Sink receives the samples of every loop. Emit may be called concurrently.
type Sink interface {
	Emit(Sample) error
}
