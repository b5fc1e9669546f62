// Package metrics reads the counters a sample is built from: per-thread CPU
// time and scheduler state, and the resident memory of a process.
package metrics

import (
	"fmt"
	"time"

	"github.com/Mortal/austin/internal/sys/proc"
)

// Source queries the counters of one process on demand.
type Source struct {
	fs  *proc.FS
	pid int
}

// NewSource returns a Source for pid.
func NewSource(fs *proc.FS, pid int) *Source {
	return &Source{fs: fs, pid: pid}
}

// ThreadCPU returns the cumulative CPU time of thread tid.
func (s *Source) ThreadCPU(tid int) (time.Duration, error) {
	cpu, err := s.fs.ThreadCPU(s.pid, tid)
	if err != nil {
		return 0, fmt.Errorf("cpu time of %d/%d: %w", s.pid, tid, err)
	}
	return cpu, nil
}

// ThreadRunning reports whether thread tid is on a CPU or runnable.
func (s *Source) ThreadRunning(tid int) (bool, error) {
	state, err := s.fs.ThreadState(s.pid, tid)
	if err != nil {
		return false, fmt.Errorf("state of %d/%d: %w", s.pid, tid, err)
	}
	return state == "R", nil
}

// ResidentBytes returns the resident set size of the process.
func (s *Source) ResidentBytes() (uint64, error) {
	rss, err := s.fs.ResidentBytes(s.pid)
	if err != nil {
		return 0, fmt.Errorf("resident memory of %d: %w", s.pid, err)
	}
	return rss, nil
}
