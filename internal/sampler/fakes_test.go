package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mortal/austin/internal/python"
)

type fakeReader struct {
	mu         sync.Mutex
	threads    []python.Thread
	threadsErr error
	frames     map[int][]python.Frame
	frameErrs  map[int]error
}

func newFakeReader(pid int, tids ...int) *fakeReader {
	r := &fakeReader{
		frames:    make(map[int][]python.Frame),
		frameErrs: make(map[int]error),
	}
	for _, tid := range tids {
		r.threads = append(r.threads, python.Thread{PID: pid, TID: tid})
		r.frames[tid] = []python.Frame{
			{File: "app.py", Function: "work", Line: 3},
			{File: "app.py", Function: "<module>", Line: 10},
		}
	}
	return r
}

func (r *fakeReader) Threads(ctx context.Context) ([]python.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.threadsErr != nil {
		return nil, r.threadsErr
	}
	return append([]python.Thread(nil), r.threads...), nil
}

func (r *fakeReader) Frames(ctx context.Context, t python.Thread) ([]python.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.frameErrs[t.TID]; err != nil {
		return nil, err
	}
	return append([]python.Frame(nil), r.frames[t.TID]...), nil
}

type fakeMetrics struct {
	mu      sync.Mutex
	cpu     map[int]time.Duration
	running map[int]bool
	rss     []uint64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		cpu:     make(map[int]time.Duration),
		running: make(map[int]bool),
	}
}

func (m *fakeMetrics) ThreadCPU(tid int) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cpu[tid], nil
}

func (m *fakeMetrics) ThreadRunning(tid int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[tid], nil
}

// ResidentBytes pops the next reading, repeating the last one.
func (m *fakeMetrics) ResidentBytes() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rss) == 0 {
		return 0, errors.New("no reading")
	}
	v := m.rss[0]
	if len(m.rss) > 1 {
		m.rss = m.rss[1:]
	}
	return v, nil
}

type recordingSink struct {
	mu      sync.Mutex
	samples []Sample
	err     error
}

func (s *recordingSink) Emit(sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, sample)
	return nil
}

func (s *recordingSink) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.samples...)
}

func (s *recordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
