// Package sampler drives the sampling of one process: on every tick it lists
// the Python threads, reads their stacks, attaches metric deltas and hands
// the resulting samples to a Sink.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mortal/austin/internal/config"
	"github.com/Mortal/austin/internal/metrics"
	"github.com/Mortal/austin/internal/python"
	"github.com/Mortal/austin/internal/safe"
	"github.com/Mortal/austin/internal/sys/mem"
	"github.com/Mortal/austin/internal/sys/proc"
)

// StackReader lists the threads of a process and unwinds their stacks.
type StackReader interface {
	Threads(ctx context.Context) ([]python.Thread, error)
	Frames(ctx context.Context, t python.Thread) ([]python.Frame, error)
}

// MetricSource reads the counters of a process.
type MetricSource interface {
	ThreadCPU(tid int) (time.Duration, error)
	ThreadRunning(tid int) (bool, error)
	ResidentBytes() (uint64, error)
}

// Options are the collaborators of a Loop. Window and Stats are shared by all
// loops of a run; the others belong to one process.
type Options struct {
	Reader  StackReader
	Metrics MetricSource
	Sink    Sink
	Window  *Window
	Stats   *Stats
	Logger  zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// HeapSeed seeds the heap sampler.
	HeapSeed uint64
}

// baseline is what the previous sample of a thread saw.
type baseline struct {
	wall time.Time
	cpu  time.Duration
	seen uint64
}

// Loop samples one process. Tick and Run must be called from one goroutine.
type Loop struct {
	cfg      config.Config
	pid      int
	interval time.Duration
	reader   StackReader
	metrics  MetricSource
	heap     *metrics.HeapSampler
	sink     Sink
	window   *Window
	stats    *Stats
	logger   zerolog.Logger
	now      func() time.Time

	state     atomic.Int32
	baselines map[int]*baseline
	rss       uint64
	hasRSS    bool
	// carry is a memory delta no thread could be charged with yet.
	carry     Metrics
	ticks     uint64
	seq       uint64
}

// New returns an idle loop for pid.
func New(cfg config.Config, pid int, opts Options) *Loop {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	window := opts.Window
	if window == nil {
		window = NewWindow(cfg.Exposure)
	}
	stats := opts.Stats
	if stats == nil {
		stats = NewStats()
	}

	return &Loop{
		cfg:       cfg,
		pid:       pid,
		interval:  cfg.EffectiveInterval(),
		reader:    opts.Reader,
		metrics:   opts.Metrics,
		heap:      metrics.NewHeapSampler(cfg.HeapThreshold, opts.HeapSeed^uint64(pid)),
		sink:      opts.Sink,
		window:    window,
		stats:     stats,
		logger:    opts.Logger.With().Str("component", "sampler").Int("pid", pid).Logger(),
		now:       now,
		baselines: make(map[int]*baseline),
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	if old := State(l.state.Swap(int32(s))); old != s {
		l.logger.Trace().Stringer("from", old).Stringer("to", s).Msg("State change")
	}
}

// Attach takes the initial memory reading so that the first memory delta
// covers one interval only.
func (l *Loop) Attach() error {
	if l.State() != StateIdle {
		return fmt.Errorf("loop of %d already attached", l.pid)
	}
	if l.cfg.Mode.Memory() {
		rss, err := l.metrics.ResidentBytes()
		if err != nil {
			return err
		}
		l.rss, l.hasRSS = rss, true
	}
	l.setState(StateAttached)
	return nil
}

// Run ticks at the effective interval until ctx is done or the process is
// gone. A pass that overruns the interval delays the next one instead of
// being followed by a burst.
func (l *Loop) Run(ctx context.Context) error {
	if l.State() == StateIdle {
		if err := l.Attach(); err != nil {
			l.setState(StateStopped)
			return err
		}
	}
	l.setState(StateSampling)
	defer l.setState(StateStopped)

	l.logger.Debug().Dur("interval", l.interval).Str("mode", string(l.cfg.Mode)).Msg("Sampling started")

	next := l.now()
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := l.Tick(ctx); err != nil {
			if errors.Is(err, mem.ErrProcessGone) {
				l.logger.Debug().Msg("Process gone")
				return nil
			}
			return err
		}

		next = next.Add(l.interval)
		wait := next.Sub(l.now())
		if wait <= 0 {
			next = l.now()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Tick performs one sampling pass. Read failures are counted and skipped;
// the returned error is either mem.ErrProcessGone or a failure of the sink.
// A pass already under way finishes even when ctx is cancelled, bounded by
// the configured timeout.
func (l *Loop) Tick(ctx context.Context) error {
	start := l.now()
	defer func() {
		l.stats.recordTick(l.now().Sub(start), l.interval)
	}()

	if !l.window.Admit(start) {
		return nil
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.Timeout)
	defer cancel()

	l.ticks++

	threads, err := l.reader.Threads(tctx)
	if err != nil {
		return l.skipTick(err)
	}
	if l.State() == StatePaused {
		l.setState(StateSampling)
	}

	memory := l.memoryDelta()
	owner := l.memoryOwner(threads)
	charged := !l.cfg.Mode.Memory()

	for i, t := range threads {
		frames, err := l.reader.Frames(tctx, t)
		if err != nil {
			l.stats.recordRead(false)
			if gone(err) {
				return mem.ErrProcessGone
			}
			if errors.Is(err, context.DeadlineExceeded) {
				l.logger.Debug().Int("tid", t.TID).Msg("Pass deadline exceeded")
				break
			}
			l.logger.Trace().Err(err).Int("tid", t.TID).Msg("Skipping thread")
			continue
		}
		l.stats.recordRead(true)

		now := l.now()
		m, emit := l.threadMetrics(t.TID, now)
		frames = filterFrames(frames)

		// An owner without a usable stack passes the delta on to the next
		// thread that has one.
		take := !charged && i >= owner && len(frames) > 0
		if take {
			m.Alloc, m.Dealloc = memory.Alloc, memory.Dealloc
			charged = true
		}
		if l.cfg.Mode == config.ModeMemory {
			emit = take && (m.Alloc != 0 || m.Dealloc != 0)
		}

		if !emit || len(frames) == 0 {
			continue
		}

		l.seq++
		s := Sample{
			PID:     l.pid,
			IID:     t.IID,
			TID:     t.TID,
			Frames:  frames,
			Metrics: m,
			Seq:     l.seq,
			Time:    now,
		}
		if err := l.sink.Emit(s); err != nil {
			return fmt.Errorf("failed to emit sample: %w", err)
		}
		l.stats.recordSample()
	}

	if !charged {
		l.carry = memory
	}
	l.dropStale(threads)
	return nil
}

func (l *Loop) skipTick(err error) error {
	l.stats.recordRead(false)
	if gone(err) {
		return mem.ErrProcessGone
	}
	l.setState(StatePaused)
	l.logger.Trace().Err(err).Msg("Skipping pass")
	return nil
}

func gone(err error) bool {
	return errors.Is(err, mem.ErrProcessGone) || proc.Gone(err)
}

// threadMetrics computes the time deltas of tid and reports whether the
// sample is worth emitting in the current mode.
func (l *Loop) threadMetrics(tid int, now time.Time) (Metrics, bool) {
	b, known := l.baselines[tid]
	if !known {
		b = &baseline{wall: now.Add(-l.interval)}
		l.baselines[tid] = b
	}

	var m Metrics
	m.Wall = now.Sub(b.wall)
	if m.Wall < 0 {
		m.Wall = 0
	}
	b.wall = now

	if l.cfg.Mode.CPU() {
		cpu, err := l.metrics.ThreadCPU(tid)
		if err == nil {
			if known {
				m.CPU = time.Duration(safe.CounterDelta(uint64(cpu), uint64(b.cpu)))
			}
			b.cpu = cpu
		}
		if m.CPU > m.Wall {
			m.CPU = m.Wall
		}
	}

	emit := true
	if l.cfg.Mode == config.ModeCPU {
		// Idle threads have nothing to report.
		emit = m.CPU > 0
	}
	if !l.cfg.Mode.Wall() {
		m.Wall = 0
	}
	return m, emit
}

// memoryDelta returns the change in resident memory since the last pass,
// after heap sampling, plus whatever the previous pass could not charge.
func (l *Loop) memoryDelta() Metrics {
	if !l.cfg.Mode.Memory() {
		return Metrics{}
	}
	m := l.carry
	l.carry = Metrics{}

	rss, err := l.metrics.ResidentBytes()
	if err != nil {
		l.logger.Trace().Err(err).Msg("Failed to read resident memory")
		return m
	}
	if !l.hasRSS {
		l.rss, l.hasRSS = rss, true
		return m
	}

	cur, _ := safe.Uint64ToInt64(rss)
	prev, _ := safe.Uint64ToInt64(l.rss)
	l.rss = rss

	alloc, dealloc := safe.SplitSigned(l.heap.Sample(cur - prev))
	m.Alloc += alloc
	m.Dealloc += dealloc
	return m
}

// memoryOwner picks the thread charged with the memory delta: the first one
// on a CPU, else the first one.
func (l *Loop) memoryOwner(threads []python.Thread) int {
	if !l.cfg.Mode.Memory() {
		return -1
	}
	for i, t := range threads {
		if running, err := l.metrics.ThreadRunning(t.TID); err == nil && running {
			return i
		}
	}
	return 0
}

// dropStale forgets threads that are no longer listed, so that a recycled
// tid starts from a fresh baseline.
func (l *Loop) dropStale(threads []python.Thread) {
	for _, t := range threads {
		if b, ok := l.baselines[t.TID]; ok {
			b.seen = l.ticks
		}
	}
	for tid, b := range l.baselines {
		if b.seen != l.ticks {
			delete(l.baselines, tid)
		}
	}
}
