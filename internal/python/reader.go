// Package python walks the interpreter state of a running CPython process
// from the outside: it finds the runtime structures in the target's memory,
// lists the threads of every interpreter and unwinds their Python stacks.
package python

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mortal/austin/internal/retry"
	"github.com/Mortal/austin/internal/sys/mem"
	"github.com/Mortal/austin/internal/sys/proc"
)

const (
	maxInterpreters = 64
	maxThreads      = 4096
	maxDepth        = 2048

	startupPoll = 50 * time.Millisecond
)

// Thread is a Python thread found during one pass over the interpreter
// state. It is only valid for the pass that produced it.
type Thread struct {
	PID int
	IID int64
	TID int

	state uint64
}

// Frame is one level of a Python stack.
type Frame struct {
	File     string
	Function string
	Line     int
}

// Options configures Open.
type Options struct {
	Logger zerolog.Logger
	// StartupTimeout bounds the wait for a starting interpreter to publish
	// its runtime state.
	StartupTimeout time.Duration
	CodeCacheSize  int
}

// Reader reads the Python threads and stacks of one process. It is meant to
// be used by a single goroutine.
type Reader struct {
	pid     int
	remote  remote
	layout  *Layout
	version Version
	runtime uint64
	codes   *codeCache
	tids    *tidResolver
	tasks   func() ([]int, error)
	logger  zerolog.Logger
}

// Open locates the interpreter of pid and waits until its main thread state
// exists.
func Open(ctx context.Context, pid int, pfs *proc.FS, mr mem.Reader, opts Options) (*Reader, error) {
	logger := opts.Logger.With().Str("component", "python").Int("pid", pid).Logger()
	deadline := time.Now().Add(opts.StartupTimeout)
	rem := remote{mem: mr}

	bin, err := waitForBinary(ctx, pfs, pid, deadline)
	if err != nil {
		return nil, err
	}

	layout, version, err := resolveLayout(ctx, rem, bin)
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str("binary", bin.path).
		Str("version", version.String()).
		Uint64("runtime", bin.runtimeAddr).
		Msg("Found interpreter runtime")

	tasks := func() ([]int, error) { return pfs.Threads(pid) }
	r, err := newReader(pid, mr, layout, version, bin.runtimeAddr, tasks, opts.CodeCacheSize)
	if err != nil {
		return nil, err
	}
	r.logger = logger

	err = retry.Do(ctx, retry.Until(deadline, time.Millisecond, startupPoll), func() error {
		_, err := r.mainThreadState(ctx)
		return err
	}, func(err error) bool {
		return errors.Is(err, ErrNoRuntime) || mem.IsTransient(err)
	})
	if err != nil {
		return nil, startupError(err)
	}

	return r, nil
}

// waitForBinary polls the maps of pid until the binary holding _PyRuntime
// shows up. A freshly forked child shows the profiler's own maps until it
// execs, and right after exec only the executable is mapped: a python linked
// against libpython has no _PyRuntime of its own until the loader maps the
// library.
func waitForBinary(ctx context.Context, src objectSource, pid int, deadline time.Time) (*pyBinary, error) {
	var bin *pyBinary
	err := retry.Do(ctx, retry.Until(deadline, time.Millisecond, startupPoll), func() error {
		var err error
		bin, err = locateBinary(src, pid)
		return err
	}, func(err error) bool {
		return errors.Is(err, ErrNotInterpreter) || errors.Is(err, ErrNoRuntime)
	})
	if err != nil {
		return nil, startupError(err)
	}
	return bin, nil
}

func startupError(err error) error {
	if errors.Is(err, retry.ErrTimeout) {
		return fmt.Errorf("timed out waiting for the interpreter: %w", err)
	}
	return err
}

// resolveLayout determines the version of the interpreter and the matching
// structure layout.
func resolveLayout(ctx context.Context, r remote, bin *pyBinary) (*Layout, Version, error) {
	version := bin.version
	if bin.pyVersionAddr != 0 {
		if b, err := r.block(ctx, bin.pyVersionAddr, 4); err == nil {
			if v := versionFromHex(uint64(u32(b, 0))); v.Major == 3 {
				version = v
			}
		}
	} else if !bin.hasVersion {
		return nil, version, fmt.Errorf("%w: cannot tell the version of %s", ErrUnsupportedVersion, bin.path)
	}

	if version.AtLeast(3, 13) {
		if !usesDebugOffsets(version) {
			return nil, version, fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
		}
		return readDebugOffsets(ctx, r, bin.runtimeAddr)
	}

	layout, ok := staticLayout(version)
	if !ok {
		return nil, version, fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	}
	return layout, version, nil
}

// newReader builds a Reader around an already resolved layout.
func newReader(pid int, mr mem.Reader, layout *Layout, version Version, runtimeAddr uint64, tasks func() ([]int, error), cacheSize int) (*Reader, error) {
	codes, err := newCodeCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Reader{
		pid:     pid,
		remote:  remote{mem: mr},
		layout:  layout,
		version: version,
		runtime: runtimeAddr,
		codes:   codes,
		tids:    newTIDResolver(),
		tasks:   tasks,
		logger:  zerolog.Nop(),
	}, nil
}

// Version returns the version of the interpreter.
func (r *Reader) Version() Version {
	return r.version
}

func (r *Reader) mainThreadState(ctx context.Context) (uint64, error) {
	interp, err := r.remote.ptr(ctx, r.runtime+r.layout.Runtime.InterpretersHead)
	if err != nil {
		return 0, err
	}
	if interp == 0 {
		return 0, fmt.Errorf("%w: no interpreter yet", ErrNoRuntime)
	}
	tstate, err := r.remote.ptr(ctx, interp+r.layout.Interp.ThreadsHead)
	if err != nil {
		return 0, err
	}
	if tstate == 0 {
		return 0, fmt.Errorf("%w: no thread state yet", ErrNoRuntime)
	}
	return tstate, nil
}

// Threads lists the threads of every interpreter, ordered by interpreter and
// thread id.
func (r *Reader) Threads(ctx context.Context) ([]Thread, error) {
	l := r.layout

	interp, err := r.remote.ptr(ctx, r.runtime+l.Runtime.InterpretersHead)
	if err != nil {
		return nil, err
	}

	var (
		threads []Thread
		tasks   map[int]bool
	)
	interpSize := span(l.Interp.Next, l.Interp.ID, l.Interp.ThreadsHead)

	for n := 0; interp != 0 && n < maxInterpreters; n++ {
		ib, err := r.remote.block(ctx, interp, interpSize)
		if err != nil {
			return r.partialThreads(threads, err)
		}
		iid := int64(u64(ib, l.Interp.ID))

		tstate := u64(ib, l.Interp.ThreadsHead)
		for m := 0; tstate != 0 && m < maxThreads; m++ {
			tb, err := r.remote.block(ctx, tstate, l.Thread.Size)
			if err != nil {
				return r.partialThreads(threads, err)
			}

			t := Thread{PID: r.pid, IID: iid, state: tstate}
			if l.Thread.HasNativeTID {
				t.TID = int(u64(tb, l.Thread.NativeThreadID))
			} else {
				if tasks == nil {
					tasks = r.taskSet()
				}
				pthread := u64(tb, l.Thread.ThreadID)
				tid, ok := r.tids.resolve(ctx, r.remote, pthread, tasks)
				if !ok {
					// Keep the opaque pthread id; the thread still gets sampled.
					tid = int(pthread)
				}
				t.TID = tid
			}
			threads = append(threads, t)

			next := u64(tb, l.Thread.Next)
			if next == tstate {
				break
			}
			tstate = next
		}

		interp = u64(ib, l.Interp.Next)
	}

	sortThreads(threads)
	return threads, nil
}

func (r *Reader) taskSet() map[int]bool {
	tids, err := r.tasks()
	if err != nil {
		r.logger.Debug().Err(err).Msg("Failed to list tasks")
		return map[int]bool{}
	}
	set := make(map[int]bool, len(tids))
	for _, tid := range tids {
		set[tid] = true
	}
	return set
}

func (r *Reader) partialThreads(threads []Thread, err error) ([]Thread, error) {
	if len(threads) == 0 || ctxError(err) {
		return nil, err
	}
	sortThreads(threads)
	return threads, nil
}

func sortThreads(threads []Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		if threads[i].IID != threads[j].IID {
			return threads[i].IID < threads[j].IID
		}
		return threads[i].TID < threads[j].TID
	})
}

func ctxError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Frames unwinds the Python stack of t, innermost frame first. When the
// chain breaks part way the frames read so far are returned together with an
// error wrapping ErrPartialStack.
func (r *Reader) Frames(ctx context.Context, t Thread) ([]Frame, error) {
	l := r.layout

	tb, err := r.remote.block(ctx, t.state, l.Thread.Size)
	if err != nil {
		return nil, err
	}
	frame := u64(tb, l.Thread.Frame)
	if l.Thread.HasCFrame && frame != 0 {
		if frame, err = r.remote.ptr(ctx, frame+l.Thread.CFrameCurrent); err != nil {
			return nil, err
		}
	}

	var frames []Frame
	for depth := 0; frame != 0; depth++ {
		if depth == maxDepth {
			return frames, fmt.Errorf("%w: depth limit of %d reached", ErrPartialStack, maxDepth)
		}

		fb, err := r.remote.block(ctx, frame, l.Frame.Size)
		if err != nil {
			return partialFrames(frames, err)
		}
		previous := u64(fb, l.Frame.Previous)

		if l.Frame.HasOwner && fb[l.Frame.Owner] >= ownerCStack {
			frame = previous
			continue
		}

		codeAddr := u64(fb, l.Frame.Code)
		if l.Frame.TaggedCode {
			codeAddr &^= 3
		}
		if codeAddr == 0 {
			frame = previous
			continue
		}

		code, err := r.readCode(ctx, codeAddr)
		if err != nil {
			return partialFrames(frames, err)
		}

		var position int
		if l.Frame.Kind == frameKindObject {
			position = int(i32(fb, l.Frame.LastI))
		} else {
			instr := int64(u64(fb, l.Frame.InstrPtr))
			position = int((instr - int64(codeAddr+l.Code.CodeAdaptive)) / 2)
		}

		frames = append(frames, Frame{
			File:     code.filename,
			Function: code.name,
			Line:     code.line(l.Lines, position),
		})

		if previous == frame {
			return frames, fmt.Errorf("%w: frame loop at 0x%x", ErrPartialStack, frame)
		}
		frame = previous
	}

	return frames, nil
}

func partialFrames(frames []Frame, err error) ([]Frame, error) {
	if len(frames) == 0 || ctxError(err) {
		return nil, err
	}
	return frames, fmt.Errorf("%w: %w", ErrPartialStack, err)
}
