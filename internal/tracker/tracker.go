// Package tracker starts or attaches to the profiled process and keeps the
// set of processes to sample up to date as children come and go.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/Mortal/austin/internal/config"
)

// ErrRootExited is returned when the root process is gone before it could be
// tracked.
var ErrRootExited = errors.New("root process exited")

// DefaultPollInterval is how often the tracker checks for exits and children.
const DefaultPollInterval = 50 * time.Millisecond

// stopGrace is how long Stop waits for a killed root to be reaped.
const stopGrace = 5 * time.Second

// LaunchSpec describes the root process.
type LaunchSpec struct {
	// Command is spawned when AttachPID is zero.
	Command []string
	// AttachPID attaches to a running process.
	AttachPID int

	// Standard streams of a spawned root. A nil Stdout discards the target's
	// output.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ProcessRecord identifies one tracked process.
type ProcessRecord struct {
	PID     int
	PPID    int
	Command string
}

// Changes is the outcome of one Poll.
type Changes struct {
	Discovered []ProcessRecord
	Exited     []ProcessRecord
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Discovered) == 0 && len(c.Exited) == 0
}

// Options configures a Tracker.
type Options struct {
	Table        ProcessTable
	Source       ChildEventSource
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Tracker owns the root process and the set of tracked processes.
type Tracker struct {
	multiprocess bool
	table        ProcessTable
	source       ChildEventSource
	pollInterval time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	root    *ProcessRecord
	cmd     *exec.Cmd
	exited  chan struct{}
	tracked mapset.Set[int]
	records map[int]ProcessRecord

	stopOnce sync.Once
}

// New creates a tracker. Without a Source, children are never discovered even
// in multiprocess mode.
func New(cfg config.Config, opts Options) *Tracker {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		multiprocess: cfg.Multiprocess,
		table:        opts.Table,
		source:       opts.Source,
		pollInterval: interval,
		logger:       opts.Logger.With().Str("component", "tracker").Logger(),
		tracked:      mapset.NewSet[int](),
		records:      make(map[int]ProcessRecord),
	}
}

// Start spawns or attaches to the root process and begins tracking it.
func (t *Tracker) Start(ctx context.Context, spec LaunchSpec) (*ProcessRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root != nil {
		return nil, fmt.Errorf("tracker already started on pid %d", t.root.PID)
	}

	var rec ProcessRecord
	if spec.AttachPID > 0 {
		if !t.table.Alive(spec.AttachPID) {
			return nil, fmt.Errorf("%w: no process with pid %d", ErrRootExited, spec.AttachPID)
		}
		rec = ProcessRecord{PID: spec.AttachPID, Command: t.command(ctx, spec.AttachPID)}
	} else {
		if len(spec.Command) == 0 {
			return nil, errors.New("no command to run")
		}
		if err := t.spawn(spec); err != nil {
			return nil, err
		}
		rec = ProcessRecord{PID: t.cmd.Process.Pid, Command: strings.Join(spec.Command, " ")}
	}

	t.root = &rec
	t.add(rec)

	t.logger.Info().
		Int("pid", rec.PID).
		Bool("spawned", t.cmd != nil).
		Str("command", rec.Command).
		Msg("Tracking root process")

	root := rec
	return &root, nil
}

func (t *Tracker) spawn(spec LaunchSpec) error {
	//nolint:gosec // G204: running the user's command is the point.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", spec.Command[0], err)
	}

	t.cmd = cmd
	t.exited = make(chan struct{})
	go func() {
		// Non-zero exit statuses are reported through ExitCode.
		_ = cmd.Wait()
		close(t.exited)
	}()
	return nil
}

func (t *Tracker) command(ctx context.Context, pid int) string {
	_, args, err := t.table.Command(ctx, pid)
	if err != nil {
		return ""
	}
	return strings.Join(args, " ")
}

// add must be called with mu held.
func (t *Tracker) add(rec ProcessRecord) {
	t.tracked.Add(rec.PID)
	t.records[rec.PID] = rec
	if t.source != nil {
		t.source.Track(rec.PID)
	}
}

// Tracked returns the pids currently tracked, in ascending order.
func (t *Tracker) Tracked() []int {
	pids := t.tracked.ToSlice()
	sort.Ints(pids)
	return pids
}

// RootExited is closed once a spawned root has been reaped. It is nil for
// attached roots.
func (t *Tracker) RootExited() <-chan struct{} {
	return t.exited
}

// ExitCode returns the exit status of a spawned root that has exited, or -1.
func (t *Tracker) ExitCode() int {
	if t.cmd == nil {
		return -1
	}
	select {
	case <-t.exited:
		return t.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

// Poll waits up to one poll interval for new children and reports the
// processes that appeared or exited since the previous call.
func (t *Tracker) Poll(ctx context.Context) (Changes, error) {
	var changes Changes

	if t.multiprocess && t.source != nil {
		timeout := t.pollInterval
		for {
			rec, err := t.source.NextChildEvent(ctx, timeout)
			if err != nil {
				return changes, err
			}
			if rec == nil {
				break
			}
			// Drain whatever else is queued without waiting again.
			timeout = 0

			t.mu.Lock()
			if !t.tracked.Contains(rec.PID) {
				t.add(*rec)
				changes.Discovered = append(changes.Discovered, *rec)
			}
			t.mu.Unlock()
		}
	} else {
		timer := time.NewTimer(t.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return changes, ctx.Err()
		case <-t.exited:
			timer.Stop()
		case <-timer.C:
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pid := range t.Tracked() {
		if t.alive(pid) {
			continue
		}
		rec := t.records[pid]
		t.tracked.Remove(pid)
		delete(t.records, pid)
		if t.source != nil {
			t.source.Untrack(pid)
		}
		changes.Exited = append(changes.Exited, rec)
		t.logger.Debug().Int("pid", pid).Msg("Process exited")
	}

	return changes, nil
}

// alive must be called with mu held.
func (t *Tracker) alive(pid int) bool {
	if t.cmd != nil && pid == t.root.PID {
		select {
		case <-t.exited:
			return false
		default:
			return true
		}
	}
	return t.table.Alive(pid)
}

// Done reports whether the run is over: the root exited, or with
// multiprocess tracking every tracked process exited.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return true
	}
	if t.multiprocess {
		return t.tracked.Cardinality() == 0
	}
	return !t.tracked.Contains(t.root.PID)
}

// Run polls until the run is over, handing every non-empty change set to
// onChange. It returns the context error when cancelled.
func (t *Tracker) Run(ctx context.Context, onChange func(Changes) error) error {
	for !t.Done() {
		changes, err := t.Poll(ctx)
		if err != nil {
			return err
		}
		if changes.Empty() {
			continue
		}
		if err := onChange(changes); err != nil {
			return err
		}
	}
	return nil
}

// Signal forwards sig to a spawned root. Attached roots are left alone.
func (t *Tracker) Signal(sig os.Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	select {
	case <-t.exited:
		return nil
	default:
	}
	if err := t.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal pid %d: %w", t.cmd.Process.Pid, err)
	}
	return nil
}

// Stop kills a spawned root that is still running and waits for it to be
// reaped. It is safe to call more than once.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		if t.cmd == nil {
			return
		}
		select {
		case <-t.exited:
			return
		default:
		}

		t.logger.Debug().Int("pid", t.cmd.Process.Pid).Msg("Killing root process")
		if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			t.logger.Warn().Err(err).Msg("Failed to kill root process")
		}

		select {
		case <-t.exited:
		case <-time.After(stopGrace):
			t.logger.Warn().Int("pid", t.cmd.Process.Pid).Msg("Root process not reaped")
		}
	})
}
