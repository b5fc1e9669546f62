package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/Mortal/austin/internal/python"
	"github.com/Mortal/austin/internal/sys/proc"
)

// ChildEventSource reports processes spawned below the tracked ones.
type ChildEventSource interface {
	// NextChildEvent blocks for at most timeout and returns the next newly
	// found child, or nil when there is none.
	NextChildEvent(ctx context.Context, timeout time.Duration) (*ProcessRecord, error)
	// Track adds pid to the processes whose descendants are reported.
	Track(pid int)
	// Untrack stops reporting descendants of pid.
	Untrack(pid int)
}

// ProcessTable is the view of the host's processes used by the tracker.
type ProcessTable interface {
	Children(ctx context.Context, pid int) ([]int, error)
	// Command returns the executable path and the argument vector of pid.
	Command(ctx context.Context, pid int) (string, []string, error)
	Maps(pid int) ([]proc.Mapping, error)
	Alive(pid int) bool
}

// HostTable reads the process table of the host through gopsutil and /proc.
type HostTable struct {
	fs *proc.FS
}

// NewHostTable returns a table backed by fs.
func NewHostTable(fs *proc.FS) *HostTable {
	return &HostTable{fs: fs}
}

// Children lists the direct children of pid.
func (h *HostTable) Children(ctx context.Context, pid int) ([]int, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, err
	}
	kids, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(kids))
	for _, k := range kids {
		pids = append(pids, int(k.Pid))
	}
	sort.Ints(pids)
	return pids, nil
}

// Command returns the executable and command line of pid.
func (h *HostTable) Command(ctx context.Context, pid int) (string, []string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", nil, err
	}
	args, err := p.CmdlineSliceWithContext(ctx)
	if err != nil {
		return "", nil, err
	}
	// Exe fails for processes of other users; the arguments still help.
	exe, _ := p.ExeWithContext(ctx)
	return exe, args, nil
}

// Maps returns the memory mappings of pid.
func (h *HostTable) Maps(pid int) ([]proc.Mapping, error) {
	return h.fs.Maps(pid)
}

// Alive reports whether pid still runs.
func (h *HostTable) Alive(pid int) bool {
	return h.fs.Alive(pid)
}

// maxIntermediateDepth bounds the search through non-interpreter processes,
// e.g. a shell started with subprocess and shell=True.
const maxIntermediateDepth = 8

// ScanSource finds children by walking the process tree below every tracked
// process at a fixed interval.
type ScanSource struct {
	table    ProcessTable
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	parents mapset.Set[int]
	seen    mapset.Set[int]
	queue   []ProcessRecord
}

// NewScanSource returns a source that rescans every interval.
func NewScanSource(table ProcessTable, interval time.Duration, logger zerolog.Logger) *ScanSource {
	return &ScanSource{
		table:    table,
		interval: interval,
		logger:   logger.With().Str("component", "child_scanner").Logger(),
		parents:  mapset.NewSet[int](),
		seen:     mapset.NewSet[int](),
	}
}

// Track implements ChildEventSource.
func (s *ScanSource) Track(pid int) {
	s.parents.Add(pid)
	s.seen.Add(pid)
}

// Untrack implements ChildEventSource.
func (s *ScanSource) Untrack(pid int) {
	s.parents.Remove(pid)
}

// NextChildEvent implements ChildEventSource.
func (s *ScanSource) NextChildEvent(ctx context.Context, timeout time.Duration) (*ProcessRecord, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rec := s.pop(); rec != nil {
			return rec, nil
		}

		s.scan(ctx)
		if rec := s.pop(); rec != nil {
			return rec, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := min(s.interval, remaining)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *ScanSource) pop() *ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	rec := s.queue[0]
	s.queue = s.queue[1:]
	return &rec
}

func (s *ScanSource) scan(ctx context.Context) {
	parents := s.parents.ToSlice()
	sort.Ints(parents)
	for _, pid := range parents {
		s.walk(ctx, pid, 0)
	}
}

func (s *ScanSource) walk(ctx context.Context, pid, depth int) {
	kids, err := s.table.Children(ctx, pid)
	if err != nil {
		// The parent exited; the tracker notices on its own.
		return
	}

	for _, kid := range kids {
		if s.seen.Contains(kid) {
			continue
		}

		rec, ok := s.inspect(ctx, pid, kid)
		if ok {
			s.seen.Add(kid)
			s.mu.Lock()
			s.queue = append(s.queue, rec)
			s.mu.Unlock()
			s.logger.Debug().Int("pid", kid).Int("ppid", pid).Str("command", rec.Command).Msg("Found child interpreter")
			continue
		}

		// Intermediate processes are not marked as seen: they may exec an
		// interpreter later.
		if depth < maxIntermediateDepth {
			s.walk(ctx, kid, depth+1)
		}
	}
}

// inspect decides whether pid runs a Python interpreter.
func (s *ScanSource) inspect(ctx context.Context, ppid, pid int) (ProcessRecord, bool) {
	exe, args, err := s.table.Command(ctx, pid)
	if err != nil {
		return ProcessRecord{}, false
	}
	rec := ProcessRecord{PID: pid, PPID: ppid, Command: strings.Join(args, " ")}

	if exe != "" && python.IsInterpreterName(filepath.Base(exe)) {
		return rec, true
	}
	if len(args) > 0 && python.IsInterpreterName(filepath.Base(args[0])) {
		return rec, true
	}

	maps, err := s.table.Maps(pid)
	if err != nil {
		return ProcessRecord{}, false
	}
	return rec, python.IsInterpreter(maps)
}

func (r ProcessRecord) String() string {
	if r.PPID == 0 {
		return fmt.Sprintf("%d (%s)", r.PID, r.Command)
	}
	return fmt.Sprintf("%d <- %d (%s)", r.PID, r.PPID, r.Command)
}
