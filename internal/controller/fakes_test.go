package controller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Mortal/austin/internal/python"
	"github.com/Mortal/austin/internal/sys/mem"
	"github.com/Mortal/austin/internal/sys/proc"
	"github.com/Mortal/austin/internal/tracker"
)

// fakeTable is a process table whose processes all run python3.
type fakeTable struct {
	mu    sync.Mutex
	procs map[int]int
}

func newFakeTable() *fakeTable {
	return &fakeTable{procs: make(map[int]int)}
}

func (f *fakeTable) add(pid, ppid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = ppid
}

func (f *fakeTable) kill(pids ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pid := range pids {
		delete(f.procs, pid)
	}
}

func (f *fakeTable) Children(_ context.Context, pid int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[pid]; !ok {
		return nil, mem.ErrProcessGone
	}
	var kids []int
	for kid, ppid := range f.procs {
		if ppid == pid {
			kids = append(kids, kid)
		}
	}
	sort.Ints(kids)
	return kids, nil
}

func (f *fakeTable) Command(_ context.Context, pid int) (string, []string, error) {
	if !f.Alive(pid) {
		return "", nil, mem.ErrProcessGone
	}
	return "/usr/bin/python3", []string{"python3", "app.py"}, nil
}

func (f *fakeTable) Maps(int) ([]proc.Mapping, error) {
	return nil, nil
}

func (f *fakeTable) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[pid]
	return ok
}

// fakeReader reports one thread per process with a fixed stack.
type fakeReader struct {
	pid int
}

func (r *fakeReader) Threads(context.Context) ([]python.Thread, error) {
	return []python.Thread{{PID: r.pid, TID: r.pid}}, nil
}

func (r *fakeReader) Frames(context.Context, python.Thread) ([]python.Frame, error) {
	return []python.Frame{
		{File: "app.py", Function: "main", Line: 3},
		{File: "app.py", Function: "<module>", Line: 10},
	}, nil
}

type fakeMetrics struct{}

func (fakeMetrics) ThreadCPU(int) (time.Duration, error) { return 0, nil }
func (fakeMetrics) ThreadRunning(int) (bool, error)      { return true, nil }
func (fakeMetrics) ResidentBytes() (uint64, error)       { return 1 << 20, nil }

// fakeOpener opens every process with a fakeReader unless an error is
// registered for it.
type fakeOpener struct {
	mu     sync.Mutex
	errs   map[int]error
	opened []int
	closed []int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{errs: make(map[int]error)}
}

func (o *fakeOpener) fail(pid int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[pid] = err
}

func (o *fakeOpener) Open(_ context.Context, rec tracker.ProcessRecord) (*Target, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.errs[rec.PID]; err != nil {
		return nil, err
	}
	o.opened = append(o.opened, rec.PID)
	pid := rec.PID
	return &Target{
		Reader:  &fakeReader{pid: pid},
		Metrics: fakeMetrics{},
		Python:  "3.11.4",
		closer: closerFunc(func() error {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.closed = append(o.closed, pid)
			return nil
		}),
	}, nil
}

func (o *fakeOpener) snapshot() (opened, closed []int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.opened...), append([]int(nil), o.closed...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var errBroken = errors.New("broken pipe")

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errBroken }
