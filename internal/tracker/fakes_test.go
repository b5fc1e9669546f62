package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Mortal/austin/internal/sys/proc"
)

var errNoProcess = errors.New("no such process")

type fakeProcess struct {
	ppid int
	exe  string
	args []string
	maps []proc.Mapping
}

// fakeTable is an in-memory process table.
type fakeTable struct {
	mu    sync.Mutex
	procs map[int]fakeProcess
}

func newFakeTable() *fakeTable {
	return &fakeTable{procs: make(map[int]fakeProcess)}
}

func (f *fakeTable) add(pid, ppid int, exe string, args ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = fakeProcess{ppid: ppid, exe: exe, args: args}
}

func (f *fakeTable) addMaps(pid int, paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.procs[pid]
	for i, path := range paths {
		start := uint64(0x400000 + i*0x100000)
		p.maps = append(p.maps, proc.Mapping{Start: start, End: start + 0x1000, Executable: true, Path: path})
	}
	f.procs[pid] = p
}

func (f *fakeTable) kill(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
}

func (f *fakeTable) Children(_ context.Context, pid int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[pid]; !ok {
		return nil, errNoProcess
	}
	var kids []int
	for kid, p := range f.procs {
		if p.ppid == pid {
			kids = append(kids, kid)
		}
	}
	sort.Ints(kids)
	return kids, nil
}

func (f *fakeTable) Command(_ context.Context, pid int) (string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return "", nil, errNoProcess
	}
	return p.exe, p.args, nil
}

func (f *fakeTable) Maps(pid int) ([]proc.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return nil, errNoProcess
	}
	return p.maps, nil
}

func (f *fakeTable) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[pid]
	return ok
}
