// Package proc reads process and thread information from the /proc
// filesystem on Linux systems.
package proc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/procfs"
)

// userHZ is the clock tick rate of utime/stime in /proc/<pid>/stat.
const userHZ = 100

// FS gives access to a proc filesystem.
type FS struct {
	fs   procfs.FS
	root string
}

// New opens the proc filesystem at /proc.
func New() (*FS, error) {
	return NewAt(procfs.DefaultMountPoint)
}

// NewAt opens a proc filesystem mounted at mountPoint.
func NewAt(mountPoint string) (*FS, error) {
	pfs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", mountPoint, err)
	}
	return &FS{fs: pfs, root: mountPoint}, nil
}

// Gone reports whether err means the process or thread no longer exists.
func Gone(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH)
}

// Mapping is one line of /proc/<pid>/maps.
type Mapping struct {
	Start      uint64
	End        uint64
	Offset     int64
	Executable bool
	Path       string
}

// Maps returns the memory mappings of pid.
func (f *FS) Maps(pid int) ([]Mapping, error) {
	p, err := f.fs.Proc(pid)
	if err != nil {
		return nil, err
	}

	maps, err := p.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("failed to read maps of %d: %w", pid, err)
	}

	out := make([]Mapping, 0, len(maps))
	for _, m := range maps {
		mapping := Mapping{
			Start:  uint64(m.StartAddr),
			End:    uint64(m.EndAddr),
			Offset: m.Offset,
			Path:   m.Pathname,
		}
		if m.Perms != nil {
			mapping.Executable = m.Perms.Execute
		}
		out = append(out, mapping)
	}
	return out, nil
}

// Threads returns the thread ids of pid in ascending order.
func (f *FS) Threads(pid int) ([]int, error) {
	threads, err := f.fs.AllThreads(pid)
	if err != nil {
		return nil, err
	}

	tids := make([]int, 0, len(threads))
	for _, t := range threads {
		tids = append(tids, t.PID)
	}
	sort.Ints(tids)
	return tids, nil
}

// ThreadCPU returns the CPU time consumed so far by thread tid of pid. It
// prefers the nanosecond schedstat counter and falls back to the clock-tick
// resolution of utime+stime.
func (f *FS) ThreadCPU(pid, tid int) (time.Duration, error) {
	t, err := f.fs.Thread(pid, tid)
	if err != nil {
		return 0, err
	}

	if sched, err := t.Schedstat(); err == nil {
		return time.Duration(sched.RunningNanoseconds), nil
	}

	stat, err := t.Stat()
	if err != nil {
		return 0, err
	}
	ticks := time.Duration(stat.UTime + stat.STime)
	return ticks * time.Second / userHZ, nil
}

// ThreadState returns the single-letter scheduler state of a thread, e.g. R
// for running or S for sleeping.
func (f *FS) ThreadState(pid, tid int) (string, error) {
	t, err := f.fs.Thread(pid, tid)
	if err != nil {
		return "", err
	}
	stat, err := t.Stat()
	if err != nil {
		return "", err
	}
	return stat.State, nil
}

// ResidentBytes returns the resident set size of pid.
func (f *FS) ResidentBytes(pid int) (uint64, error) {
	p, err := f.fs.Proc(pid)
	if err != nil {
		return 0, err
	}
	statm, err := p.Statm()
	if err != nil {
		return 0, err
	}
	return statm.ResidentBytes(), nil
}

// Alive reports whether pid exists and is not a zombie.
func (f *FS) Alive(pid int) bool {
	p, err := f.fs.Proc(pid)
	if err != nil {
		return false
	}
	stat, err := p.Stat()
	if err != nil {
		return false
	}
	return stat.State != "Z" && stat.State != "X"
}

// RootPath returns path as seen from the mount namespace of pid, so that
// binaries of containerised processes can be opened from the host.
func (f *FS) RootPath(pid int, path string) string {
	return filepath.Join(f.root, strconv.Itoa(pid), "root", path)
}

// OpenInRoot opens path through the root of pid, falling back to the path
// as seen by the profiler itself.
func (f *FS) OpenInRoot(pid int, path string) (*os.File, error) {
	//nolint:gosec // G304: path comes from the target's memory maps.
	file, err := os.Open(f.RootPath(pid, path))
	if err == nil {
		return file, nil
	}
	//nolint:gosec // G304: path comes from the target's memory maps.
	return os.Open(path)
}
