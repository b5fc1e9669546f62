//go:build linux

package mem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ProcessReader reads a live process with process_vm_readv, falling back to
// /proc/<pid>/mem on kernels without the syscall.
type ProcessReader struct {
	pid int

	mu       sync.Mutex
	fallback *os.File
	useFile  bool
}

// NewProcessReader returns a reader for pid.
func NewProcessReader(pid int) *ProcessReader {
	return &ProcessReader{pid: pid}
}

// Read implements Reader.
func (r *ProcessReader) Read(ctx context.Context, addr uint64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}

	r.mu.Lock()
	useFile := r.useFile
	r.mu.Unlock()

	if !useFile {
		err := r.readv(addr, buf)
		if !errors.Is(err, unix.ENOSYS) {
			return err
		}
		r.mu.Lock()
		r.useFile = true
		r.mu.Unlock()
	}

	return r.readFile(addr, buf)
}

func (r *ProcessReader) readv(addr uint64, buf []byte) error {
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}

	n, err := unix.ProcessVMReadv(r.pid, local, remote, 0)
	if err != nil {
		if errors.Is(err, unix.ENOSYS) {
			return err
		}
		return r.classify(addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short read at 0x%x (%d of %d bytes)", ErrFault, addr, n, len(buf))
	}
	return nil
}

func (r *ProcessReader) readFile(addr uint64, buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fallback == nil {
		f, err := os.Open(fmt.Sprintf("/proc/%d/mem", r.pid))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return ErrProcessGone
			}
			return r.classify(addr, err)
		}
		r.fallback = f
	}

	if _, err := r.fallback.ReadAt(buf, int64(addr)); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: short read at 0x%x", ErrFault, addr)
		}
		return r.classify(addr, err)
	}
	return nil
}

func (r *ProcessReader) classify(addr uint64, err error) error {
	switch {
	case errors.Is(err, unix.ESRCH), errors.Is(err, os.ErrNotExist):
		return ErrProcessGone
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("%w (pid %d)", ErrPermission, r.pid)
	case errors.Is(err, unix.EFAULT), errors.Is(err, unix.EIO), errors.Is(err, unix.EINVAL):
		return fmt.Errorf("%w: 0x%x", ErrFault, addr)
	default:
		return fmt.Errorf("failed to read pid %d at 0x%x: %w", r.pid, addr, err)
	}
}

// Close releases the /proc/<pid>/mem handle if one was opened.
func (r *ProcessReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fallback == nil {
		return nil
	}
	err := r.fallback.Close()
	r.fallback = nil
	return err
}
