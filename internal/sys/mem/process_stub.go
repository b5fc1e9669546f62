//go:build !linux

package mem

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by ProcessReader on platforms without
// process_vm_readv or /proc/<pid>/mem.
var ErrUnsupported = errors.New("reading process memory is not supported on this platform")

// ProcessReader stub for non-Linux platforms.
type ProcessReader struct {
	pid int
}

// NewProcessReader returns a reader whose every Read fails.
func NewProcessReader(pid int) *ProcessReader {
	return &ProcessReader{pid: pid}
}

// Read always fails with ErrUnsupported.
func (r *ProcessReader) Read(ctx context.Context, addr uint64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrUnsupported
}

// Close is a no-op on non-Linux platforms.
func (r *ProcessReader) Close() error {
	return nil
}
