// Package mem reads the memory of another process without stopping it.
package mem

import (
	"context"
	"errors"
)

var (
	// ErrProcessGone is returned once the target process has exited.
	ErrProcessGone = errors.New("process is gone")
	// ErrPermission is returned when the kernel refuses access to the
	// target's memory.
	ErrPermission = errors.New("permission denied reading process memory")
	// ErrFault is returned when the requested range is not mapped. This is
	// expected while the target mutates the structures being read.
	ErrFault = errors.New("bad address in process memory")
)

// Reader copies remote memory into buf. Implementations must check ctx
// before touching the target.
type Reader interface {
	Read(ctx context.Context, addr uint64, buf []byte) error
}

// IsTransient reports whether err is a read failure that may succeed on the
// next attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrFault) || errors.Is(err, context.DeadlineExceeded)
}
