package python

import (
	"context"
	"runtime"
)

// Before 3.11 the thread state only records the pthread_t of a thread. On
// glibc that is the address of struct pthread, which holds the kernel tid.
var pthreadTIDOffsets = map[string]uint64{
	"amd64": 0x2d0,
	"arm64": 0xd0,
}

// pthreadScanSize is how much of struct pthread is searched when the tid is
// not at the expected offset, e.g. with a different libc.
const pthreadScanSize = 0x400

// tidResolver finds kernel thread ids from pthread_t values and remembers the
// offset that worked.
type tidResolver struct {
	offset uint64
	known  bool
}

func newTIDResolver() *tidResolver {
	off, ok := pthreadTIDOffsets[runtime.GOARCH]
	return &tidResolver{offset: off, known: ok}
}

// resolve returns the kernel tid behind pthread, checked against the live
// tasks of the process.
func (t *tidResolver) resolve(ctx context.Context, r remote, pthread uint64, tasks map[int]bool) (int, bool) {
	if pthread == 0 {
		return 0, false
	}

	if t.known {
		if b, err := r.block(ctx, pthread+t.offset, 4); err == nil {
			if tid := int(i32(b, 0)); tasks[tid] {
				return tid, true
			}
		}
	}

	block, err := r.block(ctx, pthread, pthreadScanSize)
	if err != nil {
		return 0, false
	}
	for off := uint64(0); off+4 <= uint64(len(block)); off += 4 {
		tid := int(i32(block, off))
		if tid > 0 && tasks[tid] {
			t.offset, t.known = off, true
			return tid, true
		}
	}
	return 0, false
}
