package python

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/Mortal/austin/internal/sys/mem"
)

// remote reads typed values out of the target's memory. Both supported
// architectures are little endian.
type remote struct {
	mem mem.Reader
}

func (r remote) block(ctx context.Context, addr, size uint64) ([]byte, error) {
	if addr == 0 {
		return nil, fmt.Errorf("%w: null pointer", mem.ErrFault)
	}
	buf := make([]byte, size)
	if err := r.mem.Read(ctx, addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r remote) ptr(ctx context.Context, addr uint64) (uint64, error) {
	b, err := r.block(ctx, addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func u64(b []byte, off uint64) uint64 {
	return binary.LittleEndian.Uint64(b[off:])
}

func i32(b []byte, off uint64) int32 {
	return int32(binary.LittleEndian.Uint32(b[off:]))
}

func u32(b []byte, off uint64) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}
