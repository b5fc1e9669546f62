//go:build linux

package mem

import (
	"context"
	"errors"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addressOf(b []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func TestProcessReader_Self(t *testing.T) {
	src := []byte("_PyRuntime lives here")
	r := NewProcessReader(os.Getpid())
	defer r.Close() // nolint:errcheck

	buf := make([]byte, len(src))
	require.NoError(t, r.Read(context.Background(), addressOf(src), buf))
	assert.Equal(t, src, buf)
}

func TestProcessReader_EmptyBuffer(t *testing.T) {
	r := NewProcessReader(os.Getpid())
	assert.NoError(t, r.Read(context.Background(), 0, nil))
}

func TestProcessReader_Unmapped(t *testing.T) {
	r := NewProcessReader(os.Getpid())
	defer r.Close() // nolint:errcheck

	err := r.Read(context.Background(), 8, make([]byte, 8))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFault), "got %v", err)
	assert.True(t, IsTransient(err))
}

func TestProcessReader_Gone(t *testing.T) {
	// Above the default pid_max, so never a live process.
	r := NewProcessReader(1 << 30)
	defer r.Close() // nolint:errcheck

	err := r.Read(context.Background(), 0x1000, make([]byte, 8))
	assert.ErrorIs(t, err, ErrProcessGone)
	assert.False(t, IsTransient(err))
}

func TestProcessReader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := []byte{1, 2, 3}
	r := NewProcessReader(os.Getpid())
	err := r.Read(ctx, addressOf(src), make([]byte, 3))
	assert.ErrorIs(t, err, context.Canceled)
}
