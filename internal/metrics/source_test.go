//go:build linux

package metrics

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Mortal/austin/internal/sys/proc"
)

func TestSource_Self(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pfs, err := proc.New()
	require.NoError(t, err)
	s := NewSource(pfs, os.Getpid())

	tid := unix.Gettid()

	before, err := s.ThreadCPU(tid)
	require.NoError(t, err)
	x := 0
	for i := 0; i < 50_000_000; i++ {
		x += i
	}
	_ = x
	after, err := s.ThreadCPU(tid)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after, before)

	running, err := s.ThreadRunning(tid)
	require.NoError(t, err)
	assert.True(t, running)

	rss, err := s.ResidentBytes()
	require.NoError(t, err)
	assert.Positive(t, rss)
}

func TestSource_Gone(t *testing.T) {
	pfs, err := proc.New()
	require.NoError(t, err)
	s := NewSource(pfs, 1<<30)

	_, err = s.ThreadCPU(1 << 30)
	assert.True(t, proc.Gone(err))
	_, err = s.ThreadRunning(1 << 30)
	assert.True(t, proc.Gone(err))
	_, err = s.ResidentBytes()
	assert.True(t, proc.Gone(err))
}
