package sampler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mortal/austin/internal/python"
)

func TestWindow(t *testing.T) {
	w := NewWindow(time.Second)
	_, ok := w.End()
	assert.False(t, ok)

	t0 := time.Unix(1000, 0)
	assert.True(t, w.Admit(t0.Add(time.Hour)))
	assert.True(t, w.Admit(t0.Add(time.Hour+999*time.Millisecond)))
	assert.False(t, w.Admit(t0.Add(time.Hour+time.Second)))

	end, ok := w.End()
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour+time.Second), end)
}

func TestWindow_Unbounded(t *testing.T) {
	w := NewWindow(0)
	assert.True(t, w.Admit(time.Unix(0, 0)))
	assert.True(t, w.Admit(time.Unix(1<<30, 0)))
	_, ok := w.End()
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	s := NewStats()
	assert.Equal(t, StatsSnapshot{}, s.Snapshot())

	s.recordTick(2*time.Millisecond, 5*time.Millisecond)
	s.recordTick(8*time.Millisecond, 5*time.Millisecond)
	s.recordTick(5*time.Millisecond, 5*time.Millisecond)
	s.recordRead(true)
	s.recordRead(false)
	s.recordSample()

	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap.Ticks)
	assert.Equal(t, uint64(1), snap.Saturated)
	assert.Equal(t, 2*time.Millisecond, snap.Min)
	assert.Equal(t, 5*time.Millisecond, snap.Avg)
	assert.Equal(t, 8*time.Millisecond, snap.Max)
	assert.Equal(t, uint64(2), snap.Attempts)
	assert.Equal(t, uint64(1), snap.Errors)
	assert.Equal(t, uint64(1), snap.Samples)
}

func TestFilterFrames(t *testing.T) {
	frames := []python.Frame{
		{File: "<frozen importlib._bootstrap>", Function: "_find_and_load", Line: 1},
		{File: "app.py", Function: "main", Line: 2},
		{File: "<frozen importlib._bootstrap_external>", Function: "exec_module", Line: 3},
		{File: "<frozen runpy>", Function: "_run_code", Line: 4},
		{File: "<frozen zipimport>", Function: "load", Line: 5},
	}

	assert.Equal(t, []python.Frame{
		{File: "app.py", Function: "main", Line: 2},
		{File: "<frozen zipimport>", Function: "load", Line: 5},
	}, filterFrames(frames))
	assert.Empty(t, filterFrames(nil))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "paused", StatePaused.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
