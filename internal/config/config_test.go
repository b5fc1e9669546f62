package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveInterval(t *testing.T) {
	tests := []struct {
		mode     Mode
		interval time.Duration
		want     time.Duration
	}{
		{ModeWall, time.Millisecond, time.Millisecond},
		{ModeCPU, 100 * time.Microsecond, 100 * time.Microsecond},
		{ModeMemory, time.Millisecond, MemoryIntervalFloor},
		{ModeMemory, 50 * time.Millisecond, 50 * time.Millisecond},
		{ModeFull, time.Millisecond, time.Millisecond},
	}

	for _, tt := range tests {
		cfg := Config{Mode: tt.mode, Interval: tt.interval}
		assert.Equal(t, tt.want, cfg.EffectiveInterval(), "%s/%s", tt.mode, tt.interval)
	}
}

func TestModeMetrics(t *testing.T) {
	assert.True(t, ModeWall.Wall())
	assert.False(t, ModeWall.CPU())
	assert.False(t, ModeWall.Memory())

	assert.True(t, ModeCPU.CPU())
	assert.False(t, ModeCPU.Wall())

	assert.True(t, ModeMemory.Memory())
	assert.False(t, ModeMemory.Wall())

	assert.True(t, ModeFull.Wall())
	assert.True(t, ModeFull.CPU())
	assert.True(t, ModeFull.Memory())
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "python3 -c pass", Config{Command: []string{"python3", "-c", "pass"}}.CommandLine())
	assert.Equal(t, "pid 1234", Config{AttachPID: 1234}.CommandLine())
}
