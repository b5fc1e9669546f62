// Package config holds the run configuration of the profiler and the layered
// sources it is assembled from: defaults, a YAML file, AUSTIN_* environment
// variables and finally command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which metrics each sample carries.
type Mode string

const (
	ModeWall   Mode = "wall"
	ModeCPU    Mode = "cpu"
	ModeMemory Mode = "memory"
	ModeFull   Mode = "full"
)

// Format selects the output encoding.
type Format string

const (
	FormatAustin Format = "austin"
	FormatPprof  Format = "pprof"
)

const (
	// DefaultInterval matches the classic 100µs sampling interval.
	DefaultInterval = 100 * time.Microsecond
	// DefaultTimeout bounds both the interpreter start-up wait and a single
	// sampling pass.
	DefaultTimeout = time.Second
	// MemoryIntervalFloor is the shortest interval used in memory mode, where
	// resident set changes are too coarse for finer sampling.
	MemoryIntervalFloor = 10 * time.Millisecond
)

// Config is the immutable configuration of one profiling run. It is passed by
// value from the controller down to every sampler loop.
type Config struct {
	Mode     Mode          `yaml:"mode" env:"AUSTIN_MODE"`
	Interval time.Duration `yaml:"interval" env:"AUSTIN_INTERVAL" unit:"us"`
	// HeapThreshold is the Poisson sampling threshold for memory deltas, in
	// bytes. Zero records every delta exactly.
	HeapThreshold uint64        `yaml:"heap" env:"AUSTIN_HEAP" unit:"bytes"`
	Exposure      time.Duration `yaml:"exposure" env:"AUSTIN_EXPOSURE" unit:"s"`
	Multiprocess  bool          `yaml:"children" env:"AUSTIN_CHILDREN"`
	OutputPath    string        `yaml:"output" env:"AUSTIN_OUTPUT"`
	Format        Format        `yaml:"format" env:"AUSTIN_FORMAT"`
	Timeout       time.Duration `yaml:"timeout" env:"AUSTIN_TIMEOUT" unit:"ms"`
	LogLevel      string        `yaml:"log_level" env:"AUSTIN_LOG_LEVEL"`

	// AttachPID and Command are only taken from the command line.
	AttachPID int      `yaml:"-"`
	Command   []string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Mode:     ModeWall,
		Interval: DefaultInterval,
		Format:   FormatAustin,
		Timeout:  DefaultTimeout,
		LogLevel: "warn",
	}
}

// EffectiveInterval is the interval the sampler loops actually tick at.
func (c Config) EffectiveInterval() time.Duration {
	if c.Mode == ModeMemory && c.Interval < MemoryIntervalFloor {
		return MemoryIntervalFloor
	}
	return c.Interval
}

// Attach reports whether the run attaches to an existing process instead of
// spawning one.
func (c Config) Attach() bool {
	return c.AttachPID > 0
}

// CommandLine renders the target command for the metadata header.
func (c Config) CommandLine() string {
	if c.Attach() {
		return fmt.Sprintf("pid %d", c.AttachPID)
	}
	return strings.Join(c.Command, " ")
}

// Wall reports whether samples carry a wall-clock delta.
func (m Mode) Wall() bool { return m == ModeWall || m == ModeFull }

// CPU reports whether samples carry a CPU-time delta.
func (m Mode) CPU() bool { return m == ModeCPU || m == ModeFull }

// Memory reports whether samples carry allocation and deallocation deltas.
func (m Mode) Memory() bool { return m == ModeMemory || m == ModeFull }

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeWall, ModeCPU, ModeMemory, ModeFull:
		return true
	}
	return false
}

// Valid reports whether f is a known output format.
func (f Format) Valid() bool {
	return f == FormatAustin || f == FormatPprof
}
