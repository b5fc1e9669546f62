package cli

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/Mortal/austin/internal/config"
)

// durationValue is a pflag.Value accepting Go durations ("2ms", "1.5s") or a
// bare integer in a fixed unit.
type durationValue struct {
	d    *time.Duration
	unit string
}

var _ pflag.Value = (*durationValue)(nil)

func newDurationValue(d *time.Duration, unit string) *durationValue {
	return &durationValue{d: d, unit: unit}
}

func (v *durationValue) Set(s string) error {
	d, err := config.ParseDuration(s, v.unit)
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}

func (v *durationValue) String() string {
	if v.d == nil {
		return ""
	}
	return v.d.String()
}

func (v *durationValue) Type() string {
	return "duration"
}

// sizeValue is a pflag.Value for byte counts such as 4096, 64KiB or 1MB.
type sizeValue struct {
	n *uint64
}

var _ pflag.Value = (*sizeValue)(nil)

func (v *sizeValue) Set(s string) error {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return err
	}
	*v.n = n
	return nil
}

func (v *sizeValue) String() string {
	if v.n == nil {
		return ""
	}
	return strconv.FormatUint(*v.n, 10)
}

func (v *sizeValue) Type() string {
	return "size"
}

// flagValues collects the command-line flags before they are laid over the
// file and environment configuration.
type flagValues struct {
	interval     time.Duration
	sleepless    bool
	memory       bool
	full         bool
	heap         uint64
	exposure     time.Duration
	children     bool
	output       string
	pid          int
	timeout      time.Duration
	format       string
	configPath   string
	logLevel     string
	help         bool
	printVersion bool
}

func (f *flagValues) addFlags(flags *pflag.FlagSet) {
	defaults := config.Default()
	f.interval = defaults.Interval
	f.timeout = defaults.Timeout

	flags.VarP(newDurationValue(&f.interval, "us"), "interval", "i",
		"Sampling interval; bare numbers are microseconds (e.g. 100, 2ms)")
	flags.BoolVarP(&f.sleepless, "sleepless", "s", false, "Sample CPU time instead of wall time")
	flags.BoolVarP(&f.memory, "memory", "m", false, "Sample resident memory deltas")
	flags.BoolVarP(&f.full, "full", "f", false, "Sample wall time, CPU time and memory together")
	flags.VarP(&sizeValue{n: &f.heap}, "heap", "h",
		"Heap sampling threshold in bytes (e.g. 64KiB); 0 records every memory delta")
	flags.VarP(newDurationValue(&f.exposure, "s"), "exposure", "x",
		"Only sample for this long after the first sample; bare numbers are seconds")
	flags.BoolVarP(&f.children, "children", "C", false, "Also profile child processes")
	flags.StringVarP(&f.output, "output", "o", "", "Write samples to this file instead of stdout")
	flags.IntVarP(&f.pid, "pid", "p", 0, "Attach to a running Python process")
	flags.VarP(newDurationValue(&f.timeout, "ms"), "timeout", "t",
		"Start-up wait and per-pass read deadline; bare numbers are milliseconds")
	flags.StringVarP(&f.format, "format", "F", string(config.FormatAustin), "Output format (austin, pprof)")
	flags.StringVar(&f.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&f.logLevel, "log-level", "", "Diagnostics level (trace, debug, info, warn, error)")
	// -h is the heap threshold, so help has no shorthand.
	flags.BoolVar(&f.help, "help", false, "Show this help")
	flags.BoolVarP(&f.printVersion, "version", "V", false, "Print the version and exit")
}

// apply overrides cfg with every flag set on the command line.
func (f *flagValues) apply(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("interval") {
		cfg.Interval = f.interval
	}
	switch {
	case f.full:
		cfg.Mode = config.ModeFull
	case f.memory:
		cfg.Mode = config.ModeMemory
	case f.sleepless:
		cfg.Mode = config.ModeCPU
	}
	if flags.Changed("heap") {
		cfg.HeapThreshold = f.heap
	}
	if flags.Changed("exposure") {
		cfg.Exposure = f.exposure
	}
	if flags.Changed("children") {
		cfg.Multiprocess = f.children
	}
	if flags.Changed("output") {
		cfg.OutputPath = f.output
	}
	if flags.Changed("pid") {
		cfg.AttachPID = f.pid
	}
	if flags.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if flags.Changed("format") {
		cfg.Format = config.Format(f.format)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
}
