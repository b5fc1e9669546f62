package config

import (
	"fmt"

	"go.uber.org/multierr"
)

// FieldError reports a configuration value that cannot be used.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func check(errs *error, ok bool, field, reason string) {
	if !ok {
		*errs = multierr.Append(*errs, &FieldError{Field: field, Reason: reason})
	}
}

// Validate checks the configuration before a run starts. Every problem is
// reported; multierr.Errors splits the result into *FieldError values.
func (c Config) Validate() error {
	var errs error

	check(&errs, c.Mode.Valid(), "mode", "must be one of wall, cpu, memory, full")
	check(&errs, c.Interval > 0, "interval", "must be positive")
	check(&errs, c.Exposure >= 0, "exposure", "must not be negative")
	check(&errs, c.Timeout > 0, "timeout", "must be positive")
	check(&errs, c.Format.Valid(), "format", "must be austin or pprof")
	check(&errs, c.Format != FormatPprof || c.OutputPath != "", "output", "pprof output requires a file")

	check(&errs, c.AttachPID >= 0, "pid", "must be positive")
	if c.AttachPID >= 0 {
		check(&errs, c.AttachPID == 0 || len(c.Command) == 0, "command", "cannot be given together with a pid")
		check(&errs, c.AttachPID > 0 || len(c.Command) > 0, "command", "nothing to profile")
	}

	return errs
}
