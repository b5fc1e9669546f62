package python

import "errors"

var (
	// ErrUnsupportedVersion is returned for interpreters whose memory layout
	// is not known.
	ErrUnsupportedVersion = errors.New("unsupported python version")
	// ErrNoRuntime is returned when no interpreter runtime state can be found
	// in the target, either because it is not a CPython process or because
	// the interpreter has not finished initialising.
	ErrNoRuntime = errors.New("python runtime state not found")
	// ErrPartialStack is returned along with the frames read so far when a
	// frame chain could not be followed to its end.
	ErrPartialStack = errors.New("partial stack")
	// ErrNotInterpreter is returned for processes without a CPython binary
	// mapped in memory.
	ErrNotInterpreter = errors.New("not a python process")
)
