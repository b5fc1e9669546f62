// Package emitter serializes samples, either as the line-oriented austin
// text protocol or as an aggregated pprof profile.
package emitter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/Mortal/austin/internal/config"
	"github.com/Mortal/austin/internal/sampler"
)

var (
	// ErrHeaderWritten is returned by a second call to Header.
	ErrHeaderWritten = errors.New("metadata header already written")
	// ErrNoHeader is returned by Emit before Header.
	ErrNoHeader = errors.New("metadata header not written")
	// ErrFinished is returned by every call after Finish.
	ErrFinished = errors.New("emitter finished")
)

// Metadata describes the run. It is written once, before any sample.
type Metadata struct {
	Version      string
	Interval     time.Duration
	Mode         config.Mode
	Multiprocess bool
	Python       string
	Command      string
}

// Trailer carries what is only known at the end of the run.
type Trailer struct {
	Duration time.Duration
	Stats    sampler.StatsSnapshot
}

// Emitter is the sink of a run. Emit may be called from several goroutines.
type Emitter interface {
	sampler.Sink
	Header(Metadata) error
	Finish(Trailer) error
	// Close releases the destination without writing a trailer, for runs
	// that fail before sampling starts. It is a no-op after Finish.
	Close() error
}

// Open creates the emitter for format writing to path, or to stdout when
// path is empty.
func Open(fs afero.Fs, path string, format config.Format, stdout io.Writer) (Emitter, error) {
	w, err := openDestination(fs, path, stdout)
	if err != nil {
		return nil, err
	}

	switch format {
	case config.FormatPprof:
		return NewPprof(w), nil
	case config.FormatAustin, "":
		return NewText(w), nil
	}
	_ = w.Close()
	return nil, fmt.Errorf("unknown output format %q", format)
}

func openDestination(fs afero.Fs, path string, stdout io.Writer) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{stdout}, nil
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
