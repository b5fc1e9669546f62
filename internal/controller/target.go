package controller

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mortal/austin/internal/metrics"
	"github.com/Mortal/austin/internal/python"
	"github.com/Mortal/austin/internal/sampler"
	"github.com/Mortal/austin/internal/sys/mem"
	"github.com/Mortal/austin/internal/sys/proc"
	"github.com/Mortal/austin/internal/tracker"
)

// Target bundles what a sampler loop reads one process through.
type Target struct {
	Reader  sampler.StackReader
	Metrics sampler.MetricSource
	// Python is the interpreter version, e.g. 3.12.4.
	Python string

	closer io.Closer
}

// Close releases the memory reader of the target.
func (t *Target) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// Opener prepares a tracked process for sampling.
type Opener interface {
	Open(ctx context.Context, rec tracker.ProcessRecord) (*Target, error)
}

// HostOpener opens processes of the local host.
type HostOpener struct {
	pfs     *proc.FS
	timeout time.Duration
	logger  zerolog.Logger
}

// NewHostOpener returns an opener that waits up to timeout for a fresh
// interpreter to come up.
func NewHostOpener(pfs *proc.FS, timeout time.Duration, logger zerolog.Logger) *HostOpener {
	return &HostOpener{pfs: pfs, timeout: timeout, logger: logger}
}

// Open locates the interpreter of rec and sets up its metric source.
func (o *HostOpener) Open(ctx context.Context, rec tracker.ProcessRecord) (*Target, error) {
	mr := mem.NewProcessReader(rec.PID)
	reader, err := python.Open(ctx, rec.PID, o.pfs, mr, python.Options{
		Logger:         o.logger,
		StartupTimeout: o.timeout,
	})
	if err != nil {
		_ = mr.Close()
		return nil, err
	}

	return &Target{
		Reader:  reader,
		Metrics: metrics.NewSource(o.pfs, rec.PID),
		Python:  reader.Version().String(),
		closer:  mr,
	}, nil
}
