// Package controller runs one profiling session: it starts or attaches to the
// target, writes the metadata header, keeps one sampler loop per tracked
// process and finishes the output once the target is gone.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/Mortal/austin/internal/config"
	"github.com/Mortal/austin/internal/emitter"
	cleanup "github.com/Mortal/austin/internal/errors"
	"github.com/Mortal/austin/internal/privilege"
	"github.com/Mortal/austin/internal/runtime"
	"github.com/Mortal/austin/internal/sampler"
	"github.com/Mortal/austin/internal/sys/mem"
	"github.com/Mortal/austin/internal/sys/proc"
	"github.com/Mortal/austin/internal/tracker"
	"github.com/Mortal/austin/pkg/version"
)

// Options are the collaborators of a Controller. Nil fields select the host
// implementations and the standard streams.
type Options struct {
	// Fs is where the output file is created.
	Fs     afero.Fs
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Tracker *tracker.Tracker
	Opener  Opener

	// Signals received here stop the run and are forwarded to a spawned
	// target.
	Signals <-chan os.Signal
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Controller owns the lifecycle of a run.
type Controller struct {
	cfg     config.Config
	fs      afero.Fs
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	tracker *tracker.Tracker
	opener  Opener
	signals <-chan os.Signal
	logger  zerolog.Logger
	now     func() time.Time

	window    *sampler.Window
	stats     *sampler.Stats
	heapSeed  uint64
	sink      emitter.Emitter
	processes atomic.Int64

	mu        sync.Mutex
	loops     map[int]context.CancelFunc
	failure   error
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// New validates cfg and builds a controller.
func New(cfg config.Config, opts Options) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:     cfg,
		fs:      opts.Fs,
		stdin:   opts.Stdin,
		stdout:  opts.Stdout,
		stderr:  opts.Stderr,
		tracker: opts.Tracker,
		opener:  opts.Opener,
		signals: opts.Signals,
		logger:  opts.Logger.With().Str("component", "controller").Logger(),
		now:     opts.Now,
		window:  sampler.NewWindow(cfg.Exposure),
		stats:   sampler.NewStats(),
		loops:   make(map[int]context.CancelFunc),
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.stdin == nil {
		c.stdin = os.Stdin
	}
	if c.stdout == nil {
		c.stdout = os.Stdout
	}
	if c.stderr == nil {
		c.stderr = os.Stderr
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.heapSeed = uint64(c.now().UnixNano())

	if c.tracker == nil || c.opener == nil {
		pfs, err := proc.New()
		if err != nil {
			return nil, err
		}
		if c.tracker == nil {
			table := tracker.NewHostTable(pfs)
			c.tracker = tracker.New(cfg, tracker.Options{
				Table:  table,
				Source: tracker.NewScanSource(table, tracker.DefaultPollInterval, opts.Logger),
				Logger: opts.Logger,
			})
		}
		if c.opener == nil {
			c.opener = NewHostOpener(pfs, cfg.Timeout, opts.Logger)
		}
	}

	return c, nil
}

// Run profiles the target until it exits, ctx is cancelled or a signal
// arrives. Failures of child processes are logged and do not fail the run.
func (c *Controller) Run(ctx context.Context) (err error) {
	sink, err := emitter.Open(c.fs, c.cfg.OutputPath, c.cfg.Format, c.stdout)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	c.sink = sink

	root, err := c.tracker.Start(ctx, c.launchSpec())
	if err != nil {
		return multierr.Append(fmt.Errorf("failed to start target: %w", err), sink.Close())
	}
	defer c.tracker.Stop()

	target, err := c.opener.Open(ctx, *root)
	if err != nil {
		return multierr.Append(c.rootError(root.PID, err), sink.Close())
	}

	err = sink.Header(emitter.Metadata{
		Version:      version.Version,
		Interval:     c.cfg.EffectiveInterval(),
		Mode:         c.cfg.Mode,
		Multiprocess: c.cfg.Multiprocess,
		Python:       target.Python,
		Command:      c.headerCommand(*root),
	})
	if err != nil {
		return multierr.Append(fmt.Errorf("failed to write header: %w", err), cleanup.CloseAll(target, sink))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()
	go c.forwardSignals(runCtx, cancel)

	start := c.now()
	c.logger.Info().
		Int("pid", root.PID).
		Str("python", target.Python).
		Str("mode", string(c.cfg.Mode)).
		Dur("interval", c.cfg.EffectiveInterval()).
		Msg("Sampling started")

	c.startLoop(runCtx, *root, target)

	trackErr := c.tracker.Run(runCtx, func(changes tracker.Changes) error {
		for _, rec := range changes.Exited {
			c.stopLoop(rec.PID)
		}
		for _, rec := range changes.Discovered {
			c.logger.Info().Str("process", rec.String()).Msg("Tracking child process")
			c.startLoop(runCtx, rec, nil)
		}
		return nil
	})
	if trackErr != nil && !errors.Is(trackErr, context.Canceled) {
		err = multierr.Append(err, fmt.Errorf("process tracking failed: %w", trackErr))
	}
	if code := c.tracker.ExitCode(); code >= 0 {
		c.logger.Info().Int("pid", root.PID).Int("exit_code", code).Msg("Target exited")
	}

	cancel()
	c.wg.Wait()
	end := c.now()

	c.mu.Lock()
	err = multierr.Append(err, c.failure)
	c.mu.Unlock()

	duration := c.duration(start, end)
	snapshot := c.stats.Snapshot()
	if ferr := sink.Finish(emitter.Trailer{Duration: duration, Stats: snapshot}); ferr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to finish output: %w", ferr))
	}

	if c.cfg.OutputPath != "" {
		if oerr := privilege.HandBack(c.fs, c.cfg.OutputPath); oerr != nil {
			c.logger.Warn().Err(oerr).Str("path", c.cfg.OutputPath).Msg("Failed to fix output ownership")
		}
	}

	if c.cfg.LogLevel != "error" {
		c.printSummary(duration, snapshot)
	}

	return err
}

func (c *Controller) launchSpec() tracker.LaunchSpec {
	spec := tracker.LaunchSpec{
		Command:   c.cfg.Command,
		AttachPID: c.cfg.AttachPID,
		Stdin:     c.stdin,
		Stderr:    c.stderr,
	}
	// Samples on stdout must not mix with the target's output.
	if c.cfg.OutputPath != "" {
		spec.Stdout = c.stdout
	}
	return spec
}

// headerCommand prefers the command line read from the root process, which
// is all an attach run knows about its target.
func (c *Controller) headerCommand(root tracker.ProcessRecord) string {
	if root.Command != "" {
		return root.Command
	}
	return c.cfg.CommandLine()
}

// rootError explains why the root process could not be opened.
func (c *Controller) rootError(pid int, err error) error {
	exited := errors.Is(err, mem.ErrProcessGone)
	if done := c.tracker.RootExited(); done != nil {
		select {
		case <-done:
			exited = true
		default:
		}
	}
	if exited {
		return fmt.Errorf("%w before it could be sampled (pid %d): %w", tracker.ErrRootExited, pid, err)
	}

	err = fmt.Errorf("failed to attach to pid %d: %w", pid, err)
	if errors.Is(err, mem.ErrPermission) {
		perms, perr := runtime.DetectAttachPermissions()
		if perr != nil {
			c.logger.Debug().Err(perr).Msg("Failed to detect attach permissions")
		} else if hint := perms.Hint(!c.cfg.Attach()); hint != "" {
			err = fmt.Errorf("%w (%s)", err, hint)
		}
	}
	return err
}

// startLoop samples rec in its own goroutine. A nil target is opened there,
// so that a slow child does not hold up tracking.
func (c *Controller) startLoop(ctx context.Context, rec tracker.ProcessRecord, target *Target) {
	loopCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.loops[rec.PID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.stopLoop(rec.PID)

		if target == nil {
			var err error
			target, err = c.opener.Open(loopCtx, rec)
			if err != nil {
				c.dropProcess(rec, err)
				return
			}
		}
		defer cleanup.DeferClose(c.logger, target, "Failed to close target")

		loop := sampler.New(c.cfg, rec.PID, sampler.Options{
			Reader:   target.Reader,
			Metrics:  target.Metrics,
			Sink:     c.sink,
			Window:   c.window,
			Stats:    c.stats,
			Logger:   c.logger,
			Now:      c.now,
			HeapSeed: c.heapSeed,
		})
		if err := loop.Attach(); err != nil {
			c.dropProcess(rec, err)
			return
		}
		c.processes.Add(1)

		if err := loop.Run(loopCtx); err != nil {
			c.fail(fmt.Errorf("sampling of pid %d failed: %w", rec.PID, err))
		}
	}()
}

func (c *Controller) stopLoop(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.loops[pid]; ok {
		cancel()
		delete(c.loops, pid)
	}
}

// dropProcess gives up on one process. Processes that vanished in the
// meantime are expected and not worth a warning.
func (c *Controller) dropProcess(rec tracker.ProcessRecord, err error) {
	if errors.Is(err, mem.ErrProcessGone) || proc.Gone(err) || errors.Is(err, context.Canceled) {
		c.logger.Debug().Err(err).Int("pid", rec.PID).Msg("Process gone before sampling")
		return
	}
	c.logger.Warn().Err(err).Str("process", rec.String()).Msg("Dropping process")
}

// fail records a run-level error and stops the run.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = multierr.Append(c.failure, err)
	if c.cancelRun != nil {
		c.cancelRun()
	}
}

func (c *Controller) forwardSignals(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-c.signals:
			if !ok {
				return
			}
			c.logger.Info().Str("signal", sig.String()).Msg("Received signal - stopping")
			if err := c.tracker.Signal(sig); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to forward signal")
			}
			cancel()
		}
	}
}

// duration is the sampled time span, cut at the end of the exposure window.
func (c *Controller) duration(start, end time.Time) time.Duration {
	if closes, ok := c.window.End(); ok && closes.Before(end) {
		end = closes
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
