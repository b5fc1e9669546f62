package emitter

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"

	"go.uber.org/multierr"

	"github.com/Mortal/austin/internal/config"
	"github.com/Mortal/austin/internal/sampler"
)

// Text writes the austin text protocol. Every record is flushed as soon as
// its line is complete, so a reader of a live stream never sees a partial
// line.
type Text struct {
	mu       sync.Mutex
	w        *bufio.Writer
	closer   io.Closer
	mode     config.Mode
	header   bool
	finished bool
	line     []byte
}

// NewText returns a text emitter writing to w. Finish closes w.
func NewText(w io.WriteCloser) *Text {
	return &Text{
		w:      bufio.NewWriter(w),
		closer: w,
	}
}

// Header writes the metadata block.
func (t *Text) Header(m Metadata) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return ErrFinished
	}
	if t.header {
		return ErrHeaderWritten
	}
	t.header = true
	t.mode = m.Mode

	fields := [][2]string{
		{"austin", m.Version},
		{"interval", strconv.FormatInt(m.Interval.Microseconds(), 10)},
		{"mode", string(m.Mode)},
		{"multiprocess", onOff(m.Multiprocess)},
		{"python", m.Python},
		{"command", m.Command},
	}
	for _, f := range fields {
		if err := t.writeMeta(f[0], f[1]); err != nil {
			return err
		}
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	return t.w.Flush()
}

// Emit writes one sample line.
func (t *Text) Emit(s sampler.Sample) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return ErrFinished
	}
	if !t.header {
		return ErrNoHeader
	}

	t.line = appendSample(t.line[:0], s, t.mode)
	t.line = append(t.line, '\n')
	if _, err := t.w.Write(t.line); err != nil {
		return err
	}
	return t.w.Flush()
}

// Finish writes the trailer, flushes and closes the destination.
func (t *Text) Finish(tr Trailer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return ErrFinished
	}
	t.finished = true

	st := tr.Stats
	var err error
	err = multierr.Append(err, t.w.WriteByte('\n'))
	err = multierr.Append(err, t.writeMeta("duration", strconv.FormatInt(tr.Duration.Microseconds(), 10)))
	err = multierr.Append(err, t.writeMeta("sampling", fmt.Sprintf("%d,%d,%d",
		st.Min.Microseconds(), st.Avg.Microseconds(), st.Max.Microseconds())))
	err = multierr.Append(err, t.writeMeta("saturation", fmt.Sprintf("%d/%d", st.Saturated, st.Ticks)))
	err = multierr.Append(err, t.writeMeta("errors", fmt.Sprintf("%d/%d", st.Errors, st.Attempts)))
	err = multierr.Append(err, t.w.Flush())
	return multierr.Append(err, t.closer.Close())
}

// Close flushes what was written and closes the destination.
func (t *Text) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return nil
	}
	t.finished = true
	return multierr.Append(t.w.Flush(), t.closer.Close())
}

func (t *Text) writeMeta(key, value string) error {
	_, err := fmt.Fprintf(t.w, "# %s: %s\n", key, value)
	return err
}

// appendSample renders P<pid>;T<iid>:<tid>;<frames> <metrics>, frames
// outermost first.
func appendSample(b []byte, s sampler.Sample, mode config.Mode) []byte {
	b = append(b, 'P')
	b = strconv.AppendInt(b, int64(s.PID), 10)
	b = append(b, ";T"...)
	b = strconv.AppendInt(b, s.IID, 10)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(s.TID), 10)

	for i := len(s.Frames) - 1; i >= 0; i-- {
		f := s.Frames[i]
		b = append(b, ';')
		b = append(b, f.File...)
		b = append(b, ':')
		b = append(b, f.Function...)
		b = append(b, ':')
		b = strconv.AppendInt(b, int64(f.Line), 10)
	}

	b = append(b, ' ')
	return appendMetrics(b, s.Metrics, mode)
}

func appendMetrics(b []byte, m sampler.Metrics, mode config.Mode) []byte {
	switch mode {
	case config.ModeCPU:
		return strconv.AppendInt(b, m.CPU.Microseconds(), 10)
	case config.ModeMemory:
		return strconv.AppendInt(b, m.Memory(), 10)
	case config.ModeFull:
		b = strconv.AppendInt(b, m.Wall.Microseconds(), 10)
		b = append(b, ',')
		b = strconv.AppendInt(b, m.CPU.Microseconds(), 10)
		b = append(b, ',')
		b = strconv.AppendUint(b, m.Alloc, 10)
		b = append(b, ',')
		if m.Dealloc > 0 {
			b = append(b, '-')
		}
		return strconv.AppendUint(b, m.Dealloc, 10)
	default:
		return strconv.AppendInt(b, m.Wall.Microseconds(), 10)
	}
}
