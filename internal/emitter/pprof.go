package emitter

import (
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/zeebo/xxh3"
	"go.uber.org/multierr"

	"github.com/Mortal/austin/internal/config"
	"github.com/Mortal/austin/internal/python"
	"github.com/Mortal/austin/internal/sampler"
)

// Pprof aggregates samples into a pprof profile written on Finish. Samples
// with the same process, thread and stack are merged.
type Pprof struct {
	mu       sync.Mutex
	w        io.WriteCloser
	prof     *profile.Profile
	mode     config.Mode
	header   bool
	finished bool
	start    time.Time

	functions map[functionKey]*profile.Function
	locations map[python.Frame]*profile.Location
	samples   map[uint64][]*profile.Sample
	key       []byte
}

type functionKey struct {
	name string
	file string
}

// NewPprof returns a pprof emitter writing to w. Finish closes w.
func NewPprof(w io.WriteCloser) *Pprof {
	return &Pprof{
		w:         w,
		functions: make(map[functionKey]*profile.Function),
		locations: make(map[python.Frame]*profile.Location),
		samples:   make(map[uint64][]*profile.Sample),
	}
}

// sampleTypes lists the values of each sample in the order of the mode.
func sampleTypes(mode config.Mode) []*profile.ValueType {
	switch mode {
	case config.ModeCPU:
		return []*profile.ValueType{{Type: "cpu", Unit: "microseconds"}}
	case config.ModeMemory:
		return []*profile.ValueType{{Type: "alloc", Unit: "bytes"}, {Type: "dealloc", Unit: "bytes"}}
	case config.ModeFull:
		return []*profile.ValueType{
			{Type: "wall", Unit: "microseconds"},
			{Type: "cpu", Unit: "microseconds"},
			{Type: "alloc", Unit: "bytes"},
			{Type: "dealloc", Unit: "bytes"},
		}
	default:
		return []*profile.ValueType{{Type: "wall", Unit: "microseconds"}}
	}
}

func sampleValues(m sampler.Metrics, mode config.Mode) []int64 {
	wall := m.Wall.Microseconds()
	cpu := m.CPU.Microseconds()
	alloc := int64(m.Alloc)
	dealloc := int64(m.Dealloc)

	switch mode {
	case config.ModeCPU:
		return []int64{cpu}
	case config.ModeMemory:
		return []int64{alloc, dealloc}
	case config.ModeFull:
		return []int64{wall, cpu, alloc, dealloc}
	default:
		return []int64{wall}
	}
}

// Header starts the profile. The metadata goes into its comments.
func (p *Pprof) Header(m Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return ErrFinished
	}
	if p.header {
		return ErrHeaderWritten
	}
	p.header = true
	p.mode = m.Mode
	p.start = time.Now()

	types := sampleTypes(m.Mode)
	p.prof = &profile.Profile{
		SampleType:        types,
		DefaultSampleType: types[0].Type,
		PeriodType:        &profile.ValueType{Type: "wall", Unit: "microseconds"},
		Period:            m.Interval.Microseconds(),
		TimeNanos:         p.start.UnixNano(),
		Comments: []string{
			"austin: " + m.Version,
			"mode: " + string(m.Mode),
			"multiprocess: " + onOff(m.Multiprocess),
			"python: " + m.Python,
			"command: " + m.Command,
		},
	}
	return nil
}

// Emit merges s into the profile.
func (p *Pprof) Emit(s sampler.Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return ErrFinished
	}
	if !p.header {
		return ErrNoHeader
	}

	locs := make([]*profile.Location, 0, len(s.Frames))
	for _, f := range s.Frames {
		locs = append(locs, p.location(f))
	}

	key := p.stackKey(s, locs)
	values := sampleValues(s.Metrics, p.mode)
	for _, existing := range p.samples[key] {
		if sameStack(existing, s, locs) {
			for i, v := range values {
				existing.Value[i] += v
			}
			return nil
		}
	}

	ps := &profile.Sample{
		Location: locs,
		Value:    values,
		NumLabel: map[string][]int64{
			"pid": {int64(s.PID)},
			"iid": {s.IID},
			"tid": {int64(s.TID)},
		},
	}
	p.samples[key] = append(p.samples[key], ps)
	p.prof.Sample = append(p.prof.Sample, ps)
	return nil
}

func (p *Pprof) stackKey(s sampler.Sample, locs []*profile.Location) uint64 {
	b := p.key[:0]
	b = binary.AppendVarint(b, int64(s.PID))
	b = binary.AppendVarint(b, s.IID)
	b = binary.AppendVarint(b, int64(s.TID))
	for _, l := range locs {
		b = binary.AppendUvarint(b, l.ID)
	}
	p.key = b
	return xxh3.Hash(b)
}

func sameStack(ps *profile.Sample, s sampler.Sample, locs []*profile.Location) bool {
	return ps.NumLabel["pid"][0] == int64(s.PID) &&
		ps.NumLabel["iid"][0] == s.IID &&
		ps.NumLabel["tid"][0] == int64(s.TID) &&
		slices.Equal(ps.Location, locs)
}

func (p *Pprof) location(f python.Frame) *profile.Location {
	if loc, ok := p.locations[f]; ok {
		return loc
	}

	fk := functionKey{name: f.Function, file: f.File}
	fn, ok := p.functions[fk]
	if !ok {
		fn = &profile.Function{
			ID:         uint64(len(p.prof.Function) + 1),
			Name:       f.Function,
			SystemName: f.Function,
			Filename:   f.File,
		}
		p.functions[fk] = fn
		p.prof.Function = append(p.prof.Function, fn)
	}

	loc := &profile.Location{
		ID:   uint64(len(p.prof.Location) + 1),
		Line: []profile.Line{{Function: fn, Line: int64(f.Line)}},
	}
	p.locations[f] = loc
	p.prof.Location = append(p.prof.Location, loc)
	return loc
}

// Close discards the aggregated samples and closes the destination.
func (p *Pprof) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return nil
	}
	p.finished = true
	return p.w.Close()
}

// Finish validates the profile, writes it gzipped and closes the destination.
func (p *Pprof) Finish(tr Trailer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return ErrFinished
	}
	p.finished = true

	if p.prof == nil {
		return multierr.Append(ErrNoHeader, p.w.Close())
	}

	st := tr.Stats
	p.prof.DurationNanos = tr.Duration.Nanoseconds()
	p.prof.Comments = append(p.prof.Comments,
		fmt.Sprintf("duration: %d", tr.Duration.Microseconds()),
		fmt.Sprintf("sampling: %d,%d,%d", st.Min.Microseconds(), st.Avg.Microseconds(), st.Max.Microseconds()),
		fmt.Sprintf("saturation: %d/%d", st.Saturated, st.Ticks),
		fmt.Sprintf("errors: %d/%d", st.Errors, st.Attempts),
	)

	var err error
	if verr := p.prof.CheckValid(); verr != nil {
		err = fmt.Errorf("invalid profile: %w", verr)
	} else {
		err = p.prof.Write(p.w)
	}
	return multierr.Append(err, p.w.Close())
}
