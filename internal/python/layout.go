package python

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// lineFormat selects the decoder for the line number table of code objects.
type lineFormat int

const (
	// lineFormatLnotab is co_lnotab, with byte offsets (3.8, 3.9).
	lineFormatLnotab lineFormat = iota
	// lineFormatLinetable is the 3.10 co_linetable.
	lineFormatLinetable
	// lineFormatLocations is the 3.11+ location table.
	lineFormatLocations
)

// frameKind tells frame objects (3.8 - 3.10) from interpreter frames.
type frameKind int

const (
	frameKindObject frameKind = iota
	frameKindInterpreter
)

// ownerCStack is the smallest frame owner value marking shim frames that
// belong to the C stack rather than to Python code.
const ownerCStack = 3

// Layout holds the field offsets of the interpreter structures walked by the
// Reader. All offsets are in bytes.
type Layout struct {
	Runtime struct {
		InterpretersHead uint64
	}

	Interp struct {
		Next        uint64
		ID          uint64
		ThreadsHead uint64
	}

	Thread struct {
		Size           uint64
		Next           uint64
		ThreadID       uint64
		NativeThreadID uint64
		HasNativeTID   bool
		// Frame is the frame pointer of the thread. When HasCFrame is set it
		// points to a _PyCFrame that holds the frame at CFrameCurrent.
		Frame         uint64
		HasCFrame     bool
		CFrameCurrent uint64
	}

	Frame struct {
		Kind     frameKind
		Size     uint64
		Previous uint64
		Code     uint64
		// LastI is the int f_lasti of frame objects.
		LastI uint64
		// InstrPtr is prev_instr (3.11, 3.12) or instr_ptr (3.13+).
		InstrPtr uint64
		Owner    uint64
		HasOwner bool
		// TaggedCode is set when the code reference carries tag bits.
		TaggedCode bool
	}

	Code struct {
		Size         uint64
		Filename     uint64
		Name         uint64
		FirstLineno  uint64
		LineTable    uint64
		CodeAdaptive uint64
	}

	Unicode struct {
		Length      uint64
		State       uint64
		ASCIIData   uint64
		CompactData uint64
	}

	Bytes struct {
		Size uint64
		Data uint64
	}

	Lines lineFormat
}

// span returns the smallest block size covering every given field offset.
func span(offsets ...uint64) uint64 {
	var m uint64
	for _, o := range offsets {
		if o+8 > m {
			m = o + 8
		}
	}
	return m
}

func layout38() *Layout {
	l := &Layout{}
	l.Runtime.InterpretersHead = 32

	l.Interp.Next = 0
	l.Interp.ThreadsHead = 8
	l.Interp.ID = 16

	l.Thread.Next = 8
	l.Thread.Frame = 24
	l.Thread.ThreadID = 176
	l.Thread.Size = span(l.Thread.Next, l.Thread.Frame, l.Thread.ThreadID)

	l.Frame.Kind = frameKindObject
	l.Frame.Previous = 24
	l.Frame.Code = 32
	l.Frame.LastI = 104
	l.Frame.Size = span(l.Frame.Previous, l.Frame.Code, l.Frame.LastI)

	l.Code.FirstLineno = 40
	l.Code.Filename = 104
	l.Code.Name = 112
	l.Code.LineTable = 120
	l.Code.Size = span(l.Code.FirstLineno, l.Code.Filename, l.Code.Name, l.Code.LineTable)

	l.Unicode.Length = 16
	l.Unicode.State = 32
	l.Unicode.ASCIIData = 48
	l.Unicode.CompactData = 72

	l.Bytes.Size = 16
	l.Bytes.Data = 32

	l.Lines = lineFormatLnotab
	return l
}

func layout39() *Layout {
	l := layout38()
	// The runtime back-pointer moved the id one word down.
	l.Interp.ID = 24
	return l
}

func layout310() *Layout {
	l := layout39()
	l.Frame.LastI = 96
	l.Frame.Size = span(l.Frame.Previous, l.Frame.Code, l.Frame.LastI)
	l.Lines = lineFormatLinetable
	return l
}

func layout311() *Layout {
	l := layout310()
	l.Runtime.InterpretersHead = 40

	l.Interp.ThreadsHead = 16
	l.Interp.ID = 48

	l.Thread.Frame = 56
	l.Thread.HasCFrame = true
	l.Thread.CFrameCurrent = 8
	l.Thread.ThreadID = 152
	l.Thread.NativeThreadID = 160
	l.Thread.HasNativeTID = true
	l.Thread.Size = span(l.Thread.Next, l.Thread.Frame, l.Thread.ThreadID, l.Thread.NativeThreadID)

	l.Frame.Kind = frameKindInterpreter
	l.Frame.Code = 32
	l.Frame.Previous = 48
	l.Frame.InstrPtr = 56
	l.Frame.Owner = 69
	l.Frame.HasOwner = true
	l.Frame.Size = 72

	l.Code.FirstLineno = 72
	l.Code.Filename = 112
	l.Code.Name = 120
	l.Code.LineTable = 136
	l.Code.CodeAdaptive = 184
	l.Code.Size = l.Code.CodeAdaptive

	l.Lines = lineFormatLocations
	return l
}

func layout312() *Layout {
	l := layout311()
	l.Runtime.InterpretersHead = 48

	l.Interp.ThreadsHead = 72
	l.Interp.ID = 8

	l.Thread.CFrameCurrent = 0
	l.Thread.ThreadID = 136
	l.Thread.NativeThreadID = 144
	l.Thread.Size = span(l.Thread.Next, l.Thread.Frame, l.Thread.ThreadID, l.Thread.NativeThreadID)

	l.Frame.Code = 0
	l.Frame.Previous = 8
	l.Frame.InstrPtr = 56
	l.Frame.Owner = 70

	l.Code.FirstLineno = 68
	l.Code.CodeAdaptive = 192
	l.Code.Size = l.Code.CodeAdaptive

	l.Unicode.ASCIIData = 40
	l.Unicode.CompactData = 56
	return l
}

// registryEntry maps a version range to a static layout. Releases from 3.13
// onwards describe themselves through _Py_DebugOffsets instead.
type registryEntry struct {
	constraint *semver.Constraints
	layout     func() *Layout
}

var staticLayouts = []registryEntry{
	{mustConstraint(">= 3.8, < 3.9"), layout38},
	{mustConstraint(">= 3.9, < 3.10"), layout39},
	{mustConstraint(">= 3.10, < 3.11"), layout310},
	{mustConstraint(">= 3.11, < 3.12"), layout311},
	{mustConstraint(">= 3.12, < 3.13"), layout312},
}

var debugOffsetsVersions = mustConstraint(">= 3.13, < 3.15")

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(fmt.Sprintf("invalid version constraint %q: %v", c, err))
	}
	return constraint
}

// staticLayout returns the built-in layout for v, if there is one.
func staticLayout(v Version) (*Layout, bool) {
	sv := v.Semver()
	for _, e := range staticLayouts {
		if e.constraint.Check(sv) {
			return e.layout(), true
		}
	}
	return nil, false
}

// usesDebugOffsets reports whether v publishes its own structure offsets.
func usesDebugOffsets(v Version) bool {
	return debugOffsetsVersions.Check(v.Semver())
}
