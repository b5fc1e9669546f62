package python

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
)

// debugCookie starts the _Py_DebugOffsets block placed at the beginning of
// _PyRuntime from 3.13 onwards.
var debugCookie = []byte("xdebugpy")

// debugSection is one nested struct of _Py_DebugOffsets. Every field is a
// uint64 and the first one of each section is the size of the structure it
// describes.
type debugSection struct {
	name   string
	fields []string
}

type debugSchema struct {
	header   []string
	sections []debugSection
}

// Only the sections up to code_object are decoded; later ones are not used.
var debugSchema313 = debugSchema{
	header: []string{"cookie", "version", "free_threaded"},
	sections: []debugSection{
		{"runtime_state", []string{"size", "finalizing", "interpreters_head"}},
		{"interpreter_state", []string{"size", "id", "next", "threads_head", "gc", "imports_modules",
			"sysdict", "builtins", "ceval_gil", "gil_runtime_state", "gil_runtime_state_enabled",
			"gil_runtime_state_locked", "gil_runtime_state_holder"}},
		{"thread_state", []string{"size", "prev", "next", "interp", "current_frame", "thread_id",
			"native_thread_id", "datastack_chunk", "status"}},
		{"interpreter_frame", []string{"size", "previous", "executable", "instr_ptr", "localsplus", "owner"}},
		{"code_object", []string{"size", "filename", "name", "qualname", "linetable", "firstlineno",
			"argcount", "localsplusnames", "localspluskinds", "co_code_adaptive"}},
	},
}

var debugSchema314 = debugSchema{
	header: []string{"cookie", "version", "free_threaded"},
	sections: []debugSection{
		{"runtime_state", []string{"size", "finalizing", "interpreters_head"}},
		{"interpreter_state", []string{"size", "id", "next", "threads_head", "threads_main", "gc",
			"imports_modules", "sysdict", "builtins", "ceval_gil", "gil_runtime_state",
			"gil_runtime_state_enabled", "gil_runtime_state_locked", "gil_runtime_state_holder",
			"code_object_generation", "tlbc_generation"}},
		{"thread_state", []string{"size", "prev", "next", "interp", "current_frame", "thread_id",
			"native_thread_id", "datastack_chunk", "status"}},
		{"interpreter_frame", []string{"size", "previous", "executable", "instr_ptr", "localsplus",
			"owner", "stackpointer", "tlbc_index"}},
		{"code_object", []string{"size", "filename", "name", "qualname", "linetable", "firstlineno",
			"argcount", "localsplusnames", "localspluskinds", "co_code_adaptive", "co_tlbc"}},
	},
}

func (s debugSchema) words() int {
	n := len(s.header)
	for _, sec := range s.sections {
		n += len(sec.fields)
	}
	return n
}

// decode maps every field to its value, keyed as "section.field".
func (s debugSchema) decode(data []byte) (map[string]uint64, error) {
	if len(data) < s.words()*8 {
		return nil, fmt.Errorf("debug offsets truncated: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], debugCookie) {
		return nil, fmt.Errorf("%w: debug offsets cookie mismatch", ErrNoRuntime)
	}

	values := make(map[string]uint64, s.words())
	pos := 0
	next := func() uint64 {
		v := binary.LittleEndian.Uint64(data[pos:])
		pos += 8
		return v
	}

	for _, name := range s.header {
		values[name] = next()
	}
	for _, sec := range s.sections {
		for _, f := range sec.fields {
			values[sec.name+"."+f] = next()
		}
	}
	return values, nil
}

// debugMaxStructSize bounds the size fields to catch a misread block.
const debugMaxStructSize = 1 << 24

// debugUsedFields are the offsets the reader dereferences. Each must fall
// inside the structure it belongs to.
var debugUsedFields = map[string][]string{
	"runtime_state":     {"interpreters_head"},
	"interpreter_state": {"id", "next", "threads_head"},
	"thread_state":      {"next", "current_frame", "thread_id", "native_thread_id"},
	"interpreter_frame": {"previous", "executable", "instr_ptr", "owner"},
	"code_object":       {"filename", "name", "firstlineno", "linetable", "co_code_adaptive"},
}

func (s debugSchema) validate(values map[string]uint64) error {
	for _, sec := range s.sections {
		size := values[sec.name+".size"]
		if size == 0 || size > debugMaxStructSize {
			return fmt.Errorf("%w: implausible %s size %d", ErrUnsupportedVersion, sec.name, size)
		}
		for _, f := range debugUsedFields[sec.name] {
			if off := values[sec.name+"."+f]; off >= size {
				return fmt.Errorf("%w: %s.%s offset %d outside size %d", ErrUnsupportedVersion, sec.name, f, off, size)
			}
		}
	}
	return nil
}

// readDebugOffsets decodes the _Py_DebugOffsets block at runtimeAddr and
// builds a Layout from it.
func readDebugOffsets(ctx context.Context, r remote, runtimeAddr uint64) (*Layout, Version, error) {
	head, err := r.block(ctx, runtimeAddr, 16)
	if err != nil {
		return nil, Version{}, err
	}
	if !bytes.Equal(head[:8], debugCookie) {
		return nil, Version{}, fmt.Errorf("%w: debug offsets cookie mismatch", ErrNoRuntime)
	}
	version := versionFromHex(binary.LittleEndian.Uint64(head[8:]))

	var schema debugSchema
	switch {
	case version.Major == 3 && version.Minor == 13:
		schema = debugSchema313
	case version.Major == 3 && version.Minor == 14:
		schema = debugSchema314
	default:
		return nil, version, fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	}

	data, err := r.block(ctx, runtimeAddr, uint64(schema.words()*8))
	if err != nil {
		return nil, version, err
	}
	values, err := schema.decode(data)
	if err != nil {
		return nil, version, err
	}
	if err := schema.validate(values); err != nil {
		return nil, version, err
	}
	if values["free_threaded"] != 0 {
		return nil, version, fmt.Errorf("%w: %s free-threaded build", ErrUnsupportedVersion, version)
	}

	return layoutFromDebugOffsets(values, version), version, nil
}

func layoutFromDebugOffsets(v map[string]uint64, version Version) *Layout {
	// Strings and bytes keep their 3.12 shape.
	l := layout312()

	l.Runtime.InterpretersHead = v["runtime_state.interpreters_head"]

	l.Interp.Next = v["interpreter_state.next"]
	l.Interp.ID = v["interpreter_state.id"]
	l.Interp.ThreadsHead = v["interpreter_state.threads_head"]

	l.Thread.Next = v["thread_state.next"]
	l.Thread.Frame = v["thread_state.current_frame"]
	l.Thread.HasCFrame = false
	l.Thread.ThreadID = v["thread_state.thread_id"]
	l.Thread.NativeThreadID = v["thread_state.native_thread_id"]
	l.Thread.HasNativeTID = true
	l.Thread.Size = span(l.Thread.Next, l.Thread.Frame, l.Thread.ThreadID, l.Thread.NativeThreadID)

	l.Frame.Kind = frameKindInterpreter
	l.Frame.Previous = v["interpreter_frame.previous"]
	l.Frame.Code = v["interpreter_frame.executable"]
	l.Frame.InstrPtr = v["interpreter_frame.instr_ptr"]
	l.Frame.Owner = v["interpreter_frame.owner"]
	l.Frame.HasOwner = true
	l.Frame.TaggedCode = version.AtLeast(3, 14)
	l.Frame.Size = span(l.Frame.Previous, l.Frame.Code, l.Frame.InstrPtr, l.Frame.Owner)

	l.Code.Filename = v["code_object.filename"]
	l.Code.Name = v["code_object.name"]
	l.Code.FirstLineno = v["code_object.firstlineno"]
	l.Code.LineTable = v["code_object.linetable"]
	l.Code.CodeAdaptive = v["code_object.co_code_adaptive"]
	l.Code.Size = l.Code.CodeAdaptive

	l.Lines = lineFormatLocations
	return l
}
