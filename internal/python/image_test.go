package python

import (
	"unicode/utf16"

	"github.com/Mortal/austin/internal/testutil"
)

// image lays out interpreter structures in a fake address space using the
// offsets of a Layout.
type image struct {
	m *testutil.FakeMemory
	l *Layout
}

func newImage(m *testutil.FakeMemory, l *Layout) *image {
	return &image{m: m, l: l}
}

// str writes a compact ASCII string.
func (img *image) str(s string) uint64 {
	u := img.l.Unicode
	addr := img.m.Alloc(int(u.ASCIIData) + len(s) + 1)
	img.m.PutUint64(addr+u.Length, uint64(len(s)))
	img.m.PutUint32(addr+u.State, 1<<2|1<<5|1<<6)
	img.m.Write(addr+u.ASCIIData, []byte(s))
	return addr
}

// ucs2 writes a compact two-byte string.
func (img *image) ucs2(s string) uint64 {
	u := img.l.Unicode
	units := utf16.Encode([]rune(s))
	addr := img.m.Alloc(int(u.CompactData) + 2*len(units) + 2)
	img.m.PutUint64(addr+u.Length, uint64(len(units)))
	img.m.PutUint32(addr+u.State, 2<<2|1<<5)
	raw := make([]byte, 0, 2*len(units))
	for _, c := range units {
		raw = append(raw, byte(c), byte(c>>8))
	}
	img.m.Write(addr+u.CompactData, raw)
	return addr
}

func (img *image) bytes(b []byte) uint64 {
	addr := img.m.Alloc(int(img.l.Bytes.Data) + len(b) + 1)
	img.m.PutUint64(addr+img.l.Bytes.Size, uint64(len(b)))
	if len(b) > 0 {
		img.m.Write(addr+img.l.Bytes.Data, b)
	}
	return addr
}

// code writes a code object followed by room for its bytecode.
func (img *image) code(filename, name string, firstLine int, table []byte) uint64 {
	c := img.l.Code
	addr := img.m.Alloc(int(c.Size) + 256)
	img.m.PutUint64(addr+c.Filename, img.str(filename))
	img.m.PutUint64(addr+c.Name, img.str(name))
	img.m.PutUint32(addr+c.FirstLineno, uint32(int32(firstLine)))
	img.m.PutUint64(addr+c.LineTable, img.bytes(table))
	return addr
}

// frame writes a frame executing code at the given instruction position:
// a byte offset for frame objects and a code unit index otherwise.
func (img *image) frame(code uint64, position int, previous uint64) uint64 {
	f := img.l.Frame
	addr := img.m.Alloc(int(f.Size))
	img.m.PutUint64(addr+f.Previous, previous)
	img.m.PutUint64(addr+f.Code, code)
	if f.Kind == frameKindObject {
		img.m.PutUint32(addr+f.LastI, uint32(int32(position)))
	} else {
		img.m.PutUint64(addr+f.InstrPtr, code+img.l.Code.CodeAdaptive+uint64(2*position))
	}
	return addr
}

// shim writes an interpreter frame owned by the C stack.
func (img *image) shim(previous uint64) uint64 {
	f := img.l.Frame
	addr := img.m.Alloc(int(f.Size))
	img.m.PutUint64(addr+f.Previous, previous)
	img.m.PutByte(addr+f.Owner, ownerCStack)
	return addr
}

// thread writes a thread state whose current frame is top. tid is stored as
// the native thread id, or as the pthread value on layouts without one.
func (img *image) thread(tid, pthread uint64, top, next uint64) uint64 {
	t := img.l.Thread
	addr := img.m.Alloc(int(t.Size))
	img.m.PutUint64(addr+t.Next, next)
	img.m.PutUint64(addr+t.ThreadID, pthread)
	if t.HasNativeTID {
		img.m.PutUint64(addr+t.NativeThreadID, tid)
	}
	if t.HasCFrame {
		cframe := img.m.Alloc(int(t.CFrameCurrent) + 8)
		img.m.PutUint64(cframe+t.CFrameCurrent, top)
		img.m.PutUint64(addr+t.Frame, cframe)
	} else {
		img.m.PutUint64(addr+t.Frame, top)
	}
	return addr
}

func (img *image) interp(id int64, threads, next uint64) uint64 {
	i := img.l.Interp
	addr := img.m.Alloc(int(span(i.Next, i.ID, i.ThreadsHead)))
	img.m.PutUint64(addr+i.Next, next)
	img.m.PutUint64(addr+i.ID, uint64(id))
	img.m.PutUint64(addr+i.ThreadsHead, threads)
	return addr
}

func (img *image) runtime(head uint64) uint64 {
	addr := img.m.Alloc(int(img.l.Runtime.InterpretersHead) + 8)
	img.m.PutUint64(addr+img.l.Runtime.InterpretersHead, head)
	return addr
}
