package testutil

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Mortal/austin/internal/sys/mem"
)

// FakeMemoryBase is where FakeMemory starts handing out allocations.
const FakeMemoryBase = 0x7f0000000000

// FakeMemory is an in-memory address space implementing mem.Reader. Reads
// outside written regions fail with mem.ErrFault.
type FakeMemory struct {
	mu      sync.Mutex
	regions map[uint64][]byte
	next    uint64
	gone    bool
	reads   int
}

// NewFakeMemory returns an empty address space.
func NewFakeMemory() *FakeMemory {
	return &FakeMemory{
		regions: make(map[uint64][]byte),
		next:    FakeMemoryBase,
	}
}

// Alloc reserves a zeroed, 16-byte aligned block and returns its address.
func (m *FakeMemory) Alloc(size int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := m.next
	m.regions[addr] = make([]byte, size)
	m.next += (uint64(size) + 15) &^ 15
	if m.next == addr {
		m.next += 16
	}
	return addr
}

// Write copies data to addr, inside an allocated block or as a new one.
func (m *FakeMemory) Write(addr uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if region, off, ok := m.find(addr, len(data)); ok {
		copy(region[off:], data)
		return
	}
	m.regions[addr] = append([]byte(nil), data...)
}

// PutUint64 writes a little-endian uint64 at addr.
func (m *FakeMemory) PutUint64(addr, v uint64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	m.Write(addr, b)
}

// PutUint32 writes a little-endian uint32 at addr.
func (m *FakeMemory) PutUint32(addr uint64, v uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	m.Write(addr, b)
}

// PutByte writes a single byte at addr.
func (m *FakeMemory) PutByte(addr uint64, v byte) {
	m.Write(addr, []byte{v})
}

// Exit makes every later read fail with mem.ErrProcessGone.
func (m *FakeMemory) Exit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gone = true
}

// Reads returns the number of Read calls served so far.
func (m *FakeMemory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Read implements mem.Reader.
func (m *FakeMemory) Read(ctx context.Context, addr uint64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	if m.gone {
		return mem.ErrProcessGone
	}
	region, off, ok := m.find(addr, len(buf))
	if !ok {
		return fmt.Errorf("%w: 0x%x", mem.ErrFault, addr)
	}
	copy(buf, region[off:off+len(buf)])
	return nil
}

func (m *FakeMemory) find(addr uint64, size int) ([]byte, int, bool) {
	for start, region := range m.regions {
		if addr >= start && addr+uint64(size) <= start+uint64(len(region)) {
			return region, int(addr - start), true
		}
	}
	return nil, 0, false
}
