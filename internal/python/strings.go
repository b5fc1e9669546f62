package python

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/Mortal/austin/internal/sys/mem"
)

const (
	// maxStringLength caps the characters read from a str object. Names and
	// file paths are far shorter.
	maxStringLength = 4096
	// maxBytesLength caps line tables.
	maxBytesLength = 1 << 20
)

// readString decodes a compact str object.
func readString(ctx context.Context, r remote, l *Layout, addr uint64) (string, error) {
	head, err := r.block(ctx, addr, l.Unicode.State+4)
	if err != nil {
		return "", err
	}

	length := u64(head, l.Unicode.Length)
	state := u32(head, l.Unicode.State)
	kind := (state >> 2) & 7
	compact := state&(1<<5) != 0
	ascii := state&(1<<6) != 0

	if !compact {
		return "", fmt.Errorf("%w: non-compact string at 0x%x", mem.ErrFault, addr)
	}
	if length > maxStringLength {
		return "", fmt.Errorf("%w: string length %d at 0x%x", mem.ErrFault, length, addr)
	}
	if kind != 1 && kind != 2 && kind != 4 {
		return "", fmt.Errorf("%w: string kind %d at 0x%x", mem.ErrFault, kind, addr)
	}
	if length == 0 {
		return "", nil
	}

	data := l.Unicode.CompactData
	if ascii {
		data = l.Unicode.ASCIIData
	}

	raw, err := r.block(ctx, addr+data, length*uint64(kind))
	if err != nil {
		return "", err
	}
	return decodeString(raw, kind, ascii), nil
}

// decodeString converts the canonical PEP 393 representation to UTF-8.
func decodeString(raw []byte, kind uint32, ascii bool) string {
	switch {
	case kind == 1 && ascii:
		return string(raw)
	case kind == 1:
		var b strings.Builder
		for _, c := range raw {
			b.WriteRune(rune(c))
		}
		return b.String()
	case kind == 2:
		units := make([]uint16, len(raw)/2)
		for i := range units {
			units[i] = binary.LittleEndian.Uint16(raw[2*i:])
		}
		// UCS-2 code units are never surrogate pairs in a canonical str.
		return string(utf16.Decode(units))
	default:
		var b strings.Builder
		for i := 0; i+4 <= len(raw); i += 4 {
			b.WriteRune(rune(binary.LittleEndian.Uint32(raw[i:])))
		}
		return b.String()
	}
}

// readBytes returns the payload of a bytes object.
func readBytes(ctx context.Context, r remote, l *Layout, addr uint64) ([]byte, error) {
	size, err := r.ptr(ctx, addr+l.Bytes.Size)
	if err != nil {
		return nil, err
	}
	if size > maxBytesLength {
		return nil, fmt.Errorf("%w: bytes length %d at 0x%x", mem.ErrFault, size, addr)
	}
	if size == 0 {
		return nil, nil
	}
	return r.block(ctx, addr+l.Bytes.Data, size)
}
