package python

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type elfSymbol struct {
	name  string
	value uint64
}

// buildELF returns a minimal little-endian x86-64 object with one PT_LOAD
// segment covering the whole file and a static symbol table.
func buildELF(t testing.TB, typ elf.Type, symbols ...elfSymbol) []byte {
	t.Helper()

	const (
		ehdrSize = 64
		phdrSize = 56
		shdrSize = 64
		symSize  = 24
	)

	// Section names: .shstrtab at 1, .strtab at 11, .symtab at 19.
	shstrtab := []byte("\x00.shstrtab\x00.strtab\x00.symtab\x00")

	strtab := []byte{0}
	syms := []elf.Sym64{{}}
	for _, s := range symbols {
		syms = append(syms, elf.Sym64{
			Name:  uint32(len(strtab)),
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_OBJECT),
			Shndx: uint16(elf.SHN_ABS),
			Value: s.value,
			Size:  8,
		})
		strtab = append(strtab, s.name...)
		strtab = append(strtab, 0)
	}

	align := func(n int) int { return (n + 7) &^ 7 }
	shstrOff := ehdrSize + phdrSize
	strOff := shstrOff + len(shstrtab)
	symOff := align(strOff + len(strtab))
	shOff := align(symOff + symSize*len(syms))
	total := shOff + 4*shdrSize

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	write := func(v any) {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	pad := func(to int) {
		buf.Write(make([]byte, to-buf.Len()))
	}

	write(elf.Header64{
		Ident:     ident,
		Type:      uint16(typ),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehdrSize,
		Shoff:     uint64(shOff),
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     1,
		Shentsize: shdrSize,
		Shnum:     4,
		Shstrndx:  1,
	})
	write(elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R),
		Filesz: uint64(total),
		Memsz:  uint64(total),
		Align:  0x1000,
	})
	buf.Write(shstrtab)
	buf.Write(strtab)
	pad(symOff)
	for _, s := range syms {
		write(s)
	}
	pad(shOff)

	write(elf.Section64{})
	write(elf.Section64{Name: 1, Type: uint32(elf.SHT_STRTAB), Off: uint64(shstrOff), Size: uint64(len(shstrtab)), Addralign: 1})
	write(elf.Section64{Name: 11, Type: uint32(elf.SHT_STRTAB), Off: uint64(strOff), Size: uint64(len(strtab)), Addralign: 1})
	write(elf.Section64{
		Name:      19,
		Type:      uint32(elf.SHT_SYMTAB),
		Off:       uint64(symOff),
		Size:      uint64(symSize * len(syms)),
		Link:      2,
		Info:      1,
		Addralign: 8,
		Entsize:   symSize,
	})

	require.Equal(t, total, buf.Len())
	return buf.Bytes()
}

// writeELF stores a fixture object under dir and returns its path.
func writeELF(t testing.TB, dir, name string, typ elf.Type, symbols ...elfSymbol) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buildELF(t, typ, symbols...), 0o600))
	return path
}
