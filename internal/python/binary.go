package python

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Mortal/austin/internal/sys/proc"
)

const (
	runtimeSymbol   = "_PyRuntime"
	versionSymbol   = "Py_Version"
	deletedSuffix   = " (deleted)"
	defaultPageSize = 4096
)

var (
	libpythonRE = regexp.MustCompile(`^libpython\d\.\d+`)
	pythonExeRE = regexp.MustCompile(`^python(\d(\.\d+)?)?$`)
)

// pyBinary is the ELF object of the target that holds the interpreter state:
// libpython when the interpreter is linked dynamically, otherwise the
// python executable itself.
type pyBinary struct {
	path          string
	version       Version
	hasVersion    bool
	runtimeAddr   uint64
	pyVersionAddr uint64
}

func mappingPath(m proc.Mapping) string {
	return strings.TrimSuffix(m.Path, deletedSuffix)
}

// interpreterPath picks the libpython mapping if there is one, else the
// mapping of a python executable.
func interpreterPath(maps []proc.Mapping) (string, bool) {
	var exe string
	for _, m := range maps {
		path := mappingPath(m)
		base := filepath.Base(path)
		if libpythonRE.MatchString(base) {
			return path, true
		}
		if exe == "" && pythonExeRE.MatchString(base) {
			exe = path
		}
	}
	return exe, exe != ""
}

// IsInterpreter reports whether the memory maps of a process contain a
// CPython binary or shared library.
func IsInterpreter(maps []proc.Mapping) bool {
	_, ok := interpreterPath(maps)
	return ok
}

// IsInterpreterName reports whether an executable name looks like a CPython
// interpreter, e.g. python3 or python3.12.
func IsInterpreterName(name string) bool {
	return pythonExeRE.MatchString(filepath.Base(name))
}

// objectSource lists the mappings of a process and opens the files behind
// them. *proc.FS is the live implementation.
type objectSource interface {
	Maps(pid int) ([]proc.Mapping, error)
	OpenInRoot(pid int, path string) (*os.File, error)
}

// locateBinary finds the interpreter binary of pid and resolves the run-time
// addresses of the symbols the reader needs.
func locateBinary(src objectSource, pid int) (*pyBinary, error) {
	maps, err := src.Maps(pid)
	if err != nil {
		return nil, err
	}

	path, ok := interpreterPath(maps)
	if !ok {
		return nil, fmt.Errorf("%w: pid %d", ErrNotInterpreter, pid)
	}

	file, err := src.OpenInRoot(pid, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close() // nolint:errcheck

	f, err := elf.NewFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	symbols := symbolValues(f, runtimeSymbol, versionSymbol)
	runtime, ok := symbols[runtimeSymbol]
	if !ok {
		return nil, fmt.Errorf("%w: no %s symbol in %s", ErrNoRuntime, runtimeSymbol, path)
	}

	bias, err := loadBias(f, maps, path)
	if err != nil {
		return nil, err
	}

	b := &pyBinary{
		path:        path,
		runtimeAddr: runtime + bias,
	}
	if v, ok := symbols[versionSymbol]; ok {
		b.pyVersionAddr = v + bias
	}
	b.version, b.hasVersion = versionFromPath(path)
	return b, nil
}

// symbolValues looks names up in the dynamic symbol table, then in the
// static one.
func symbolValues(f *elf.File, names ...string) map[string]uint64 {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	found := make(map[string]uint64, len(names))
	collect := func(symbols []elf.Symbol) {
		for _, s := range symbols {
			if !wanted[s.Name] || s.Value == 0 {
				continue
			}
			if _, ok := found[s.Name]; !ok {
				found[s.Name] = s.Value
			}
		}
	}

	if dyn, err := f.DynamicSymbols(); err == nil {
		collect(dyn)
	}
	if len(found) < len(names) {
		if static, err := f.Symbols(); err == nil {
			collect(static)
		}
	}
	return found
}

// loadBias returns the difference between run-time addresses and the
// virtual addresses in the ELF file. Non-PIE executables are not relocated.
func loadBias(f *elf.File, maps []proc.Mapping, path string) (uint64, error) {
	if f.Type == elf.ET_EXEC {
		return 0, nil
	}

	var first *elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			first = p
			break
		}
	}
	if first == nil {
		return 0, fmt.Errorf("%s has no loadable segment", path)
	}

	page := uint64(os.Getpagesize())
	if page == 0 {
		page = defaultPageSize
	}
	fileOffset := first.Off &^ (page - 1)

	for _, m := range maps {
		if mappingPath(m) != path || uint64(m.Offset) != fileOffset {
			continue
		}
		return m.Start - (first.Vaddr &^ (page - 1)), nil
	}
	return 0, fmt.Errorf("no mapping of %s at offset 0x%x", path, fileOffset)
}
