package python

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
)

// Version identifies a CPython release. Patch is -1 when only the major and
// minor version could be determined.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	if v.Patch < 0 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Semver returns v as a semantic version for constraint checks.
func (v Version) Semver() *semver.Version {
	patch := v.Patch
	if patch < 0 {
		patch = 0
	}
	return semver.New(uint64(v.Major), uint64(v.Minor), uint64(patch), "", "")
}

// AtLeast reports whether v is major.minor or newer.
func (v Version) AtLeast(major, minor int) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

var binaryVersionRE = regexp.MustCompile(`^(?:lib)?python(\d)\.(\d+)`)

// versionFromPath extracts the major and minor version from the file name of
// an interpreter binary or shared library, e.g. libpython3.11.so.1.0.
func versionFromPath(path string) (Version, bool) {
	m := binaryVersionRE.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return Version{}, false
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	return Version{Major: major, Minor: minor, Patch: -1}, true
}

// versionFromHex decodes a PY_VERSION_HEX value as exported in Py_Version
// and in the debug offsets header.
func versionFromHex(hex uint64) Version {
	return Version{
		Major: int((hex >> 24) & 0xff),
		Minor: int((hex >> 16) & 0xff),
		Patch: int((hex >> 8) & 0xff),
	}
}
