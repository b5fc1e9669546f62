package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	defer func(v, c, d string) { Version, GitCommit, BuildDate = v, c, d }(Version, GitCommit, BuildDate)

	Version, GitCommit, BuildDate = "3.7.0", "0123456789abcdef", "2026-01-02"
	assert.Equal(t, "austin 3.7.0 (0123456789ab, 2026-01-02) "+runtime.GOOS+"/"+runtime.GOARCH+" "+runtime.Version(), String())
}

func TestString_Dev(t *testing.T) {
	assert.Contains(t, String(), "austin dev")
}
