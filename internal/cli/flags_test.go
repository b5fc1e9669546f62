package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationValue(t *testing.T) {
	var d time.Duration
	v := newDurationValue(&d, "ms")

	require.NoError(t, v.Set("250"))
	assert.Equal(t, 250*time.Millisecond, d)
	assert.Equal(t, "250ms", v.String())

	require.NoError(t, v.Set("1.5s"))
	assert.Equal(t, 1500*time.Millisecond, d)

	assert.Error(t, v.Set("-1"))
	assert.Error(t, v.Set("later"))
	assert.Equal(t, "duration", v.Type())
}

func TestSizeValue(t *testing.T) {
	var n uint64
	v := &sizeValue{n: &n}

	require.NoError(t, v.Set("4096"))
	assert.Equal(t, uint64(4096), n)

	require.NoError(t, v.Set("64KiB"))
	assert.Equal(t, uint64(65536), n)
	assert.Equal(t, "65536", v.String())

	require.NoError(t, v.Set("1MB"))
	assert.Equal(t, uint64(1000000), n)

	assert.Error(t, v.Set("many"))
	assert.Equal(t, "size", v.Type())
}
