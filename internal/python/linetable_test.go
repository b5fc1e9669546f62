package python

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineFromLnotab(t *testing.T) {
	// (addr_incr, line_incr) pairs, byte offsets.
	table := []byte{4, 1, 6, 2, 10, 0xff}

	tests := []struct {
		lasti int
		want  int
	}{
		{0, 1},
		{3, 1},
		{4, 2},
		{9, 2},
		{10, 4},
		{19, 4},
		{20, 3},
		{100, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lineFromLnotab(table, 1, tt.lasti), "lasti=%d", tt.lasti)
	}
}

func TestLineFromLinetable(t *testing.T) {
	// (sdelta, ldelta) pairs; -128 marks a range without a line.
	table := []byte{6, 1, 4, 0x80, 2, 0, 8, 3}

	tests := []struct {
		lasti int
		want  int
	}{
		{-1, 5},
		{0, 6},
		{2, 6},
		{3, 6},
		{5, 6},
		{6, 9},
		{9, 9},
		{10, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lineFromLinetable(table, 5, tt.lasti), "lasti=%d", tt.lasti)
	}
}

func TestLineFromLocations(t *testing.T) {
	table := []byte{
		0xE9, 0x02, // no columns, 2 units, line +1
		0xDA, 0x04, 0x08, // one line form, 3 units, line +1
		0x80, 0x05, // short form, 1 unit, same line
		0xF0, 0x05, 0x00, 0x01, 0x02, // long form, 1 unit, line -2
		0xF8,             // no location, 1 unit
		0xE8, 0x50, 0x01, // no columns, 1 unit, line +40
	}

	tests := []struct {
		index int
		want  int
	}{
		{-1, 10},
		{0, 11},
		{1, 11},
		{2, 12},
		{4, 12},
		{5, 12},
		{6, 10},
		{7, 10},
		{8, 50},
		{9, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lineFromLocations(table, 10, tt.index), "index=%d", tt.index)
	}
}

func TestLineFromLocations_Corrupt(t *testing.T) {
	assert.Equal(t, 7, lineFromLocations([]byte{0x01, 0x02}, 7, 0))
	assert.Equal(t, 7, lineFromLocations(nil, 7, 3))
}

func TestVarint(t *testing.T) {
	v, next := readVarint([]byte{0x50, 0x01}, 0)
	assert.Equal(t, 80, v)
	assert.Equal(t, 2, next)

	s, _ := readSignedVarint([]byte{0x05}, 0)
	assert.Equal(t, -2, s)

	s, _ = readSignedVarint([]byte{0x04}, 0)
	assert.Equal(t, 2, s)
}
