package python

// Line number decoding for the three table formats used by CPython. Each
// decoder takes the instruction position as the interpreter reports it and
// returns the source line, falling back to the first line of the code
// object when the position is not covered.

// lineFromLnotab decodes co_lnotab; lasti is a byte offset.
func lineFromLnotab(table []byte, firstLine, lasti int) int {
	line := firstLine
	addr := 0
	for i := 0; i+1 < len(table); i += 2 {
		addr += int(table[i])
		if addr > lasti {
			break
		}
		line += int(int8(table[i+1]))
	}
	return line
}

// lineFromLinetable decodes the 3.10 co_linetable; lasti counts code units.
func lineFromLinetable(table []byte, firstLine, lasti int) int {
	if lasti < 0 {
		return firstLine
	}
	target := lasti * 2

	line := firstLine
	end := 0
	for i := 0; i+1 < len(table); i += 2 {
		start := end
		end += int(table[i])
		delta := int8(table[i+1])
		if delta != -128 {
			line += int(delta)
		}
		if start <= target && target < end {
			return line
		}
	}
	return firstLine
}

// Location table entry codes.
const (
	locationNone      = 15
	locationLong      = 14
	locationNoColumns = 13
	locationOneLine0  = 10
)

// lineFromLocations decodes the 3.11+ location table; index counts code
// units from the start of the bytecode.
func lineFromLocations(table []byte, firstLine, index int) int {
	if index < 0 {
		return firstLine
	}

	line := firstLine
	addr := 0
	for i := 0; i < len(table); {
		head := table[i]
		if head&0x80 == 0 {
			// Not at an entry boundary; the table is corrupt.
			break
		}
		code := int(head>>3) & 15
		length := int(head&7) + 1

		switch {
		case code == locationNone:
		case code == locationLong || code == locationNoColumns:
			delta, _ := readSignedVarint(table, i+1)
			line += delta
		case code >= locationOneLine0:
			line += code - locationOneLine0
		}

		if addr <= index && index < addr+length {
			return line
		}
		addr += length

		// Skip to the next entry start.
		i++
		for i < len(table) && table[i]&0x80 == 0 {
			i++
		}
	}
	return firstLine
}

// readVarint reads a 6-bit chunked varint starting at pos and returns the
// value and the position after it.
func readVarint(b []byte, pos int) (int, int) {
	if pos >= len(b) {
		return 0, pos
	}
	read := b[pos]
	pos++
	val := int(read & 63)
	shift := 0
	for read&64 != 0 && pos < len(b) {
		read = b[pos]
		pos++
		shift += 6
		val |= int(read&63) << shift
	}
	return val, pos
}

func readSignedVarint(b []byte, pos int) (int, int) {
	uval, next := readVarint(b, pos)
	if uval&1 != 0 {
		return -(uval >> 1), next
	}
	return uval >> 1, next
}
