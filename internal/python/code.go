package python

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCodeCacheSize is the number of decoded code objects kept per process.
const DefaultCodeCacheSize = 1024

// codeKey identifies a decoded code object. The string and table pointers are
// part of the key so that a recycled address is not mistaken for the code
// object that lived there before.
type codeKey struct {
	addr      uint64
	filename  uint64
	name      uint64
	table     uint64
	firstLine int32
}

// codeInfo is the decoded, immutable part of a code object.
type codeInfo struct {
	filename  string
	name      string
	firstLine int
	table     []byte
}

// line maps an instruction position to a source line.
func (c *codeInfo) line(format lineFormat, position int) int {
	switch format {
	case lineFormatLnotab:
		return lineFromLnotab(c.table, c.firstLine, position)
	case lineFormatLinetable:
		return lineFromLinetable(c.table, c.firstLine, position)
	default:
		return lineFromLocations(c.table, c.firstLine, position)
	}
}

type codeCache struct {
	cache *lru.Cache[codeKey, *codeInfo]
}

func newCodeCache(size int) (*codeCache, error) {
	if size <= 0 {
		size = DefaultCodeCacheSize
	}
	cache, err := lru.New[codeKey, *codeInfo](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create code cache: %w", err)
	}
	return &codeCache{cache: cache}, nil
}

// readCode decodes the code object at addr, using the cache when the object
// has been seen before.
func (r *Reader) readCode(ctx context.Context, addr uint64) (*codeInfo, error) {
	l := r.layout
	head, err := r.remote.block(ctx, addr, l.Code.Size)
	if err != nil {
		return nil, err
	}

	key := codeKey{
		addr:      addr,
		filename:  u64(head, l.Code.Filename),
		name:      u64(head, l.Code.Name),
		table:     u64(head, l.Code.LineTable),
		firstLine: i32(head, l.Code.FirstLineno),
	}
	if info, ok := r.codes.cache.Get(key); ok {
		return info, nil
	}

	filename, err := readString(ctx, r.remote, l, key.filename)
	if err != nil {
		return nil, fmt.Errorf("code filename: %w", err)
	}
	name, err := readString(ctx, r.remote, l, key.name)
	if err != nil {
		return nil, fmt.Errorf("code name: %w", err)
	}
	table, err := readBytes(ctx, r.remote, l, key.table)
	if err != nil {
		return nil, fmt.Errorf("code line table: %w", err)
	}

	info := &codeInfo{
		filename:  filename,
		name:      name,
		firstLine: int(key.firstLine),
		table:     table,
	}
	r.codes.cache.Add(key, info)
	return info, nil
}
