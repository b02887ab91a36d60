package structures

import (
	"encoding/binary"
	"sync"

	"github.com/scigolib/h5r/internal/core"
	"github.com/scigolib/h5r/internal/utils"
)

// GlobalHeapCache lazily loads global heap collections and keeps them
// keyed by their base offset. Collections are append-only once parsed;
// the cache is safe for concurrent lookups.
type GlobalHeapCache struct {
	mu          sync.Mutex
	collections map[uint64]*GlobalHeapCollection
}

// NewGlobalHeapCache returns an empty cache.
func NewGlobalHeapCache() *GlobalHeapCache {
	return &GlobalHeapCache{collections: make(map[uint64]*GlobalHeapCollection)}
}

// Object resolves (collection offset, object index) to the object's
// bytes, loading and caching the collection on first touch.
func (c *GlobalHeapCache) Object(r utils.ReaderAt, offset uint64, index uint32, sb *core.Superblock) ([]byte, error) {
	c.mu.Lock()
	col, ok := c.collections[offset]
	c.mu.Unlock()

	if !ok {
		var err error
		col, err = loadGlobalHeapCollection(r, offset, sb)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.collections[offset] = col
		c.mu.Unlock()
	}

	data, ok := col.Objects[uint16(index)]
	if !ok {
		return nil, utils.Corruptf("global heap collection at %d has no object %d", offset, index)
	}
	return data, nil
}

// GlobalHeapCollection is one parsed "GCOL" collection: a table of
// heap objects keyed by their 1-based index.
type GlobalHeapCollection struct {
	Size    uint64
	Objects map[uint16][]byte
}

// loadGlobalHeapCollection reads a collection whole.
//
// Header: "GCOL", version (1), 3 reserved, collection size
// (length-size). The body is a sequence of 8-byte-aligned objects
// prefixed {index:u16, reference count:u16, reserved:u32,
// size:length-size}; the terminator has index 0.
func loadGlobalHeapCollection(r utils.ReaderAt, offset uint64, sb *core.Superblock) (*GlobalHeapCollection, error) {
	headerSize := 8 + int(sb.LengthSize)
	hdr := utils.GetBuffer(headerSize)
	if _, err := r.ReadAt(hdr, int64(offset)); err != nil {
		utils.ReleaseBuffer(hdr)
		return nil, utils.WrapError("global heap header read failed", err)
	}
	if string(hdr[:4]) != "GCOL" {
		sig := string(hdr[:4])
		utils.ReleaseBuffer(hdr)
		return nil, utils.Corruptf("global heap at %d: bad signature %q", offset, sig)
	}
	if hdr[4] != 1 {
		v := hdr[4]
		utils.ReleaseBuffer(hdr)
		return nil, utils.Corruptf("global heap version %d", v)
	}
	size := utils.Uint(hdr[8:], sb.LengthSize)
	utils.ReleaseBuffer(hdr)

	if size < uint64(headerSize) {
		return nil, utils.Corruptf("global heap collection size %d too small", size)
	}

	// The collection size includes the header; one read covers the body.
	body := make([]byte, size-uint64(headerSize))
	if _, err := r.ReadAt(body, int64(offset)+int64(headerSize)); err != nil {
		return nil, utils.WrapError("global heap body read failed", err)
	}

	col := &GlobalHeapCollection{Size: size, Objects: make(map[uint16][]byte)}
	objectHeader := 8 + int(sb.LengthSize)
	pos := 0
	for pos+objectHeader <= len(body) {
		index := binary.LittleEndian.Uint16(body[pos:])
		if index == 0 {
			break
		}
		objSize := utils.Uint(body[pos+8:], sb.LengthSize)
		pos += objectHeader

		if pos+int(objSize) > len(body) {
			return nil, utils.Corruptf("global heap object %d overruns collection", index)
		}
		col.Objects[index] = append([]byte(nil), body[pos:pos+int(objSize)]...)

		// Object data is padded to the next 8-byte boundary.
		pos += int((objSize + 7) &^ 7)
	}
	return col, nil
}
