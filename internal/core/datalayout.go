package core

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/h5r/internal/utils"
)

// Data layout classes.
const (
	LayoutContiguous uint8 = 1
	LayoutChunked    uint8 = 2
)

// DataLayout describes how dataset elements are stored.
//
// Contiguous: Address is the data block and Size its byte length.
// Chunked: Address is the v1 chunk B-tree root; ChunkShape holds the
// chunk extents in element units and ElementSize the trailing element
// width recorded in the message.
type DataLayout struct {
	Class       uint8
	Address     uint64
	Size        uint64
	ChunkShape  []uint32
	ElementSize uint32
}

// IsChunked reports whether the layout class is chunked.
func (dl *DataLayout) IsChunked() bool {
	return dl.Class == LayoutChunked
}

// ReadDataLayout decodes a data layout message (type 0x0008, version 3)
// at the given absolute offset.
//
// Layout: {version:u8, class:u8}, properties from byte 2.
// Contiguous properties: {address:offset-size, size:length-size}.
// Chunked properties: {dimensionality:u8, btree address:offset-size,
// dims:[dimensionality]u32} — the dimensionality is dataset rank + 1
// and the final u32 is the element size in bytes.
func ReadDataLayout(r utils.ReaderAt, offset uint64, sb *Superblock) (*DataLayout, error) {
	hdr := utils.GetBuffer(2)
	if _, err := r.ReadAt(hdr, int64(offset)); err != nil {
		utils.ReleaseBuffer(hdr)
		return nil, utils.WrapError("data layout read failed", err)
	}
	version := hdr[0]
	class := hdr[1]
	utils.ReleaseBuffer(hdr)

	if version != 3 {
		return nil, fmt.Errorf("data layout version %d: %w", version, utils.ErrUnsupportedVersion)
	}

	dl := &DataLayout{Class: class}
	props := int64(offset) + 2

	switch class {
	case LayoutContiguous:
		buf := utils.GetBuffer(int(sb.OffsetSize) + int(sb.LengthSize))
		defer utils.ReleaseBuffer(buf)
		if _, err := r.ReadAt(buf, props); err != nil {
			return nil, utils.WrapError("contiguous layout read failed", err)
		}
		dl.Address = utils.Uint(buf, sb.OffsetSize)
		dl.Size = utils.Uint(buf[sb.OffsetSize:], sb.LengthSize)

	case LayoutChunked:
		head := utils.GetBuffer(1 + int(sb.OffsetSize))
		if _, err := r.ReadAt(head, props); err != nil {
			utils.ReleaseBuffer(head)
			return nil, utils.WrapError("chunked layout read failed", err)
		}
		dimensionality := int(head[0])
		dl.Address = utils.Uint(head[1:], sb.OffsetSize)
		utils.ReleaseBuffer(head)

		if dimensionality < 2 {
			return nil, utils.Corruptf("chunked layout dimensionality %d", dimensionality)
		}

		dims := utils.GetBuffer(4 * dimensionality)
		defer utils.ReleaseBuffer(dims)
		if _, err := r.ReadAt(dims, props+1+int64(sb.OffsetSize)); err != nil {
			return nil, utils.WrapError("chunk shape read failed", err)
		}
		// Rank entries of chunk extents, then the element size.
		dl.ChunkShape = make([]uint32, dimensionality-1)
		for i := range dl.ChunkShape {
			dl.ChunkShape[i] = binary.LittleEndian.Uint32(dims[4*i:])
		}
		dl.ElementSize = binary.LittleEndian.Uint32(dims[4*(dimensionality-1):])

	default:
		return nil, fmt.Errorf("data layout class %d: %w", class, utils.ErrUnsupportedLayout)
	}

	return dl, nil
}
