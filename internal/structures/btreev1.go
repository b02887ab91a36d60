// Package structures parses the HDF5 indexing structures: version 1 and
// version 2 B-trees, local/global/fractal heaps and symbol table nodes.
package structures

import (
	"encoding/binary"

	"github.com/scigolib/h5r/internal/core"
	"github.com/scigolib/h5r/internal/utils"
)

// V1 B-tree node types.
const (
	nodeTypeGroup uint8 = 0
	nodeTypeChunk uint8 = 1
)

// v1NodeHeader is the shared prefix of every v1 B-tree node: "TREE"
// signature, node type, node level (0 = leaf), entry count and the two
// sibling addresses. Group and chunk trees differ only in key layout.
type v1NodeHeader struct {
	NodeType uint8
	Level    uint8
	Entries  uint16
	Left     uint64
	Right    uint64
	bodyAddr uint64
}

func readV1NodeHeader(r utils.ReaderAt, address uint64, sb *core.Superblock) (*v1NodeHeader, error) {
	size := 8 + 2*int(sb.OffsetSize)
	buf := utils.GetBuffer(size)
	defer utils.ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("B-tree node read failed", err)
	}
	if string(buf[:4]) != "TREE" {
		return nil, utils.Corruptf("B-tree node at %d: bad signature %q", address, buf[:4])
	}

	return &v1NodeHeader{
		NodeType: buf[4],
		Level:    buf[5],
		Entries:  binary.LittleEndian.Uint16(buf[6:8]),
		Left:     utils.Uint(buf[8:], sb.OffsetSize),
		Right:    utils.Uint(buf[8+sb.OffsetSize:], sb.OffsetSize),
		bodyAddr: address + uint64(size),
	}, nil
}

// readV1NodeBody reads the interleaved key/pointer area of a node:
// entries+1 keys of keySize bytes with the entry child pointers between
// them. The trailing key is the spec's upper-bound successor and is
// read but never interpreted as an entry.
func readV1NodeBody(r utils.ReaderAt, h *v1NodeHeader, keySize int, sb *core.Superblock) ([]byte, error) {
	n := int(h.Entries)
	body := make([]byte, (n+1)*keySize+n*int(sb.OffsetSize))
	if _, err := r.ReadAt(body, int64(h.bodyAddr)); err != nil {
		return nil, utils.WrapError("B-tree node body read failed", err)
	}
	return body, nil
}

// WalkGroupTree walks a v1 group B-tree in order, invoking fn with each
// symbol-table node address found at the leaves. Keys are local-heap
// name offsets and are not needed for enumeration.
func WalkGroupTree(r utils.ReaderAt, address uint64, sb *core.Superblock, fn func(snodAddr uint64) error) error {
	h, err := readV1NodeHeader(r, address, sb)
	if err != nil {
		return err
	}
	if h.NodeType != nodeTypeGroup {
		return utils.Corruptf("group B-tree node at %d has type %d", address, h.NodeType)
	}

	keySize := int(sb.LengthSize)
	body, err := readV1NodeBody(r, h, keySize, sb)
	if err != nil {
		return err
	}

	stride := keySize + int(sb.OffsetSize)
	for i := 0; i < int(h.Entries); i++ {
		child := utils.Uint(body[keySize+i*stride:], sb.OffsetSize)
		if h.Level > 0 {
			if err := WalkGroupTree(r, child, sb, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(child); err != nil {
			return err
		}
	}
	return nil
}

// ChunkRecord locates one raw chunk: its logical origin in element
// units, the absolute byte offset of the blob, its stored length and
// the filter mask whose set bits disable pipeline entries.
type ChunkRecord struct {
	Offset     []uint64
	Address    uint64
	Length     uint32
	FilterMask uint32
}

// WalkChunkTree walks a v1 chunk B-tree in order, invoking fn with each
// leaf chunk record. The dataset rank parametrizes the key layout: each
// key is {chunk byte size:u32, filter mask:u32, coords:[rank+1]u64},
// the final coordinate being the unused element-within-chunk offset.
func WalkChunkTree(r utils.ReaderAt, address uint64, rank int, sb *core.Superblock, fn func(ChunkRecord) error) error {
	h, err := readV1NodeHeader(r, address, sb)
	if err != nil {
		return err
	}
	if h.NodeType != nodeTypeChunk {
		return utils.Corruptf("chunk B-tree node at %d has type %d", address, h.NodeType)
	}

	keySize := 8 + 8*(rank+1)
	body, err := readV1NodeBody(r, h, keySize, sb)
	if err != nil {
		return err
	}

	stride := keySize + int(sb.OffsetSize)
	for i := 0; i < int(h.Entries); i++ {
		key := body[i*stride:]
		child := utils.Uint(body[i*stride+keySize:], sb.OffsetSize)

		if h.Level > 0 {
			if err := WalkChunkTree(r, child, rank, sb, fn); err != nil {
				return err
			}
			continue
		}

		rec := ChunkRecord{
			Length:     binary.LittleEndian.Uint32(key[0:4]),
			FilterMask: binary.LittleEndian.Uint32(key[4:8]),
			Address:    child,
			Offset:     make([]uint64, rank),
		}
		for d := 0; d < rank; d++ {
			rec.Offset[d] = binary.LittleEndian.Uint64(key[8+8*d:])
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
