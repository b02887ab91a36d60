package structures

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/scigolib/h5r/internal/core"
	"github.com/scigolib/h5r/internal/utils"
)

// FractalHeap is a read-only view of a fractal heap: the header fields
// the reader needs plus the ordered list of direct blocks materialized
// from the doubling table. Dense link storage keeps link-message bodies
// as managed objects in this heap.
type FractalHeap struct {
	TableWidth         uint16
	StartingBlockSize  uint64
	MaxDirectBlockSize uint64
	MaxHeapSizeBits    uint16
	MaxManagedObjSize  uint32
	RootBlockAddr      uint64
	RootRows           uint16

	heapOffsetSize    int // ceil(MaxHeapSizeBits / 8)
	managedLengthSize int

	// Direct blocks in linear heap order: each block's file address and
	// size. A managed heap id's linear offset translates through this
	// list to a file-absolute offset.
	blocks []directBlock
}

type directBlock struct {
	addr uint64
	size uint64
}

// OpenFractalHeap parses the "FRHP" header at the given address and
// walks the doubling table to materialize the ordered direct-block
// list.
func OpenFractalHeap(r utils.ReaderAt, address uint64, sb *core.Superblock) (*FractalHeap, error) {
	o, l := int(sb.OffsetSize), int(sb.LengthSize)
	size := 14 + 12*l + 3*o + 2 + 2 + 2 + 2 + 4
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("fractal heap header read failed", err)
	}
	if string(buf[:4]) != "FRHP" {
		return nil, utils.Corruptf("fractal heap at %d: bad signature %q", address, buf[:4])
	}

	h := &FractalHeap{
		MaxManagedObjSize: binary.LittleEndian.Uint32(buf[10:14]),
	}

	// Skip the statistics run: next huge id (L), huge B-tree address (O),
	// free space (L), free-space manager address (O), then eight more
	// length-size counters.
	pos := 14 + l + o + l + o + 8*l

	h.TableWidth = binary.LittleEndian.Uint16(buf[pos:])
	pos += 2
	h.StartingBlockSize = utils.Uint(buf[pos:], sb.LengthSize)
	pos += l
	h.MaxDirectBlockSize = utils.Uint(buf[pos:], sb.LengthSize)
	pos += l
	h.MaxHeapSizeBits = binary.LittleEndian.Uint16(buf[pos:])
	pos += 2
	pos += 2 // starting rows in root indirect block
	h.RootBlockAddr = utils.Uint(buf[pos:], sb.OffsetSize)
	pos += o
	h.RootRows = binary.LittleEndian.Uint16(buf[pos:])

	if h.TableWidth == 0 || h.StartingBlockSize == 0 {
		return nil, utils.Corruptf("fractal heap at %d: zero table width or block size", address)
	}

	h.heapOffsetSize = int(h.MaxHeapSizeBits+7) / 8

	// Width of the managed-object length field:
	// ceil(bit_length(min(max direct block size, max managed size)) / 8).
	limit := h.MaxDirectBlockSize
	if uint64(h.MaxManagedObjSize) < limit {
		limit = uint64(h.MaxManagedObjSize)
	}
	h.managedLengthSize = (bits.Len64(limit) + 7) / 8

	if !sb.IsUndefined(h.RootBlockAddr) {
		if h.RootRows > 0 {
			if err := h.walkIndirect(r, h.RootBlockAddr, h.RootRows, sb); err != nil {
				return nil, err
			}
		} else {
			h.blocks = append(h.blocks, directBlock{addr: h.RootBlockAddr, size: h.StartingBlockSize})
		}
	}

	return h, nil
}

// maxDirectRows is the number of doubling-table rows holding direct
// blocks: log2(max direct size) - log2(starting size) + 2.
func (h *FractalHeap) maxDirectRows() int {
	return bits.Len64(h.MaxDirectBlockSize) - bits.Len64(h.StartingBlockSize) + 2
}

// rowBlockSize is the block size for a doubling-table row:
// max(1, 2^(row-1)) * starting block size.
func (h *FractalHeap) rowBlockSize(row int) uint64 {
	if row < 2 {
		return h.StartingBlockSize
	}
	return h.StartingBlockSize << uint(row-1)
}

// walkIndirect appends the direct blocks reachable from an indirect
// block ("FHIB"), in table order, recursing into child indirect blocks.
func (h *FractalHeap) walkIndirect(r utils.ReaderAt, address uint64, nrows uint16, sb *core.Superblock) error {
	headerSize := 5 + int(sb.OffsetSize) + h.heapOffsetSize
	entries := int(nrows) * int(h.TableWidth)
	buf := make([]byte, headerSize+entries*int(sb.OffsetSize))
	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return utils.WrapError("fractal heap indirect block read failed", err)
	}
	if string(buf[:4]) != "FHIB" {
		return utils.Corruptf("indirect block at %d: bad signature %q", address, buf[:4])
	}

	maxDirect := h.maxDirectRows() * int(h.TableWidth)
	for i := 0; i < entries; i++ {
		child := utils.Uint(buf[headerSize+i*int(sb.OffsetSize):], sb.OffsetSize)
		if sb.IsUndefined(child) {
			// Blocks are allocated in table order; the first undefined
			// entry ends the table.
			break
		}

		row := i / int(h.TableWidth)
		blockSize := h.rowBlockSize(row)
		if i < maxDirect {
			if err := h.checkDirect(r, child, sb); err != nil {
				return err
			}
			h.blocks = append(h.blocks, directBlock{addr: child, size: blockSize})
			continue
		}

		childRows := uint16(bits.Len64(blockSize / h.StartingBlockSize))
		if err := h.walkIndirect(r, child, childRows, sb); err != nil {
			return err
		}
	}
	return nil
}

// checkDirect validates a direct block's "FHDB" signature.
func (h *FractalHeap) checkDirect(r utils.ReaderAt, address uint64, sb *core.Superblock) error {
	sig := utils.GetBuffer(4)
	defer utils.ReleaseBuffer(sig)
	if _, err := r.ReadAt(sig, int64(address)); err != nil {
		return utils.WrapError("fractal heap direct block read failed", err)
	}
	if string(sig) != "FHDB" {
		return utils.Corruptf("direct block at %d: bad signature %q", address, sig)
	}
	return nil
}

// Resolve translates a managed heap id to the file-absolute byte offset
// and length of the object it names.
//
// The id's first byte packs {version:2, idtype:2, reserved:4} in its
// high bits; only idtype 0 (managed) is supported. The linear heap
// offset follows (heap-offset-size bytes), then the object length
// (managed-length-size bytes).
func (h *FractalHeap) Resolve(heapID []byte) (offset uint64, length uint64, err error) {
	if len(heapID) < 1 {
		return 0, 0, utils.Corruptf("empty fractal heap id")
	}
	idType := (heapID[0] >> 4) & 0b11
	if idType != 0 {
		return 0, 0, fmt.Errorf("fractal heap id type %d: %w", idType, utils.ErrUnsupportedVersion)
	}
	if len(heapID) < 1+h.heapOffsetSize+h.managedLengthSize {
		return 0, 0, utils.Corruptf("fractal heap id too short (%d bytes)", len(heapID))
	}

	linear := utils.Uint(heapID[1:], uint8(h.heapOffsetSize))
	length = utils.Uint(heapID[1+h.heapOffsetSize:], uint8(h.managedLengthSize))

	// Translate the linear offset through the ordered block list. Block
	// linear spaces are contiguous in table order and include each
	// block's own header bytes.
	var base uint64
	for _, b := range h.blocks {
		if linear < base+b.size {
			return b.addr + (linear - base), length, nil
		}
		base += b.size
	}
	return 0, 0, utils.Corruptf("fractal heap offset %d beyond %d mapped bytes", linear, base)
}
