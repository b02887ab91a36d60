package structures

import (
	"github.com/scigolib/h5r/internal/core"
	"github.com/scigolib/h5r/internal/utils"
)

// LocalHeap holds the name storage of a v1 group: a byte segment of
// null-terminated strings referenced by heap offsets from the group
// B-tree and its symbol-table nodes. The whole data segment is read
// once; name lookups are then in-memory.
type LocalHeap struct {
	DataSegmentAddr uint64
	Data            []byte
}

// LoadLocalHeap parses the local heap header at the given address and
// reads its data segment.
//
// Header: "HEAP", version, 3 reserved, data segment size (length-size),
// free-list head offset (length-size), data segment address
// (offset-size).
func LoadLocalHeap(r utils.ReaderAt, address uint64, sb *core.Superblock) (*LocalHeap, error) {
	headerSize := 8 + 2*int(sb.LengthSize) + int(sb.OffsetSize)
	buf := utils.GetBuffer(headerSize)
	defer utils.ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("local heap header read failed", err)
	}
	if string(buf[:4]) != "HEAP" {
		return nil, utils.Corruptf("local heap at %d: bad signature %q", address, buf[:4])
	}

	segmentSize := utils.Uint(buf[8:], sb.LengthSize)
	segmentAddr := utils.Uint(buf[8+2*int(sb.LengthSize):], sb.OffsetSize)

	h := &LocalHeap{
		DataSegmentAddr: segmentAddr,
		Data:            make([]byte, segmentSize),
	}
	if segmentSize > 0 {
		if _, err := r.ReadAt(h.Data, int64(segmentAddr)); err != nil {
			return nil, utils.WrapError("local heap data read failed", err)
		}
	}
	return h, nil
}

// Name returns the null-terminated string at the given heap offset.
func (h *LocalHeap) Name(offset uint64) (string, error) {
	if offset >= uint64(len(h.Data)) {
		return "", utils.Corruptf("local heap offset %d beyond segment of %d bytes", offset, len(h.Data))
	}
	end := offset
	for end < uint64(len(h.Data)) && h.Data[end] != 0 {
		end++
	}
	if end == uint64(len(h.Data)) {
		return "", utils.Corruptf("local heap name at %d not null-terminated", offset)
	}
	return string(h.Data[offset:end]), nil
}
