package structures

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/h5r/internal/core"
	"github.com/scigolib/h5r/internal/utils"
)

// BTreeV2 record types used by the reader.
const (
	// RecordTypeLinkOrder indexes dense links by creation order.
	RecordTypeLinkOrder uint8 = 6
)

// BTreeV2 is a parsed version 2 B-tree header ("BTHD"). Only leaf
// traversal is supported: a tree with depth > 0 is rejected.
type BTreeV2 struct {
	Version      uint8
	Type         uint8
	NodeSize     uint32
	RecordSize   uint16
	Depth        uint16
	RootAddr     uint64
	RootRecords  uint16
	TotalRecords uint64
}

// OpenBTreeV2 parses the v2 B-tree header at the given address.
//
// Layout: "BTHD", version, type, node size (u32), record size (u16),
// depth (u16), split and merge percents, root node address, number of
// records in root (u16), total records (length-size), checksum.
func OpenBTreeV2(r utils.ReaderAt, address uint64, sb *core.Superblock) (*BTreeV2, error) {
	size := 16 + int(sb.OffsetSize) + 2 + int(sb.LengthSize) + 4
	buf := utils.GetBuffer(size)
	defer utils.ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("v2 B-tree header read failed", err)
	}
	if string(buf[:4]) != "BTHD" {
		return nil, utils.Corruptf("v2 B-tree at %d: bad signature %q", address, buf[:4])
	}

	t := &BTreeV2{
		Version:    buf[4],
		Type:       buf[5],
		NodeSize:   binary.LittleEndian.Uint32(buf[6:10]),
		RecordSize: binary.LittleEndian.Uint16(buf[10:12]),
		Depth:      binary.LittleEndian.Uint16(buf[12:14]),
	}
	pos := 16
	t.RootAddr = utils.Uint(buf[pos:], sb.OffsetSize)
	pos += int(sb.OffsetSize)
	t.RootRecords = binary.LittleEndian.Uint16(buf[pos:])
	pos += 2
	t.TotalRecords = utils.Uint(buf[pos:], sb.LengthSize)

	return t, nil
}

// LinkOrderRecord is a type 6 record: a dense link indexed by creation
// order, with the fractal heap id locating the link message body.
type LinkOrderRecord struct {
	CreationOrder uint64
	HeapID        [7]byte
}

// LinkOrderRecords iterates the root leaf node's type 6 records in
// stored (creation) order.
func (t *BTreeV2) LinkOrderRecords(r utils.ReaderAt, sb *core.Superblock, fn func(LinkOrderRecord) error) error {
	if t.Type != RecordTypeLinkOrder {
		return utils.Corruptf("v2 B-tree type %d is not a creation-order link index", t.Type)
	}
	if t.Depth != 0 {
		return fmt.Errorf("v2 B-tree internal nodes (depth %d): %w", t.Depth, utils.ErrUnsupportedVersion)
	}
	if sb.IsUndefined(t.RootAddr) || t.RootRecords == 0 {
		return nil
	}

	// Leaf node: "BTLF", version, type, then the packed records followed
	// by a 4-byte checksum.
	size := 6 + int(t.RootRecords)*int(t.RecordSize)
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, int64(t.RootAddr)); err != nil {
		return utils.WrapError("v2 B-tree leaf read failed", err)
	}
	if string(buf[:4]) != "BTLF" {
		return utils.Corruptf("v2 B-tree leaf at %d: bad signature %q", t.RootAddr, buf[:4])
	}
	if buf[5] != t.Type {
		return utils.Corruptf("v2 B-tree leaf type %d does not match header type %d", buf[5], t.Type)
	}

	pos := 6
	for i := 0; i < int(t.RootRecords); i++ {
		rec := LinkOrderRecord{
			CreationOrder: binary.LittleEndian.Uint64(buf[pos:]),
		}
		copy(rec.HeapID[:], buf[pos+8:pos+15])
		if err := fn(rec); err != nil {
			return err
		}
		pos += int(t.RecordSize)
	}
	return nil
}
