package core

import (
	"github.com/scigolib/h5r/internal/utils"
)

// Link types from the format specification.
const (
	LinkTypeHard     uint8 = 0
	LinkTypeSoft     uint8 = 1
	LinkTypeExternal uint8 = 64
)

// Link is one decoded link message. Hard links carry the target
// object-header address; soft and external links keep their raw target
// payload (a heap path or file/path pair).
type Link struct {
	Name          string
	Type          uint8
	Address       uint64
	CreationOrder uint64
	HasOrder      bool
	Target        []byte
}

// ParseLinkBytes decodes a link message (type 0x0006) from an in-memory
// body. Dense link storage hands bodies out of the fractal heap, so the
// decoder works on bytes rather than on the byte source.
//
// Layout: {version:u8, flags:u8}, then optional fields governed by the
// flags: bit 3 link type (u8), bit 2 creation order (u64), bit 4 name
// character set (u8). Bits 0-1 select the width of the name-length field
// (1, 2, 4 or 8 bytes). The name follows, then type-specific info: hard
// links an object-header address, soft/external links a u16-prefixed
// payload.
func ParseLinkBytes(data []byte, sb *Superblock) (*Link, error) {
	if len(data) < 3 {
		return nil, utils.Corruptf("link message too short")
	}
	version := data[0]
	flags := data[1]
	if version != 1 {
		return nil, utils.Corruptf("link message version %d", version)
	}

	l := &Link{Type: LinkTypeHard}
	pos := 2

	if flags&0b1000 != 0 {
		l.Type = data[pos]
		pos++
	}
	if flags&0b100 != 0 {
		if pos+8 > len(data) {
			return nil, utils.Corruptf("link message truncated at creation order")
		}
		l.CreationOrder = utils.Uint(data[pos:], 8)
		l.HasOrder = true
		pos += 8
	}
	if flags&0b10000 != 0 {
		pos++ // character set; names decode as UTF-8 either way
	}

	nameLenSize := uint8(1) << (flags & 0b11)
	if pos+int(nameLenSize) > len(data) {
		return nil, utils.Corruptf("link message truncated at name length")
	}
	nameLen := int(utils.Uint(data[pos:], nameLenSize))
	pos += int(nameLenSize)

	if pos+nameLen > len(data) {
		return nil, utils.Corruptf("link message truncated at name")
	}
	l.Name = string(data[pos : pos+nameLen])
	pos += nameLen

	switch l.Type {
	case LinkTypeHard:
		if pos+int(sb.OffsetSize) > len(data) {
			return nil, utils.Corruptf("hard link %q truncated at address", l.Name)
		}
		l.Address = utils.Uint(data[pos:], sb.OffsetSize)
	case LinkTypeSoft, LinkTypeExternal:
		if pos+2 > len(data) {
			return nil, utils.Corruptf("link %q truncated at target", l.Name)
		}
		targetLen := int(utils.Uint(data[pos:], 2))
		pos += 2
		if pos+targetLen > len(data) {
			return nil, utils.Corruptf("link %q truncated target", l.Name)
		}
		l.Target = append([]byte(nil), data[pos:pos+targetLen]...)
	default:
		return nil, utils.Corruptf("link %q has unknown type %d", l.Name, l.Type)
	}

	return l, nil
}

// ReadLinkMessage decodes a link message located in an object header.
func ReadLinkMessage(r utils.ReaderAt, offset uint64, size int, sb *Superblock) (*Link, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, int64(offset)); err != nil {
		return nil, utils.WrapError("link message read failed", err)
	}
	return ParseLinkBytes(buf, sb)
}

// LinkInfo is the decoded link info message (type 0x0002) describing
// how a group stores its links. Undefined addresses mean the group has
// no dense storage.
type LinkInfo struct {
	Flags             uint8
	MaxCreationIndex  uint64
	FractalHeapAddr   uint64
	NameBTreeAddr     uint64
	OrderBTreeAddr    uint64
	HasOrderBTreeAddr bool
}

// ReadLinkInfo decodes a link info message.
//
// Layout: {version:u8, flags:u8}; flag bit 0 adds a u64 maximum creation
// index; then fractal heap address and name-index v2 B-tree address;
// flag bit 1 adds the creation-order v2 B-tree address.
func ReadLinkInfo(r utils.ReaderAt, offset uint64, sb *Superblock) (*LinkInfo, error) {
	o := int(sb.OffsetSize)
	buf := utils.GetBuffer(2 + 8 + 3*o)
	defer utils.ReleaseBuffer(buf)
	if _, err := r.ReadAt(buf, int64(offset)); err != nil {
		return nil, utils.WrapError("link info read failed", err)
	}

	if buf[0] != 0 {
		return nil, utils.Corruptf("link info version %d", buf[0])
	}
	li := &LinkInfo{Flags: buf[1]}
	pos := 2

	if li.Flags&0b01 != 0 {
		li.MaxCreationIndex = utils.Uint(buf[pos:], 8)
		pos += 8
	}
	li.FractalHeapAddr = utils.Uint(buf[pos:], sb.OffsetSize)
	pos += o
	li.NameBTreeAddr = utils.Uint(buf[pos:], sb.OffsetSize)
	pos += o
	if li.Flags&0b10 != 0 {
		li.OrderBTreeAddr = utils.Uint(buf[pos:], sb.OffsetSize)
		li.HasOrderBTreeAddr = true
	}

	return li, nil
}

// ReadSymbolTableMessage decodes a symbol table message (type 0x0011):
// the v1 group B-tree address and the local heap address.
func ReadSymbolTableMessage(r utils.ReaderAt, offset uint64, sb *Superblock) (btreeAddr, heapAddr uint64, err error) {
	o := int(sb.OffsetSize)
	buf := utils.GetBuffer(2 * o)
	defer utils.ReleaseBuffer(buf)
	if _, err := r.ReadAt(buf, int64(offset)); err != nil {
		return 0, 0, utils.WrapError("symbol table message read failed", err)
	}
	return utils.Uint(buf, sb.OffsetSize), utils.Uint(buf[o:], sb.OffsetSize), nil
}
