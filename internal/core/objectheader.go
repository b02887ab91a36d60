package core

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/h5r/internal/utils"
)

// MessageType identifies a header-message body format.
type MessageType uint16

// Header message types used by the reader.
const (
	MsgNil            MessageType = 0x0000
	MsgDataspace      MessageType = 0x0001
	MsgLinkInfo       MessageType = 0x0002
	MsgDatatype       MessageType = 0x0003
	MsgFillValueOld   MessageType = 0x0004
	MsgFillValue      MessageType = 0x0005
	MsgLink           MessageType = 0x0006
	MsgDataLayout     MessageType = 0x0008
	MsgGroupInfo      MessageType = 0x000A
	MsgFilterPipeline MessageType = 0x000B
	MsgAttribute      MessageType = 0x000C
	MsgContinuation   MessageType = 0x0010
	MsgSymbolTable    MessageType = 0x0011
	MsgFileSpaceInfo  MessageType = 0x0017
)

// Message is one header-message record. Offset is the absolute byte
// offset of the message body (past the prefix and any creation-order
// bytes), so decoders can seek to it directly.
type Message struct {
	Type   MessageType
	Offset uint64
	Size   uint16
	Flags  uint8
}

// ObjectHeader is the parsed message sequence of one HDF5 object.
// Continuation chunks are followed transparently; Messages holds the
// full sequence across all chunks in on-disk order.
type ObjectHeader struct {
	Version  uint8
	Address  uint64
	Messages []Message
}

// HasMessage reports whether a message of the given type is present.
func (oh *ObjectHeader) HasMessage(t MessageType) bool {
	_, ok := oh.FindMessage(t)
	return ok
}

// FindMessage returns the first message of the given type.
func (oh *ObjectHeader) FindMessage(t MessageType) (Message, bool) {
	for _, m := range oh.Messages {
		if m.Type == t {
			return m, true
		}
	}
	return Message{}, false
}

// IsDataset reports whether the header describes a dataset: it carries
// both a dataspace and a data layout message.
func (oh *ObjectHeader) IsDataset() bool {
	return oh.HasMessage(MsgDataspace) && oh.HasMessage(MsgDataLayout)
}

// ReadObjectHeader parses the object header at the given address,
// dispatching on the prefix to the v1 or v2 layout.
func ReadObjectHeader(r utils.ReaderAt, address uint64, sb *Superblock) (*ObjectHeader, error) {
	prefix := utils.GetBuffer(4)
	defer utils.ReleaseBuffer(prefix)

	if _, err := r.ReadAt(prefix, int64(address)); err != nil {
		return nil, utils.WrapError("object header read failed", err)
	}

	oh := &ObjectHeader{Address: address}
	var err error
	switch {
	case string(prefix) == "OHDR":
		oh.Version = 2
		oh.Messages, err = readV2Messages(r, address, sb)
	case prefix[0] == 1:
		oh.Version = 1
		oh.Messages, err = readV1Messages(r, address, sb)
	default:
		return nil, utils.Corruptf("object header at %d: bad prefix % x", address, prefix)
	}
	if err != nil {
		return nil, err
	}
	return oh, nil
}

// continuation identifies one pending continuation chunk.
type continuation struct {
	addr   uint64
	length uint64
}

// readV1Messages walks a version 1 object header.
//
// Prefix (16 bytes): version, reserved, message count (u16), reference
// count (u32), header size (u32), 4 bytes padding. Each message is an
// 8-byte prefix {type:u16, size:u16, flags:u8, 3 reserved} followed by
// the body, laid out 8-byte aligned by the writer. Continuation messages
// (type 0x0010) queue another block of raw messages; when the current
// block is exhausted before the message count is reached, the walk jumps
// to the next queued block.
func readV1Messages(r utils.ReaderAt, address uint64, sb *Superblock) ([]Message, error) {
	hdr := utils.GetBuffer(16)
	defer utils.ReleaseBuffer(hdr)
	if _, err := r.ReadAt(hdr, int64(address)); err != nil {
		return nil, utils.WrapError("v1 header read failed", err)
	}

	count := binary.LittleEndian.Uint16(hdr[2:4])
	headerSize := binary.LittleEndian.Uint32(hdr[8:12])

	buf := make([]byte, headerSize)
	if _, err := r.ReadAt(buf, int64(address)+16); err != nil {
		return nil, utils.WrapError("v1 message block read failed", err)
	}
	globalOffset := address + 16

	var messages []Message
	var queue []continuation
	offset := 0

	for i := uint16(0); i < count; i++ {
		if offset+8 > len(buf) {
			if len(queue) == 0 {
				break
			}
			cont := queue[0]
			queue = queue[1:]
			buf = make([]byte, cont.length)
			if _, err := r.ReadAt(buf, int64(cont.addr)); err != nil {
				return nil, utils.WrapError("continuation block read failed", err)
			}
			globalOffset = cont.addr
			offset = 0
		}

		msg := Message{
			Type:   MessageType(binary.LittleEndian.Uint16(buf[offset:])),
			Size:   binary.LittleEndian.Uint16(buf[offset+2:]),
			Flags:  buf[offset+4],
			Offset: globalOffset + 8,
		}
		if offset+8+int(msg.Size) > len(buf) {
			return nil, utils.Corruptf("v1 message %d overruns header block", i)
		}

		if msg.Type == MsgContinuation {
			body := buf[offset+8:]
			addr := utils.Uint(body, sb.OffsetSize)
			length := utils.Uint(body[sb.OffsetSize:], sb.LengthSize)
			queue = append(queue, continuation{addr: addr, length: length})
		}

		messages = append(messages, msg)
		offset += 8 + int(msg.Size)
		globalOffset += 8 + uint64(msg.Size)
	}

	return messages, nil
}

// readV2Messages walks a version 2 object header.
//
// Prefix: "OHDR", version byte (2), flags byte. Flag bits: 0-1 width of
// the chunk-size field (1<<bits), 2 creation-order bytes present in
// message prefixes, 4 attribute phase-change thresholds present
// (4 bytes), 5 four 4-byte timestamps present. Message prefix is
// {type:u8, size:u16, flags:u8} plus the optional 2 creation-order
// bytes. Continuation chunks begin with an "OCHK" signature that is not
// part of the message stream, and every chunk ends with a 4-byte
// checksum.
func readV2Messages(r utils.ReaderAt, address uint64, sb *Superblock) ([]Message, error) {
	hdr := utils.GetBuffer(6)
	if _, err := r.ReadAt(hdr, int64(address)); err != nil {
		utils.ReleaseBuffer(hdr)
		return nil, utils.WrapError("v2 header read failed", err)
	}
	if hdr[4] != 2 {
		v := hdr[4]
		utils.ReleaseBuffer(hdr)
		return nil, fmt.Errorf("object header version %d: %w", v, utils.ErrUnsupportedVersion)
	}
	flags := hdr[5]
	utils.ReleaseBuffer(hdr)

	chunkSizeWidth := uint8(1) << (flags & 0b11)
	creationOrderSize := 0
	if flags&0b100 != 0 {
		creationOrderSize = 2
	}

	pos := int64(address) + 6
	if flags&0b100000 != 0 {
		pos += 16 // access/modification/change/birth times
	}
	if flags&0b10000 != 0 {
		pos += 4 // compact/dense attribute thresholds
	}

	chunkSize, err := utils.ReadUint(r, pos, chunkSizeWidth)
	if err != nil {
		return nil, utils.WrapError("v2 chunk size read failed", err)
	}
	pos += int64(chunkSizeWidth)

	buf := make([]byte, chunkSize)
	if _, err := r.ReadAt(buf, pos); err != nil {
		return nil, utils.WrapError("v2 message block read failed", err)
	}
	globalOffset := uint64(pos)

	var messages []Message
	var queue []continuation
	offset := 0
	prefixLen := 4 + creationOrderSize

	// Stop pulling once only the checksum (plus possible gap) remains in
	// the current chunk and nothing is queued.
	for len(buf)-offset > 4+prefixLen || len(queue) > 0 {
		if len(buf)-offset <= 4+prefixLen {
			cont := queue[0]
			queue = queue[1:]
			block := make([]byte, cont.length)
			if _, err := r.ReadAt(block, int64(cont.addr)); err != nil {
				return nil, utils.WrapError("continuation chunk read failed", err)
			}
			if string(block[:4]) != "OCHK" {
				return nil, utils.Corruptf("continuation chunk at %d: bad signature %q", cont.addr, block[:4])
			}
			buf = block[4:]
			globalOffset = cont.addr + 4
			offset = 0
			continue
		}

		msg := Message{
			Type:   MessageType(buf[offset]),
			Size:   binary.LittleEndian.Uint16(buf[offset+1:]),
			Flags:  buf[offset+3],
			Offset: globalOffset + uint64(prefixLen),
		}
		if offset+prefixLen+int(msg.Size) > len(buf) {
			return nil, utils.Corruptf("v2 message overruns chunk at %d", globalOffset)
		}

		if msg.Type == MsgContinuation {
			body := buf[offset+prefixLen:]
			addr := utils.Uint(body, sb.OffsetSize)
			length := utils.Uint(body[sb.OffsetSize:], sb.LengthSize)
			queue = append(queue, continuation{addr: addr, length: length})
		}

		messages = append(messages, msg)
		offset += prefixLen + int(msg.Size)
		globalOffset += uint64(prefixLen) + uint64(msg.Size)
	}

	return messages, nil
}
