// Package core parses the HDF5 file-level structures: the superblock,
// object headers, and the header messages that describe dataspaces,
// datatypes, layouts, links and filter pipelines.
package core

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/h5r/internal/utils"
)

// Signature is the 8-byte HDF5 format signature.
const Signature = "\x89HDF\r\n\x1a\n"

// Superblock holds the file-level invariants every other parser needs:
// field widths, the root-group entrypoint and the driver-info location.
// All multi-byte fields in the format are little-endian.
type Superblock struct {
	Version    uint8
	OffsetSize uint8 // width of address fields, 4 or 8
	LengthSize uint8 // width of length fields, 4 or 8

	Start       uint64 // absolute offset the signature was found at
	BaseAddress uint64
	EndOfFile   uint64

	// Entrypoint is the root group's object-header address. For v0/v1
	// files it is resolved from the root symbol-table entry; the cached
	// B-tree and local-heap addresses of that entry are kept alongside.
	Entrypoint    uint64
	RootBTreeAddr uint64
	RootHeapAddr  uint64

	// ExtensionAddress is the superblock extension object header
	// (v2+ only; undefined otherwise).
	ExtensionAddress  uint64
	DriverInfoAddress uint64

	GroupLeafNodeK     uint16
	GroupInternalNodeK uint16
}

// UndefinedAddress returns the sentinel 2^(8*OffsetSize)-1 meaning
// "not allocated".
func (sb *Superblock) UndefinedAddress() uint64 {
	if sb.OffsetSize >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(sb.OffsetSize)) - 1
}

// IsUndefined reports whether addr equals the undefined sentinel.
func (sb *Superblock) IsUndefined(addr uint64) bool {
	return addr == sb.UndefinedAddress()
}

// FindSuperblock scans for the signature at offsets 0, 512, 1024, 2048, …
// (doubling) and parses the superblock found there.
func FindSuperblock(r utils.ReaderAt, size int64) (*Superblock, error) {
	sig := utils.GetBuffer(9)
	defer utils.ReleaseBuffer(sig)

	var start int64
	for {
		if _, err := r.ReadAt(sig, start); err != nil {
			return nil, utils.WrapError("superblock signature read failed", err)
		}
		if string(sig[:8]) == Signature {
			break
		}
		if start == 0 {
			start = 512
		} else {
			start *= 2
		}
		if start >= size {
			return nil, utils.Corruptf("no HDF5 signature found")
		}
	}

	version := sig[8]
	switch version {
	case 0, 1:
		return readSuperblockV01(r, uint64(start), version)
	case 2, 3:
		return readSuperblockV23(r, uint64(start), version)
	default:
		return nil, fmt.Errorf("superblock version %d: %w", version, utils.ErrUnsupportedVersion)
	}
}

// readSuperblockV01 parses superblock versions 0 and 1.
//
// Layout (offsets relative to the signature):
//
//	Bytes 0-7:   Signature
//	Byte 8:      Superblock version (0 or 1)
//	Byte 9:      Free-space storage version
//	Byte 10:     Root symbol-table-entry version
//	Byte 11:     Reserved
//	Byte 12:     Shared header message format version
//	Byte 13:     Size of offsets
//	Byte 14:     Size of lengths
//	Byte 15:     Reserved
//	Bytes 16-17: Group leaf node K
//	Bytes 18-19: Group internal node K
//	Bytes 20-23: File consistency flags
//	(v1 only)    Indexed storage internal node K + 2 reserved bytes
//	Then:        Base address, free-space address, end-of-file address,
//	             driver-info block address (offset-size each)
//	Then:        Root group symbol-table entry
func readSuperblockV01(r utils.ReaderAt, start uint64, version uint8) (*Superblock, error) {
	buf := utils.GetBuffer(24)
	if _, err := r.ReadAt(buf, int64(start)); err != nil {
		utils.ReleaseBuffer(buf)
		return nil, utils.WrapError("superblock read failed", err)
	}

	sb := &Superblock{
		Version:            version,
		OffsetSize:         buf[13],
		LengthSize:         buf[14],
		Start:              start,
		GroupLeafNodeK:     binary.LittleEndian.Uint16(buf[16:18]),
		GroupInternalNodeK: binary.LittleEndian.Uint16(buf[18:20]),
	}
	utils.ReleaseBuffer(buf)

	if err := sb.checkSizes(); err != nil {
		return nil, err
	}

	pos := int64(start) + 24
	if version == 1 {
		pos += 4 // indexed storage K + reserved
	}

	o := sb.OffsetSize
	addrs := utils.GetBuffer(int(o) * 4)
	defer utils.ReleaseBuffer(addrs)
	if _, err := r.ReadAt(addrs, pos); err != nil {
		return nil, utils.WrapError("superblock address read failed", err)
	}
	sb.BaseAddress = utils.Uint(addrs[0:], o)
	sb.EndOfFile = utils.Uint(addrs[2*int(o):], o)
	sb.DriverInfoAddress = utils.Uint(addrs[3*int(o):], o)
	sb.ExtensionAddress = sb.UndefinedAddress()
	pos += int64(o) * 4

	// Root group symbol-table entry: link name offset, object header
	// address, cache type, reserved, 16-byte scratch pad. When the cache
	// type is 1 the scratch pad carries the root B-tree and local heap
	// addresses.
	entry := utils.GetBuffer(2*int(o) + 8 + 16)
	defer utils.ReleaseBuffer(entry)
	if _, err := r.ReadAt(entry, pos); err != nil {
		return nil, utils.WrapError("root symbol table entry read failed", err)
	}
	sb.Entrypoint = utils.Uint(entry[int(o):], o)
	cacheType := binary.LittleEndian.Uint32(entry[2*int(o):])
	if cacheType == 1 {
		scratch := entry[2*int(o)+8:]
		sb.RootBTreeAddr = utils.Uint(scratch, o)
		sb.RootHeapAddr = utils.Uint(scratch[int(o):], o)
	}

	return sb, nil
}

// readSuperblockV23 parses superblock versions 2 and 3.
//
// Layout (offsets relative to the signature):
//
//	Bytes 0-7: Signature
//	Byte 8:    Superblock version (2 or 3)
//	Byte 9:    Size of offsets
//	Byte 10:   Size of lengths
//	Byte 11:   File consistency flags
//	Then:      Base address, superblock extension address, end-of-file
//	           address, root object header address (offset-size each)
//	Then:      4-byte checksum
func readSuperblockV23(r utils.ReaderAt, start uint64, version uint8) (*Superblock, error) {
	hdr := utils.GetBuffer(12)
	if _, err := r.ReadAt(hdr, int64(start)); err != nil {
		utils.ReleaseBuffer(hdr)
		return nil, utils.WrapError("superblock read failed", err)
	}
	sb := &Superblock{
		Version:    version,
		OffsetSize: hdr[9],
		LengthSize: hdr[10],
		Start:      start,
	}
	utils.ReleaseBuffer(hdr)

	if err := sb.checkSizes(); err != nil {
		return nil, err
	}

	o := sb.OffsetSize
	addrs := utils.GetBuffer(int(o) * 4)
	defer utils.ReleaseBuffer(addrs)
	if _, err := r.ReadAt(addrs, int64(start)+12); err != nil {
		return nil, utils.WrapError("superblock address read failed", err)
	}
	sb.BaseAddress = utils.Uint(addrs[0:], o)
	sb.ExtensionAddress = utils.Uint(addrs[int(o):], o)
	sb.EndOfFile = utils.Uint(addrs[2*int(o):], o)
	sb.Entrypoint = utils.Uint(addrs[3*int(o):], o)
	sb.DriverInfoAddress = sb.UndefinedAddress()

	return sb, nil
}

func (sb *Superblock) checkSizes() error {
	valid := func(s uint8) bool { return s == 4 || s == 8 }
	if !valid(sb.OffsetSize) || !valid(sb.LengthSize) {
		return utils.Corruptf("invalid field sizes: offsets=%d lengths=%d", sb.OffsetSize, sb.LengthSize)
	}
	return nil
}
