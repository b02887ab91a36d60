package core

import (
	"fmt"

	"github.com/scigolib/h5r/internal/utils"
)

// Datatype class codes handled by the reader.
const (
	ClassFixedPoint     uint8 = 0
	ClassFloat          uint8 = 1
	ClassVariableLength uint8 = 9
)

// Character sets for string data.
const (
	CharSetASCII uint8 = 0
	CharSetUTF8  uint8 = 1
)

// Datatype is the semantic description of one dataset element.
type Datatype struct {
	Class   uint8
	Version uint8
	Size    uint32 // element size in bytes

	// Fixed-point and float fields.
	BigEndian bool
	Signed    bool

	// Fixed-point properties.
	BitOffset    uint16
	BitPrecision uint16

	// Variable-length fields.
	VLenString bool
	CharSet    uint8
}

// Memmappable reports whether raw storage bytes can be reinterpreted as
// elements directly (fixed-point and float; not vlen).
func (dt *Datatype) Memmappable() bool {
	return dt.Class == ClassFixedPoint || dt.Class == ClassFloat
}

// String renders the datatype in numpy-like notation, e.g. "<f8", ">i4".
func (dt *Datatype) String() string {
	order := "<"
	if dt.BigEndian {
		order = ">"
	}
	switch dt.Class {
	case ClassFixedPoint:
		kind := "u"
		if dt.Signed {
			kind = "i"
		}
		return fmt.Sprintf("%s%s%d", order, kind, dt.Size)
	case ClassFloat:
		return fmt.Sprintf("%sf%d", order, dt.Size)
	case ClassVariableLength:
		return "vlen-string"
	default:
		return fmt.Sprintf("class-%d", dt.Class)
	}
}

// ReadDatatype decodes a datatype message (type 0x0003) at the given
// absolute offset.
//
// The 8-byte header packs {class:4, version:4} into byte 0, the 24
// class-specific bit-field bytes into bytes 1-3 and the element size
// into bytes 4-7. Classes handled: fixed-point (endianness bit 0, sign
// bit 3, then {bit offset:u16, bit precision:u16} properties), float
// (endianness bit 0), and variable-length string (sub-kind in the low
// bits of byte 1, character set in byte 2).
func ReadDatatype(r utils.ReaderAt, offset uint64) (*Datatype, error) {
	hdr := utils.GetBuffer(12)
	defer utils.ReleaseBuffer(hdr)
	if _, err := r.ReadAt(hdr, int64(offset)); err != nil {
		return nil, utils.WrapError("datatype read failed", err)
	}

	dt := &Datatype{
		Class:   hdr[0] & 0x0F,
		Version: hdr[0] >> 4,
		Size:    uint32(hdr[4]) | uint32(hdr[5])<<8 | uint32(hdr[6])<<16 | uint32(hdr[7])<<24,
	}
	b0, b8 := hdr[1], hdr[2]

	switch dt.Class {
	case ClassFixedPoint:
		dt.BigEndian = b0&0x01 != 0
		dt.Signed = b0&0x08 != 0
		// Properties: bit offset and bit precision.
		dt.BitOffset = uint16(hdr[8]) | uint16(hdr[9])<<8
		dt.BitPrecision = uint16(hdr[10]) | uint16(hdr[11])<<8

	case ClassFloat:
		dt.BigEndian = b0&0x01 != 0

	case ClassVariableLength:
		kind := b0 & 0x0F
		if kind != 1 {
			return nil, fmt.Errorf("variable-length sequence (kind %d): %w", kind, utils.ErrUnsupportedDatatype)
		}
		dt.VLenString = true
		dt.CharSet = b8 & 0x03

	default:
		return nil, fmt.Errorf("datatype class %d: %w", dt.Class, utils.ErrUnsupportedDatatype)
	}

	return dt, nil
}
