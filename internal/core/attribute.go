package core

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/scigolib/h5r/internal/utils"
)

// Attribute is one decoded attribute message: name, element type, shape
// and the raw inline value bytes.
type Attribute struct {
	Name     string
	Datatype *Datatype
	Shape    []uint64
	Data     []byte
}

// ReadAttribute decodes an attribute message (type 0x000C) at the given
// absolute offset.
//
// Version 1: {version:u8, reserved, name size:u16, datatype size:u16,
// dataspace size:u16}, then the name, the datatype message and the
// dataspace message, each padded to a multiple of 8; the value follows.
// Version 3: {version:u8, flags:u8, name size:u16, datatype size:u16,
// dataspace size:u16, charset:u8} with no padding anywhere.
func ReadAttribute(r utils.ReaderAt, offset uint64, size int, sb *Superblock) (*Attribute, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, int64(offset)); err != nil {
		return nil, utils.WrapError("attribute read failed", err)
	}
	if len(buf) < 8 {
		return nil, utils.Corruptf("attribute message too short")
	}

	version := buf[0]
	nameSize := int(binary.LittleEndian.Uint16(buf[2:4]))
	datatypeSize := int(binary.LittleEndian.Uint16(buf[4:6]))
	dataspaceSize := int(binary.LittleEndian.Uint16(buf[6:8]))

	var pos int
	pad := func(n int) int { return n }
	switch version {
	case 1:
		pos = 8
		pad = func(n int) int { return (n + 7) &^ 7 }
	case 2:
		pos = 8
	case 3:
		pos = 9 // extra character-set byte
	default:
		return nil, fmt.Errorf("attribute version %d: %w", version, utils.ErrUnsupportedVersion)
	}

	if pos+pad(nameSize) > len(buf) {
		return nil, utils.Corruptf("attribute name overruns message")
	}
	attr := &Attribute{Name: strings.TrimRight(string(buf[pos:pos+nameSize]), "\x00")}
	pos += pad(nameSize)

	dt, err := ReadDatatype(r, offset+uint64(pos))
	if err != nil {
		return nil, utils.WrapError("attribute datatype parse failed", err)
	}
	attr.Datatype = dt
	pos += pad(datatypeSize)

	ds, err := ReadDataspace(r, offset+uint64(pos), sb)
	if err != nil {
		return nil, utils.WrapError("attribute dataspace parse failed", err)
	}
	attr.Shape = ds.Shape
	pos += pad(dataspaceSize)

	if pos < len(buf) {
		attr.Data = append([]byte(nil), buf[pos:]...)
	}
	return attr, nil
}

// Value interprets the raw bytes for scalar fixed-point and float
// attributes. Other shapes and classes return the raw bytes.
func (a *Attribute) Value() interface{} {
	dt := a.Datatype
	if dt == nil || len(a.Shape) > 0 || !dt.Memmappable() || len(a.Data) < int(dt.Size) {
		return a.Data
	}

	order := byteOrder(dt.BigEndian)
	switch {
	case dt.Class == ClassFloat && dt.Size == 8:
		return math.Float64frombits(order.Uint64(a.Data))
	case dt.Class == ClassFloat && dt.Size == 4:
		return float64(math.Float32frombits(order.Uint32(a.Data)))
	case dt.Class == ClassFixedPoint && dt.Size == 8:
		v := order.Uint64(a.Data)
		if dt.Signed {
			return int64(v)
		}
		return v
	case dt.Class == ClassFixedPoint && dt.Size == 4:
		v := order.Uint32(a.Data)
		if dt.Signed {
			return int64(int32(v))
		}
		return uint64(v)
	case dt.Class == ClassFixedPoint && dt.Size == 2:
		v := order.Uint16(a.Data)
		if dt.Signed {
			return int64(int16(v))
		}
		return uint64(v)
	case dt.Class == ClassFixedPoint && dt.Size == 1:
		if dt.Signed {
			return int64(int8(a.Data[0]))
		}
		return uint64(a.Data[0])
	}
	return a.Data
}

func byteOrder(big bool) binary.ByteOrder {
	if big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
