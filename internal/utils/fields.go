package utils

import "encoding/binary"

// ReaderAt is a simplified interface for io.ReaderAt.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// Uint reads a little-endian unsigned integer of 1, 2, 4 or 8 bytes from
// the front of data. Superblock-driven field widths ("size of offsets",
// "size of lengths") funnel through here.
func Uint(data []byte, size uint8) uint64 {
	switch size {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(data))
	case 8:
		return binary.LittleEndian.Uint64(data)
	default:
		// Odd widths appear only in fractal-heap offset fields.
		var v uint64
		for i := int(size) - 1; i >= 0; i-- {
			v = v<<8 | uint64(data[i])
		}
		return v
	}
}

// ReadUint reads a little-endian unsigned integer of the given width at
// the specified absolute offset.
func ReadUint(r ReaderAt, offset int64, size uint8) (uint64, error) {
	buf := GetBuffer(int(size))
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return Uint(buf, size), nil
}
