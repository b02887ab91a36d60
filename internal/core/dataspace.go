package core

import (
	"fmt"

	"github.com/scigolib/h5r/internal/utils"
)

// Dataspace describes the rank and extents of a dataset's logical array.
// Maximum dimensions and permutation indices are ignored.
type Dataspace struct {
	Version uint8
	Shape   []uint64
}

// Rank returns the number of dimensions.
func (ds *Dataspace) Rank() int {
	return len(ds.Shape)
}

// NumElements returns the product of all extents.
func (ds *Dataspace) NumElements() uint64 {
	n := uint64(1)
	for _, d := range ds.Shape {
		n *= d
	}
	return n
}

// ReadDataspace decodes a dataspace message (type 0x0001) at the given
// absolute offset.
//
// Version 1: {version, rank, flags, reserved, reserved:u32}, extents at
// offset 8. Version 2: {version, rank, flags, type}, extents at offset 4.
// Each extent is a length-size field.
func ReadDataspace(r utils.ReaderAt, offset uint64, sb *Superblock) (*Dataspace, error) {
	hdr := utils.GetBuffer(2)
	if _, err := r.ReadAt(hdr, int64(offset)); err != nil {
		utils.ReleaseBuffer(hdr)
		return nil, utils.WrapError("dataspace read failed", err)
	}
	version := hdr[0]
	rank := int(hdr[1])
	utils.ReleaseBuffer(hdr)

	var dimsOffset uint64
	switch version {
	case 1:
		dimsOffset = offset + 8
	case 2:
		dimsOffset = offset + 4
	default:
		return nil, fmt.Errorf("dataspace version %d: %w", version, utils.ErrUnsupportedVersion)
	}

	ds := &Dataspace{Version: version, Shape: make([]uint64, rank)}
	if rank == 0 {
		return ds, nil
	}

	buf := utils.GetBuffer(rank * int(sb.LengthSize))
	defer utils.ReleaseBuffer(buf)
	if _, err := r.ReadAt(buf, int64(dimsOffset)); err != nil {
		return nil, utils.WrapError("dataspace extents read failed", err)
	}
	for i := 0; i < rank; i++ {
		ds.Shape[i] = utils.Uint(buf[i*int(sb.LengthSize):], sb.LengthSize)
	}
	return ds, nil
}
