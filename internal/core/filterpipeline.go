package core

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/scigolib/h5r/internal/utils"
)

// Filter ids consumed through the codec registry.
const (
	FilterDeflate    uint16 = 1
	FilterShuffle    uint16 = 2
	FilterFletcher32 uint16 = 3
)

// Filter describes one entry of a dataset's filter pipeline. Decoding is
// external; the reader only carries the descriptor.
type Filter struct {
	ID         uint16
	Flags      uint16
	Name       string
	ClientData []uint32
}

// ReadFilterPipeline decodes a filter pipeline message (type 0x000B) at
// the given absolute offset and returns the ordered filter list. Decode
// applies the filters in reverse of this order.
//
// Version 1: {version:u8, nfilters:u8}, 6 reserved bytes, then filter
// descriptions {id:u16, name length:u16, flags:u16, nclient:u16,
// name[padded to 8], client data[4*nclient], 4 pad bytes if nclient is
// odd}. Version 2 omits the reserved bytes and the padding, and omits
// the name-length field entirely when id < 256.
func ReadFilterPipeline(r utils.ReaderAt, offset uint64) ([]Filter, error) {
	hdr := utils.GetBuffer(2)
	if _, err := r.ReadAt(hdr, int64(offset)); err != nil {
		utils.ReleaseBuffer(hdr)
		return nil, utils.WrapError("filter pipeline read failed", err)
	}
	version := hdr[0]
	nfilters := int(hdr[1])
	utils.ReleaseBuffer(hdr)

	if nfilters > 32 {
		return nil, utils.Corruptf("filter pipeline claims %d filters", nfilters)
	}

	var pos int64
	switch version {
	case 1:
		pos = int64(offset) + 8
	case 2:
		pos = int64(offset) + 2
	default:
		return nil, fmt.Errorf("filter pipeline version %d: %w", version, utils.ErrUnsupportedVersion)
	}

	filters := make([]Filter, 0, nfilters)
	for i := 0; i < nfilters; i++ {
		f, next, err := readFilterDescription(r, pos, version)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
		pos = next
	}
	return filters, nil
}

func readFilterDescription(r utils.ReaderAt, pos int64, version uint8) (Filter, int64, error) {
	head := utils.GetBuffer(8)
	defer utils.ReleaseBuffer(head)
	if _, err := r.ReadAt(head, pos); err != nil {
		return Filter{}, 0, utils.WrapError("filter description read failed", err)
	}

	id := binary.LittleEndian.Uint16(head[0:2])

	var nameLength int
	var dataPos int64
	var flags uint16
	var nclient int

	if version == 2 && id < 256 {
		// No name-length field for reserved ids.
		flags = binary.LittleEndian.Uint16(head[2:4])
		nclient = int(binary.LittleEndian.Uint16(head[4:6]))
		dataPos = pos + 6
	} else {
		nameLength = int(binary.LittleEndian.Uint16(head[2:4]))
		flags = binary.LittleEndian.Uint16(head[4:6])
		nclient = int(binary.LittleEndian.Uint16(head[6:8]))
		dataPos = pos + 8
	}

	f := Filter{ID: id, Flags: flags}

	if nameLength > 0 {
		nameBuf := utils.GetBuffer(nameLength)
		if _, err := r.ReadAt(nameBuf, dataPos); err != nil {
			utils.ReleaseBuffer(nameBuf)
			return Filter{}, 0, utils.WrapError("filter name read failed", err)
		}
		f.Name = strings.TrimRight(string(nameBuf), "\x00")
		utils.ReleaseBuffer(nameBuf)
		dataPos += int64(nameLength)
	}

	if nclient > 0 {
		cd := utils.GetBuffer(4 * nclient)
		if _, err := r.ReadAt(cd, dataPos); err != nil {
			utils.ReleaseBuffer(cd)
			return Filter{}, 0, utils.WrapError("filter client data read failed", err)
		}
		f.ClientData = make([]uint32, nclient)
		for j := 0; j < nclient; j++ {
			f.ClientData[j] = binary.LittleEndian.Uint32(cd[4*j:])
		}
		utils.ReleaseBuffer(cd)
		dataPos += int64(4 * nclient)
	}

	if version == 1 && nclient%2 == 1 {
		dataPos += 4 // pad to 8-byte boundary
	}

	return f, dataPos, nil
}
