package core

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/h5r/internal/utils"
)

// FileSpaceInfo carries the file-space management fields the reader
// cares about; for the paged reader that is the page size.
type FileSpaceInfo struct {
	Version  uint8
	Strategy uint8
	PageSize uint32
}

// ReadFileSpaceInfo decodes a file space info message (type 0x0017) at
// the given absolute offset.
//
// Version 1 layout: {version:u8, strategy:u8, persisting free space:u8},
// free-space threshold (length-size), then the page size (u32).
func ReadFileSpaceInfo(r utils.ReaderAt, offset uint64, sb *Superblock) (*FileSpaceInfo, error) {
	buf := utils.GetBuffer(3 + int(sb.LengthSize) + 4)
	defer utils.ReleaseBuffer(buf)
	if _, err := r.ReadAt(buf, int64(offset)); err != nil {
		return nil, utils.WrapError("file space info read failed", err)
	}

	fsi := &FileSpaceInfo{Version: buf[0], Strategy: buf[1]}
	switch fsi.Version {
	case 0:
		// Version 0 predates paged aggregation; no page size.
		return fsi, nil
	case 1:
		fsi.PageSize = binary.LittleEndian.Uint32(buf[3+int(sb.LengthSize):])
		return fsi, nil
	default:
		return nil, fmt.Errorf("file space info version %d: %w", fsi.Version, utils.ErrUnsupportedVersion)
	}
}
