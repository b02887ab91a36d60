package structures

import (
	"encoding/binary"

	"github.com/scigolib/h5r/internal/core"
	"github.com/scigolib/h5r/internal/utils"
)

// SymbolTableEntry is one entry of a symbol table node: the link-name
// offset into the group's local heap and the object-header address the
// name resolves to.
type SymbolTableEntry struct {
	NameOffset    uint64
	ObjectAddress uint64
	CacheType     uint32
}

// ReadSymbolTableNode parses a symbol table node ("SNOD") at the given
// address.
//
// Header: "SNOD", version (1), reserved, number of symbols (u16). Each
// entry is {name offset:offset-size, object header address:offset-size,
// cache type:u32, reserved:u32, scratch pad:[16]byte}.
func ReadSymbolTableNode(r utils.ReaderAt, address uint64, sb *core.Superblock) ([]SymbolTableEntry, error) {
	hdr := utils.GetBuffer(8)
	if _, err := r.ReadAt(hdr, int64(address)); err != nil {
		utils.ReleaseBuffer(hdr)
		return nil, utils.WrapError("symbol table node read failed", err)
	}
	if string(hdr[:4]) != "SNOD" {
		sig := string(hdr[:4])
		utils.ReleaseBuffer(hdr)
		return nil, utils.Corruptf("symbol table node at %d: bad signature %q", address, sig)
	}
	if hdr[4] != 1 {
		v := hdr[4]
		utils.ReleaseBuffer(hdr)
		return nil, utils.Corruptf("symbol table node version %d", v)
	}
	count := binary.LittleEndian.Uint16(hdr[6:8])
	utils.ReleaseBuffer(hdr)

	if count == 0 {
		return nil, nil
	}

	entrySize := 2*int(sb.OffsetSize) + 4 + 4 + 16
	buf := make([]byte, int(count)*entrySize)
	if _, err := r.ReadAt(buf, int64(address)+8); err != nil {
		return nil, utils.WrapError("symbol table entries read failed", err)
	}

	entries := make([]SymbolTableEntry, count)
	for i := range entries {
		e := buf[i*entrySize:]
		entries[i] = SymbolTableEntry{
			NameOffset:    utils.Uint(e, sb.OffsetSize),
			ObjectAddress: utils.Uint(e[sb.OffsetSize:], sb.OffsetSize),
			CacheType:     binary.LittleEndian.Uint32(e[2*sb.OffsetSize:]),
		}
	}
	return entries, nil
}
