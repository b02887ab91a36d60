package core

import (
	"encoding/binary"

	"github.com/scigolib/h5r/internal/utils"
)

// MultiDriverID is the driver identification of the multi/split file
// driver. The split driver writes the multi driver's information block.
const MultiDriverID = "NCSAmult"

// DriverInfo is the decoded driver information block referenced by v0/v1
// superblocks.
type DriverInfo struct {
	Version        uint8
	Identification string
	Information    []byte
}

// Member indexes into the multi-driver member table.
const (
	MemberSuperblock = iota
	MemberBTree
	MemberRaw
	MemberGlobalHeap
	MemberLocalHeap
	MemberObjectHeader
	memberCount
)

// DriverMember is one entry of the multi-driver member table: the base
// address and length of that member's address space.
type DriverMember struct {
	Address uint64
	Length  uint64
}

// ReadDriverInfo decodes the driver information block at the given
// absolute offset.
//
// Layout: {version:u8, 3 reserved, information size:u32,
// identification:[8]byte}, then the driver information bytes.
func ReadDriverInfo(r utils.ReaderAt, offset uint64) (*DriverInfo, error) {
	hdr := utils.GetBuffer(16)
	defer utils.ReleaseBuffer(hdr)
	if _, err := r.ReadAt(hdr, int64(offset)); err != nil {
		return nil, utils.WrapError("driver info read failed", err)
	}

	size := binary.LittleEndian.Uint32(hdr[4:8])
	di := &DriverInfo{
		Version:        hdr[0],
		Identification: string(hdr[8:16]),
		Information:    make([]byte, size),
	}
	if size > 0 {
		if _, err := r.ReadAt(di.Information, int64(offset)+16); err != nil {
			return nil, utils.WrapError("driver information read failed", err)
		}
	}
	return di, nil
}

// IsMulti reports whether the block belongs to the multi/split driver.
func (di *DriverInfo) IsMulti() bool {
	return di.Identification == MultiDriverID
}

// Members decodes the multi-driver member table. The first 6 bytes map
// each member to a file number; the (address, length) pairs follow at
// offset 8, one pair per file. Member names trailing the table are not
// decoded; conformant writers do not rely on them.
func (di *DriverInfo) Members() ([memberCount]DriverMember, error) {
	var members [memberCount]DriverMember
	info := di.Information
	if len(info) < 8+2*16 {
		return members, utils.Corruptf("multi driver information too short (%d bytes)", len(info))
	}

	for i := 0; i < memberCount; i++ {
		// The split driver maps the superblock member to file 1 and
		// everything else to file 2; the raw member's pair is second.
		pair := 1
		if info[i] == 1 {
			pair = 0
		}
		base := 8 + pair*16
		members[i] = DriverMember{
			Address: binary.LittleEndian.Uint64(info[base:]),
			Length:  binary.LittleEndian.Uint64(info[base+8:]),
		}
	}
	return members, nil
}
