package h5r

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/scigolib/h5r/internal/ndarray"
	"github.com/scigolib/h5r/internal/source"
)

// vlenCellSize is the on-disk element width of a variable-length cell:
// {length:u32, global heap collection offset:u64, object index:u32}.
const vlenCellSize = 16

// readContiguous materializes a hyperslab of a contiguous dataset. The
// full storage block is loaded (memory-mapped for local files, a single
// range read otherwise) and the selection cut from it.
func (d *Dataset) readContiguous(spans []span, elemSize int) (*ndarray.Array, error) {
	if d.file.sb.IsUndefined(d.layout.Address) {
		return nil, fmt.Errorf("dataset %q: %w", d.name, ErrUninitialized)
	}

	total := d.space.NumElements() * uint64(elemSize)
	addr := d.file.projectChunk(d.layout.Address)

	data, err := d.readStorage(addr, total)
	if err != nil {
		return nil, err
	}

	full, err := ndarray.FromBytes(data, d.space.Shape, elemSize)
	if err != nil {
		return nil, err
	}

	start := make([]uint64, len(spans))
	stop := make([]uint64, len(spans))
	step := make([]uint64, len(spans))
	for dim, s := range spans {
		start[dim] = s.start
		stop[dim] = s.stop
		step[dim] = s.step
	}
	return full.Slice(start, stop, step)
}

// readStorage loads length bytes at addr from the chunk source,
// memory-mapping local files.
func (d *Dataset) readStorage(addr, length uint64) ([]byte, error) {
	if fs, ok := d.file.chunkSrc.(*source.FileSource); ok {
		if data, err := mapRange(fs.File(), addr, length); err == nil {
			return data, nil
		}
		// Fall through to a plain read when mapping is unavailable.
	}

	data := make([]byte, length)
	if _, err := d.file.chunkSrc.ReadAt(data, int64(addr)); err != nil {
		return nil, fmt.Errorf("dataset %q storage read: %w", d.name, err)
	}
	return data, nil
}

// mapRange memory-maps [addr, addr+length) of f and returns a copy of
// the bytes. The mapping offset is aligned down to the page size as the
// OS requires.
func mapRange(f *os.File, addr, length uint64) ([]byte, error) {
	pageSize := uint64(os.Getpagesize())
	aligned := addr &^ (pageSize - 1)
	lead := addr - aligned

	m, err := mmap.MapRegion(f, int(length+lead), mmap.RDONLY, 0, int64(aligned))
	if err != nil {
		return nil, err
	}
	defer m.Unmap()

	data := make([]byte, length)
	copy(data, m[lead:])
	return data, nil
}

// resolveVLenCells turns an array of raw vlen cells into strings by
// resolving each cell through the file's global heap cache.
func (d *Dataset) resolveVLenCells(cells *ndarray.Array) ([]string, error) {
	n := cells.Len()
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		cell := cells.Data[i*vlenCellSize : (i+1)*vlenCellSize]
		strLen := binary.LittleEndian.Uint32(cell[0:4])
		collection := binary.LittleEndian.Uint64(cell[4:12])
		index := binary.LittleEndian.Uint32(cell[12:16])

		if collection == 0 {
			// Null cell: element was never written.
			out = append(out, "")
			continue
		}

		obj, err := d.file.globalHeapObject(collection, index)
		if err != nil {
			return nil, fmt.Errorf("dataset %q element %d: %w", d.name, i, err)
		}
		if uint64(strLen) < uint64(len(obj)) {
			obj = obj[:strLen]
		}
		out = append(out, string(obj))
	}
	return out, nil
}
