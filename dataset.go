package h5r

import (
	"context"
	"fmt"

	"github.com/scigolib/h5r/internal/core"
	"github.com/scigolib/h5r/internal/ndarray"
	"github.com/scigolib/h5r/internal/structures"
)

// Datatype is the semantic element type of a dataset.
type Datatype = core.Datatype

// Filter is one entry of a dataset's filter pipeline.
type Filter = core.Filter

// ChunkInfo locates one stored chunk of a chunked dataset.
type ChunkInfo = structures.ChunkRecord

// Array is the dense row-major buffer dataset reads return.
type Array = ndarray.Array

// Dataset is an HDF5 dataset: an n-dimensional typed array with either
// contiguous or chunked storage.
type Dataset struct {
	file *File
	name string
	addr uint64
	oh   *core.ObjectHeader

	space    *core.Dataspace
	dtype    *core.Datatype
	layout   *core.DataLayout
	pipeline []core.Filter
}

// newDataset decodes the dataspace, datatype, layout and filter
// pipeline messages of a dataset object header.
func newDataset(f *File, name string, addr uint64, oh *core.ObjectHeader) (*Dataset, error) {
	d := &Dataset{file: f, name: name, addr: addr, oh: oh}

	for _, m := range oh.Messages {
		var err error
		switch m.Type {
		case core.MsgDataspace:
			d.space, err = core.ReadDataspace(f.src, m.Offset, f.sb)
		case core.MsgDatatype:
			d.dtype, err = core.ReadDatatype(f.src, m.Offset)
		case core.MsgDataLayout:
			d.layout, err = core.ReadDataLayout(f.src, m.Offset, f.sb)
		case core.MsgFilterPipeline:
			d.pipeline, err = core.ReadFilterPipeline(f.src, m.Offset)
		}
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}
	}

	if d.space == nil || d.dtype == nil || d.layout == nil {
		return nil, fmt.Errorf("dataset %q misses a required header message: %w", name, ErrCorrupt)
	}
	if d.layout.IsChunked() && len(d.layout.ChunkShape) != d.space.Rank() {
		return nil, fmt.Errorf("dataset %q: chunk rank %d does not match dataspace rank %d: %w",
			name, len(d.layout.ChunkShape), d.space.Rank(), ErrCorrupt)
	}
	return d, nil
}

// Name returns the dataset's link name.
func (d *Dataset) Name() string {
	return d.name
}

// Address returns the dataset's object header address.
func (d *Dataset) Address() uint64 {
	return d.addr
}

// Shape returns the dataspace extents.
func (d *Dataset) Shape() []uint64 {
	return append([]uint64(nil), d.space.Shape...)
}

// Dtype returns the semantic datatype.
func (d *Dataset) Dtype() *Datatype {
	return d.dtype
}

// FilterPipeline returns the ordered filter list; decode applies it in
// reverse.
func (d *Dataset) FilterPipeline() []Filter {
	return append([]Filter(nil), d.pipeline...)
}

// ChunkShape returns the chunk extents of a chunked dataset, nil for
// contiguous storage.
func (d *Dataset) ChunkShape() []uint64 {
	if !d.layout.IsChunked() {
		return nil
	}
	shape := make([]uint64, len(d.layout.ChunkShape))
	for i, c := range d.layout.ChunkShape {
		shape[i] = uint64(c)
	}
	return shape
}

// Attributes returns the dataset's attribute messages.
func (d *Dataset) Attributes() ([]*core.Attribute, error) {
	return readAttributes(d.file, d.oh)
}

// Read materializes the hyperslab selected by sel into a dense array.
// Missing trailing selectors default to the full extent; Read() with no
// selectors reads the whole dataset.
func (d *Dataset) Read(sel ...Selector) (*Array, error) {
	return d.ReadContext(context.Background(), sel...)
}

// ReadContext is Read with cancellation: once ctx is canceled, chunk
// fetches that have not started are skipped and no partial result is
// returned. A range read already in progress is not interrupted; the call
// returns after it completes.
func (d *Dataset) ReadContext(ctx context.Context, sel ...Selector) (*Array, error) {
	if d.dtype.VLenString {
		return nil, fmt.Errorf("dataset %q holds variable-length strings, use ReadStrings: %w",
			d.name, ErrUnsupportedDatatype)
	}

	spans, err := normalizeHyperslab(sel, d.space.Shape)
	if err != nil {
		return nil, err
	}

	arr, err := d.readCells(ctx, spans, int(d.dtype.Size))
	if err != nil {
		return nil, err
	}
	if d.dtype.BigEndian {
		arr.ByteSwap()
	}
	return arr, nil
}

// ReadStrings reads a variable-length string selection, resolving each
// element cell through the global heap. Results are row-major.
func (d *Dataset) ReadStrings(sel ...Selector) ([]string, error) {
	return d.ReadStringsContext(context.Background(), sel...)
}

// ReadStringsContext is ReadStrings with cancellation.
func (d *Dataset) ReadStringsContext(ctx context.Context, sel ...Selector) ([]string, error) {
	if !d.dtype.VLenString {
		return nil, fmt.Errorf("dataset %q does not hold variable-length strings: %w",
			d.name, ErrUnsupportedDatatype)
	}

	spans, err := normalizeHyperslab(sel, d.space.Shape)
	if err != nil {
		return nil, err
	}

	// Element cells are {length:u32, collection offset:u64, index:u32}.
	cells, err := d.readCells(ctx, spans, vlenCellSize)
	if err != nil {
		return nil, err
	}
	return d.resolveVLenCells(cells)
}

// readCells reads the selected region as raw elements of the given
// width, dispatching on the storage layout.
func (d *Dataset) readCells(ctx context.Context, spans []span, elemSize int) (*Array, error) {
	switch d.layout.Class {
	case core.LayoutContiguous:
		return d.readContiguous(spans, elemSize)
	case core.LayoutChunked:
		return d.readChunked(ctx, spans, elemSize)
	default:
		return nil, fmt.Errorf("layout class %d: %w", d.layout.Class, ErrUnsupportedLayout)
	}
}

// InspectChunks scans the chunk B-tree and returns the chunk records in
// tree (row-major key) order.
func (d *Dataset) InspectChunks() ([]ChunkInfo, error) {
	if !d.layout.IsChunked() {
		return nil, fmt.Errorf("dataset %q is not chunked: %w", d.name, ErrUnsupportedLayout)
	}
	if d.file.sb.IsUndefined(d.layout.Address) {
		return nil, nil
	}

	var records []ChunkInfo
	err := structures.WalkChunkTree(d.file.src, d.layout.Address, d.space.Rank(), d.file.sb,
		func(rec structures.ChunkRecord) error {
			records = append(records, rec)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return records, nil
}
