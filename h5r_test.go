package h5r

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5r/internal/core"
)

// attributeBody renders a version 1 attribute message.
func attributeBody(name string, datatype, dataspace, data []byte) []byte {
	pad8 := func(b []byte) []byte {
		return append(b, make([]byte, ((len(b)+7)&^7)-len(b))...)
	}
	nameBytes := append([]byte(name), 0)

	body := make([]byte, 8)
	body[0] = 1
	binary.LittleEndian.PutUint16(body[2:4], uint16(len(nameBytes)))
	binary.LittleEndian.PutUint16(body[4:6], uint16(len(datatype)))
	binary.LittleEndian.PutUint16(body[6:8], uint16(len(dataspace)))
	body = append(body, pad8(nameBytes)...)
	body = append(body, pad8(datatype)...)
	body = append(body, pad8(dataspace)...)
	return append(body, data...)
}

// scalarDataspaceBody renders a rank-0 dataspace.
func scalarDataspaceBody() []byte {
	body := make([]byte, 8)
	body[0] = 1
	return body
}

// writeGlobalHeap places a GCOL collection with the given strings at
// indices 1..n.
func (b *imageBuilder) writeGlobalHeap(strs []string) uint64 {
	size := 16
	for _, s := range strs {
		size += 16 + (len(s)+7)&^7
	}
	size += 16 // terminator

	out := make([]byte, size)
	copy(out[0:4], "GCOL")
	out[4] = 1
	binary.LittleEndian.PutUint64(out[8:16], uint64(size))
	pos := 16
	for i, s := range strs {
		binary.LittleEndian.PutUint16(out[pos:], uint16(i+1))
		binary.LittleEndian.PutUint16(out[pos+2:], 1)
		binary.LittleEndian.PutUint64(out[pos+8:], uint64(len(s)))
		copy(out[pos+16:], s)
		pos += 16 + (len(s)+7)&^7
	}
	return b.place(out)
}

// buildMainImage assembles the primary end-to-end fixture: a v2
// superblock whose root group links, via inline link messages, to
// datasets covering the contiguous, chunked, filtered and vlen paths.
func buildMainImage(t *testing.T) []byte {
	t.Helper()
	b := newImageBuilder()

	// "1d": contiguous, never written (undefined storage address).
	oh1d := b.objectHeaderV2(
		message{core.MsgDataspace, dataspaceBody(10)},
		message{core.MsgDatatype, datatypeFloat64Body(false)},
		message{core.MsgDataLayout, layoutContiguousBody(^uint64(0), 80)},
	)

	// "1dchunks": shape (10), chunk (2), values 0..9, no filters.
	bt1 := b.buildChunkedFloat64([]uint64{10}, []uint64{2}, sequence(10), identityEncoder, 0)
	oh1dchunks := b.objectHeaderV2(
		message{core.MsgDataspace, dataspaceBody(10)},
		message{core.MsgDatatype, datatypeFloat64Body(false)},
		message{core.MsgDataLayout, layoutChunkedBody(bt1, []uint64{2}, 8)},
	)

	// "1dfilters": shuffle + deflate + fletcher32.
	enc := chain(shuffleEncoder(8), deflateEncoder, fletcherEncoder)
	bt2 := b.buildChunkedFloat64([]uint64{10}, []uint64{2}, sequence(10), enc, 0)
	oh1dfilters := b.objectHeaderV2(
		message{core.MsgDataspace, dataspaceBody(10)},
		message{core.MsgDatatype, datatypeFloat64Body(false)},
		message{core.MsgFilterPipeline, pipelineBody(
			filterEntry{core.FilterShuffle, []uint32{8}},
			filterEntry{core.FilterDeflate, []uint32{6}},
			filterEntry{core.FilterFletcher32, nil},
		)},
		message{core.MsgDataLayout, layoutChunkedBody(bt2, []uint64{2}, 8)},
	)

	// "2d": shape (10,10), chunk (3,3), deflate, values 0..99.
	bt3 := b.buildChunkedFloat64([]uint64{10, 10}, []uint64{3, 3}, sequence(100), deflateEncoder, 0)
	oh2d := b.objectHeaderV2(
		message{core.MsgDataspace, dataspaceBody(10, 10)},
		message{core.MsgDatatype, datatypeFloat64Body(false)},
		message{core.MsgFilterPipeline, pipelineBody(filterEntry{core.FilterDeflate, []uint32{6}})},
		message{core.MsgDataLayout, layoutChunkedBody(bt3, []uint64{3, 3}, 8)},
	)

	// "bigend": contiguous big-endian float64 values.
	beValues := []float64{1.5, -2.25, 1e6}
	beData := make([]byte, 24)
	for i, v := range beValues {
		binary.BigEndian.PutUint64(beData[8*i:], math.Float64bits(v))
	}
	beAddr := b.place(beData)
	ohBigend := b.objectHeaderV2(
		message{core.MsgDataspace, dataspaceBody(3)},
		message{core.MsgDatatype, datatypeFloat64Body(true)},
		message{core.MsgDataLayout, layoutContiguousBody(beAddr, 24)},
	)

	// "strs": contiguous vlen strings resolved through the global heap.
	strs := []string{"alpha", "beta", "gamma", "delta"}
	gcol := b.writeGlobalHeap(strs)
	cells := make([]byte, 16*len(strs))
	for i, s := range strs {
		binary.LittleEndian.PutUint32(cells[16*i:], uint32(len(s)))
		binary.LittleEndian.PutUint64(cells[16*i+4:], gcol)
		binary.LittleEndian.PutUint32(cells[16*i+12:], uint32(i+1))
	}
	cellAddr := b.place(cells)
	ohStrs := b.objectHeaderV2(
		message{core.MsgDataspace, dataspaceBody(uint64(len(strs)))},
		message{core.MsgDatatype, datatypeVLenStringBody()},
		message{core.MsgDataLayout, layoutContiguousBody(cellAddr, uint64(len(cells)))},
	)

	// "ints": contiguous signed 64-bit integers.
	intData := make([]byte, 24)
	for i, v := range []int64{10, -20, 30} {
		binary.LittleEndian.PutUint64(intData[8*i:], uint64(v))
	}
	intAddr := b.place(intData)
	ohInts := b.objectHeaderV2(
		message{core.MsgDataspace, dataspaceBody(3)},
		message{core.MsgDatatype, datatypeInt64Body()},
		message{core.MsgDataLayout, layoutContiguousBody(intAddr, 24)},
	)

	// Root group: inline links plus one scalar attribute.
	attrData := make([]byte, 8)
	binary.LittleEndian.PutUint64(attrData, math.Float64bits(3.5))
	root := b.objectHeaderV2(
		message{core.MsgAttribute, attributeBody("version", datatypeFloat64Body(false), scalarDataspaceBody(), attrData)},
		message{core.MsgLink, linkBody("1d", oh1d)},
		message{core.MsgLink, linkBody("1dchunks", oh1dchunks)},
		message{core.MsgLink, linkBody("1dfilters", oh1dfilters)},
		message{core.MsgLink, linkBody("2d", oh2d)},
		message{core.MsgLink, linkBody("bigend", ohBigend)},
		message{core.MsgLink, linkBody("strs", ohStrs)},
		message{core.MsgLink, linkBody("ints", ohInts)},
	)

	return b.finishV2(root)
}

func openMain(t *testing.T) *File {
	t.Helper()
	path := writeFile(t, "main.h5", buildMainImage(t))
	f, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func getDataset(t *testing.T, f *File, name string) *Dataset {
	t.Helper()
	obj, err := f.Get(name)
	require.NoError(t, err)
	ds, ok := obj.(*Dataset)
	require.True(t, ok, "%s should be a dataset", name)
	return ds
}

func readFloat64s(t *testing.T, ds *Dataset, sel ...Selector) []float64 {
	t.Helper()
	arr, err := ds.Read(sel...)
	require.NoError(t, err)
	vals, err := arr.Float64s()
	require.NoError(t, err)
	return vals
}

func TestUninitializedContiguousRead(t *testing.T) {
	f := openMain(t)
	ds := getDataset(t, f, "1d")

	_, err := ds.Read()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUninitialized))
}

func TestChunkedFullRead(t *testing.T) {
	f := openMain(t)
	ds := getDataset(t, f, "1dchunks")

	assert.Equal(t, []uint64{10}, ds.Shape())
	assert.Equal(t, []uint64{2}, ds.ChunkShape())
	assert.Equal(t, "<f8", ds.Dtype().String())

	vals := readFloat64s(t, ds)
	assert.Equal(t, sequence(10), vals)
}

func TestFilteredReads(t *testing.T) {
	f := openMain(t)
	ds := getDataset(t, f, "1dfilters")

	pipeline := ds.FilterPipeline()
	require.Len(t, pipeline, 3)
	assert.Equal(t, core.FilterShuffle, pipeline[0].ID)
	assert.Equal(t, core.FilterDeflate, pipeline[1].ID)
	assert.Equal(t, core.FilterFletcher32, pipeline[2].ID)

	assert.Equal(t, sequence(10), readFloat64s(t, ds))
	assert.Equal(t, []float64{5, 6, 7, 8, 9}, readFloat64s(t, ds, From(5)))
	assert.Equal(t, []float64{0}, readFloat64s(t, ds, Index(0)))
}

func Test2DChunkedReads(t *testing.T) {
	f := openMain(t)
	ds := getDataset(t, f, "2d")

	// Single element.
	assert.Equal(t, []float64{0}, readFloat64s(t, ds, Index(0), Index(0)))
	assert.Equal(t, []float64{44}, readFloat64s(t, ds, Index(4), Index(4)))

	// Rows 3..9, columns 6..8.
	arr, err := ds.Read(From(3), Range(6, 9))
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 3}, arr.Shape)
	vals, err := arr.Float64s()
	require.NoError(t, err)
	var want []float64
	for r := 3; r < 10; r++ {
		for c := 6; c < 9; c++ {
			want = append(want, float64(r*10+c))
		}
	}
	assert.Equal(t, want, vals)

	// Bottom-right corner.
	corner, err := ds.Read(From(8), From(8))
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 2}, corner.Shape)
	cvals, err := corner.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{88, 89, 98, 99}, cvals)
}

func TestHyperslabMatchesFullArraySlice(t *testing.T) {
	f := openMain(t)
	ds := getDataset(t, f, "2d")
	full := readFloat64s(t, ds)

	cases := []struct {
		name string
		sel  []Selector
	}{
		{"rows", []Selector{Range(2, 7)}},
		{"strided", []Selector{RangeStep(1, 10, 2), RangeStep(0, 10, 3)}},
		{"step beyond chunk", []Selector{RangeStep(0, 10, 4), Index(5)}},
		{"single row", []Selector{Index(9)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			arr, err := ds.Read(tc.sel...)
			require.NoError(t, err)
			got, err := arr.Float64s()
			require.NoError(t, err)

			spans, err := normalizeHyperslab(tc.sel, ds.Shape())
			require.NoError(t, err)
			var want []float64
			for r := spans[0].start; r < spans[0].stop; r += spans[0].step {
				for c := spans[1].start; c < spans[1].stop; c += spans[1].step {
					want = append(want, full[r*10+c])
				}
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestStridedReadBeyondChunkExtent(t *testing.T) {
	f := openMain(t)
	ds := getDataset(t, f, "1dchunks")

	// Step 3 with chunk extent 2: dedup against only the previous origin
	// must still cover every touched chunk.
	assert.Equal(t, []float64{0, 3, 6, 9}, readFloat64s(t, ds, RangeStep(0, 10, 3)))
}

func TestInspectChunksGrid(t *testing.T) {
	f := openMain(t)
	ds := getDataset(t, f, "2d")

	records, err := ds.InspectChunks()
	require.NoError(t, err)
	require.Len(t, records, 16)

	// The origin set is exactly the Cartesian chunk grid.
	want := map[[2]uint64]bool{}
	for r := uint64(0); r < 10; r += 3 {
		for c := uint64(0); c < 10; c += 3 {
			want[[2]uint64{r, c}] = true
		}
	}
	for _, rec := range records {
		key := [2]uint64{rec.Offset[0], rec.Offset[1]}
		assert.True(t, want[key], "unexpected chunk origin %v", rec.Offset)
		delete(want, key)
		assert.NotZero(t, rec.Length)
	}
	assert.Empty(t, want)
}

func TestBigEndianContiguous(t *testing.T) {
	f := openMain(t)
	ds := getDataset(t, f, "bigend")
	assert.Equal(t, ">f8", ds.Dtype().String())
	assert.Equal(t, []float64{1.5, -2.25, 1e6}, readFloat64s(t, ds))
}

func TestVLenStrings(t *testing.T) {
	f := openMain(t)
	ds := getDataset(t, f, "strs")

	got, err := ds.ReadStrings()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma", "delta"}, got)

	tail, err := ds.ReadStrings(From(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma", "delta"}, tail)

	_, err = ds.Read()
	assert.True(t, errors.Is(err, ErrUnsupportedDatatype))
}

func TestRootLinksAndLookupMiss(t *testing.T) {
	f := openMain(t)

	links, err := f.Root().Links()
	require.NoError(t, err)
	var names []string
	for _, l := range links {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"1d", "1dchunks", "1dfilters", "2d", "bigend", "strs", "ints"}, names)

	_, err = f.Get("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFixedPointRead(t *testing.T) {
	f := openMain(t)
	ds := getDataset(t, f, "ints")
	assert.Equal(t, "<i8", ds.Dtype().String())

	arr, err := ds.Read()
	require.NoError(t, err)
	vals, err := arr.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{10, -20, 30}, vals)
}

func TestRootAttributes(t *testing.T) {
	f := openMain(t)

	attrs, err := f.Root().Attributes()
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "version", attrs[0].Name)
	assert.Equal(t, 3.5, attrs[0].Value())
}

func TestWalkVisitsEverything(t *testing.T) {
	f := openMain(t)

	var paths []string
	require.NoError(t, f.Walk(func(path string, obj Object) {
		paths = append(paths, path)
	}))
	assert.Contains(t, paths, "/")
	assert.Contains(t, paths, "/2d")
	assert.Contains(t, paths, "/strs")
	assert.Len(t, paths, 8)
}

func TestInspectMetadata(t *testing.T) {
	f := openMain(t)

	records, err := f.InspectMetadata()
	require.NoError(t, err)
	require.NotEmpty(t, records)

	var headers, messages int
	for _, rec := range records {
		switch rec.Kind {
		case "object_header":
			headers++
		case "object_header_message":
			messages++
		}
	}
	assert.Equal(t, 8, headers)
	assert.Greater(t, messages, 8)
}

func TestUnpagedCacheCounters(t *testing.T) {
	f := openMain(t)
	assert.Zero(t, f.CacheHits())
	assert.Zero(t, f.CacheMisses())
	f.ResetCache() // no-op without a page cache
}

func TestPagedLocalFile(t *testing.T) {
	path := writeFile(t, "paged.h5", buildMainImage(t))
	f, err := OpenPaged(path)
	require.NoError(t, err)
	defer f.Close()

	ds := getDataset(t, f, "1dchunks")
	assert.Equal(t, sequence(10), readFloat64s(t, ds))
	assert.NotZero(t, f.CacheMisses())

	misses := f.CacheMisses()
	hits := f.CacheHits()
	ds2 := getDataset(t, f, "1dchunks")
	assert.Equal(t, sequence(10), readFloat64s(t, ds2))
	assert.Equal(t, misses, f.CacheMisses(), "replayed metadata reads must all hit")
	assert.Greater(t, f.CacheHits(), hits)

	f.ResetCache()
	assert.Zero(t, f.CacheMisses())
}
