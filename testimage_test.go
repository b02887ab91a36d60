package h5r

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5r/internal/core"
)

// imageBuilder assembles a synthetic HDF5 byte image bottom-up: chunk
// data, heaps and B-trees first, then object headers referencing them,
// and finally the superblock over the reserved prefix.
type imageBuilder struct {
	buf []byte
}

func newImageBuilder() *imageBuilder {
	b := &imageBuilder{}
	b.buf = make([]byte, 2048) // reserved for the superblock
	return b
}

// alloc reserves n bytes at an 8-aligned offset.
func (b *imageBuilder) alloc(n int) uint64 {
	for len(b.buf)%8 != 0 {
		b.buf = append(b.buf, 0)
	}
	off := len(b.buf)
	b.buf = append(b.buf, make([]byte, n)...)
	return uint64(off)
}

func (b *imageBuilder) place(data []byte) uint64 {
	addr := b.alloc(len(data))
	copy(b.buf[addr:], data)
	return addr
}

// finishV2 writes a version 2 superblock pointing at the root object
// header and returns the completed image.
func (b *imageBuilder) finishV2(rootAddr uint64) []byte {
	sb := b.buf[:48]
	copy(sb[0:8], core.Signature)
	sb[8] = 2
	sb[9] = 8
	sb[10] = 8
	binary.LittleEndian.PutUint64(sb[12:20], 0)
	binary.LittleEndian.PutUint64(sb[20:28], ^uint64(0))
	binary.LittleEndian.PutUint64(sb[28:36], uint64(len(b.buf)))
	binary.LittleEndian.PutUint64(sb[36:44], rootAddr)
	return b.buf
}

// finishV0 writes a version 0 superblock whose root symbol-table entry
// points at rootAddr, with an optional driver-info block address.
func (b *imageBuilder) finishV0(rootAddr, driverAddr uint64) []byte {
	sb := b.buf[:96]
	copy(sb[0:8], core.Signature)
	sb[8] = 0
	sb[13] = 8
	sb[14] = 8
	binary.LittleEndian.PutUint16(sb[16:18], 4)
	binary.LittleEndian.PutUint16(sb[18:20], 16)
	binary.LittleEndian.PutUint64(sb[24:32], 0)           // base address
	binary.LittleEndian.PutUint64(sb[32:40], ^uint64(0))  // free space
	binary.LittleEndian.PutUint64(sb[40:48], uint64(len(b.buf)))
	binary.LittleEndian.PutUint64(sb[48:56], driverAddr)
	binary.LittleEndian.PutUint64(sb[56:64], 0) // link name offset
	binary.LittleEndian.PutUint64(sb[64:72], rootAddr)
	binary.LittleEndian.PutUint32(sb[72:76], 0)
	return b.buf
}

// message is one header message to place into an object header.
type message struct {
	typ  core.MessageType
	body []byte
}

// objectHeaderV2 renders and places a version 2 object header.
func (b *imageBuilder) objectHeaderV2(msgs ...message) uint64 {
	var body []byte
	for _, m := range msgs {
		prefix := make([]byte, 4)
		prefix[0] = byte(m.typ)
		binary.LittleEndian.PutUint16(prefix[1:3], uint16(len(m.body)))
		body = append(body, prefix...)
		body = append(body, m.body...)
	}

	out := make([]byte, 8+len(body)+4)
	copy(out[0:4], "OHDR")
	out[4] = 2
	out[5] = 0b01 // 2-byte chunk size field
	binary.LittleEndian.PutUint16(out[6:8], uint16(len(body)+4))
	copy(out[8:], body)
	return b.place(out)
}

// objectHeaderV1 renders and places a version 1 object header; message
// bodies are padded to 8 bytes.
func (b *imageBuilder) objectHeaderV1(msgs ...message) uint64 {
	var body []byte
	for _, m := range msgs {
		padded := (len(m.body) + 7) &^ 7
		prefix := make([]byte, 8)
		binary.LittleEndian.PutUint16(prefix[0:2], uint16(m.typ))
		binary.LittleEndian.PutUint16(prefix[2:4], uint16(padded))
		body = append(body, prefix...)
		body = append(body, m.body...)
		body = append(body, make([]byte, padded-len(m.body))...)
	}

	out := make([]byte, 16+len(body))
	out[0] = 1
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(msgs)))
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(body)))
	copy(out[16:], body)
	return b.place(out)
}

// --- message body builders ---

func dataspaceBody(shape ...uint64) []byte {
	body := make([]byte, 8+8*len(shape))
	body[0] = 1
	body[1] = byte(len(shape))
	for i, d := range shape {
		binary.LittleEndian.PutUint64(body[8+8*i:], d)
	}
	return body
}

func datatypeFloat64Body(bigEndian bool) []byte {
	body := make([]byte, 8)
	body[0] = 0x11 // float, version 1
	if bigEndian {
		body[1] = 0x01
	}
	binary.LittleEndian.PutUint32(body[4:8], 8)
	return body
}

func datatypeInt64Body() []byte {
	body := make([]byte, 12)
	body[0] = 0x10 // fixed-point, version 1
	body[1] = 0x08 // signed
	binary.LittleEndian.PutUint32(body[4:8], 8)
	binary.LittleEndian.PutUint16(body[10:12], 64)
	return body
}

func datatypeVLenStringBody() []byte {
	body := make([]byte, 8)
	body[0] = 0x19 // variable-length, version 1
	body[1] = 0x01 // string
	body[2] = 0x01 // UTF-8
	binary.LittleEndian.PutUint32(body[4:8], 16)
	return body
}

func layoutContiguousBody(addr, size uint64) []byte {
	body := make([]byte, 2+16)
	body[0] = 3
	body[1] = core.LayoutContiguous
	binary.LittleEndian.PutUint64(body[2:10], addr)
	binary.LittleEndian.PutUint64(body[10:18], size)
	return body
}

func layoutChunkedBody(btreeAddr uint64, chunkShape []uint64, elemSize uint32) []byte {
	dim := len(chunkShape) + 1
	body := make([]byte, 2+1+8+4*dim)
	body[0] = 3
	body[1] = core.LayoutChunked
	body[2] = byte(dim)
	binary.LittleEndian.PutUint64(body[3:11], btreeAddr)
	for i, c := range chunkShape {
		binary.LittleEndian.PutUint32(body[11+4*i:], uint32(c))
	}
	binary.LittleEndian.PutUint32(body[11+4*(dim-1):], elemSize)
	return body
}

func linkBody(name string, addr uint64) []byte {
	body := []byte{1, 0, byte(len(name))}
	body = append(body, name...)
	var a [8]byte
	binary.LittleEndian.PutUint64(a[:], addr)
	return append(body, a[:]...)
}

func linkBodyOrdered(name string, addr, order uint64) []byte {
	body := []byte{1, 0b100}
	var o [8]byte
	binary.LittleEndian.PutUint64(o[:], order)
	body = append(body, o[:]...)
	body = append(body, byte(len(name)))
	body = append(body, name...)
	var a [8]byte
	binary.LittleEndian.PutUint64(a[:], addr)
	return append(body, a[:]...)
}

// filterEntry is one pipeline stage for the builder.
type filterEntry struct {
	id         uint16
	clientData []uint32
}

func pipelineBody(entries ...filterEntry) []byte {
	body := make([]byte, 8)
	body[0] = 1
	body[1] = byte(len(entries))
	for _, e := range entries {
		desc := make([]byte, 8+4*len(e.clientData))
		binary.LittleEndian.PutUint16(desc[0:2], e.id)
		binary.LittleEndian.PutUint16(desc[6:8], uint16(len(e.clientData)))
		for i, v := range e.clientData {
			binary.LittleEndian.PutUint32(desc[8+4*i:], v)
		}
		if len(e.clientData)%2 == 1 {
			desc = append(desc, 0, 0, 0, 0)
		}
		body = append(body, desc...)
	}
	return body
}

// --- chunked data builders ---

// chunkEncoder transforms a raw chunk into its stored bytes (the write
// direction of the filter pipeline).
type chunkEncoder func([]byte) []byte

func identityEncoder(data []byte) []byte { return data }

func deflateEncoder(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

func shuffleEncoder(elemSize int) chunkEncoder {
	return func(data []byte) []byte {
		n := len(data) / elemSize
		out := make([]byte, len(data))
		for i := 0; i < n; i++ {
			for j := 0; j < elemSize; j++ {
				out[j*n+i] = data[i*elemSize+j]
			}
		}
		return out
	}
}

func fletcherEncoder(data []byte) []byte {
	var sum1, sum2 uint32
	for i := 0; i < len(data); i += 2 {
		var word uint32
		if i+1 < len(data) {
			word = uint32(binary.LittleEndian.Uint16(data[i:]))
		} else {
			word = uint32(data[i])
		}
		sum1 = (sum1 + word) % 65535
		sum2 = (sum2 + sum1) % 65535
	}
	out := append([]byte(nil), data...)
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], sum2<<16|sum1)
	return append(out, tail[:]...)
}

func chain(encoders ...chunkEncoder) chunkEncoder {
	return func(data []byte) []byte {
		for _, e := range encoders {
			data = e(data)
		}
		return data
	}
}

// storedChunk is one chunk placed into the image.
type storedChunk struct {
	origin []uint64
	addr   uint64
	length uint32
}

// buildChunkedFloat64 stores row-major float64 values as full chunks
// (edge chunks zero-padded), encodes each through enc, writes a
// single-leaf v1 chunk B-tree and returns the tree's address. The
// chunkBase offset shifts every stored chunk address, modeling split
// raw address spaces.
func (b *imageBuilder) buildChunkedFloat64(shape, chunkShape []uint64, values []float64, enc chunkEncoder, chunkBase uint64) uint64 {
	rank := len(shape)

	// Dataset strides for value lookup.
	strides := make([]uint64, rank)
	stride := uint64(1)
	for d := rank - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= shape[d]
	}

	chunkElems := uint64(1)
	for _, c := range chunkShape {
		chunkElems *= c
	}

	// Enumerate chunk origins in row-major order.
	var chunks []storedChunk
	origin := make([]uint64, rank)
	for {
		raw := make([]byte, chunkElems*8)
		// Fill the chunk from the dataset, zero outside the extents.
		idx := make([]uint64, rank)
		for pos := uint64(0); pos < chunkElems; pos++ {
			rem := pos
			inBounds := true
			var flat uint64
			for d := 0; d < rank; d++ {
				block := uint64(1)
				for e := d + 1; e < rank; e++ {
					block *= chunkShape[e]
				}
				idx[d] = rem / block
				rem %= block
				abs := origin[d] + idx[d]
				if abs >= shape[d] {
					inBounds = false
					break
				}
				flat += abs * strides[d]
			}
			if inBounds {
				binary.LittleEndian.PutUint64(raw[pos*8:], math.Float64bits(values[flat]))
			}
		}

		encoded := enc(raw)
		addr := b.place(encoded)
		chunks = append(chunks, storedChunk{
			origin: append([]uint64(nil), origin...),
			addr:   addr + chunkBase,
			length: uint32(len(encoded)),
		})

		// Next origin.
		d := rank - 1
		for ; d >= 0; d-- {
			origin[d] += chunkShape[d]
			if origin[d] < shape[d] {
				break
			}
			origin[d] = 0
		}
		if d < 0 {
			break
		}
	}

	return b.writeChunkBTreeLeaf(chunks, shape, rank)
}

// writeChunkBTreeLeaf places a single leaf node indexing the chunks.
func (b *imageBuilder) writeChunkBTreeLeaf(chunks []storedChunk, shape []uint64, rank int) uint64 {
	keySize := 8 + 8*(rank+1)
	size := 24 + (len(chunks)+1)*keySize + len(chunks)*8
	node := make([]byte, size)
	copy(node[0:4], "TREE")
	node[4] = 1
	node[5] = 0
	binary.LittleEndian.PutUint16(node[6:8], uint16(len(chunks)))
	binary.LittleEndian.PutUint64(node[8:16], ^uint64(0))
	binary.LittleEndian.PutUint64(node[16:24], ^uint64(0))

	pos := 24
	for _, c := range chunks {
		binary.LittleEndian.PutUint32(node[pos:], c.length)
		for d, v := range c.origin {
			binary.LittleEndian.PutUint64(node[pos+8+8*d:], v)
		}
		pos += keySize
		binary.LittleEndian.PutUint64(node[pos:], c.addr)
		pos += 8
	}
	// Upper-bound successor key: the dataset extents.
	for d := 0; d < rank && d < len(shape); d++ {
		binary.LittleEndian.PutUint64(node[pos+8+8*d:], shape[d])
	}
	return b.place(node)
}

// writeFile persists an image under t.TempDir and returns the path.
func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func float64Bytes(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

func sequence(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}
