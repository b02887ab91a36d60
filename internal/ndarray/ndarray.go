// Package ndarray provides the dense row-major buffer chunks are
// assembled into: rectangular region writes, stepped sub-views and the
// element reinterpretation helpers the dataset read path needs.
package ndarray

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Array is a dense row-major multidimensional byte buffer with a fixed
// element width. Shape extents are in elements; Data holds
// prod(Shape) * ElemSize bytes.
type Array struct {
	Shape    []uint64
	ElemSize int
	Data     []byte
}

// New allocates a zeroed array of the given shape and element width.
func New(shape []uint64, elemSize int) *Array {
	n := uint64(1)
	for _, d := range shape {
		n *= d
	}
	return &Array{
		Shape:    append([]uint64(nil), shape...),
		ElemSize: elemSize,
		Data:     make([]byte, n*uint64(elemSize)),
	}
}

// FromBytes wraps raw bytes as an array of the given shape. The byte
// length must match the shape exactly.
func FromBytes(data []byte, shape []uint64, elemSize int) (*Array, error) {
	n := uint64(1)
	for _, d := range shape {
		n *= d
	}
	if uint64(len(data)) != n*uint64(elemSize) {
		return nil, fmt.Errorf("ndarray: %d bytes do not fit shape %v with %d-byte elements", len(data), shape, elemSize)
	}
	return &Array{Shape: append([]uint64(nil), shape...), ElemSize: elemSize, Data: data}, nil
}

// Rank returns the number of dimensions.
func (a *Array) Rank() int {
	return len(a.Shape)
}

// Len returns the total element count.
func (a *Array) Len() uint64 {
	n := uint64(1)
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// strides returns the element stride per dimension (row-major).
func (a *Array) strides() []uint64 {
	s := make([]uint64, len(a.Shape))
	stride := uint64(1)
	for d := len(a.Shape) - 1; d >= 0; d-- {
		s[d] = stride
		stride *= a.Shape[d]
	}
	return s
}

// offsetOf returns the byte offset of the element at coords.
func (a *Array) offsetOf(coords []uint64) uint64 {
	var idx uint64
	for d, s := range a.strides() {
		idx += coords[d] * s
	}
	return idx * uint64(a.ElemSize)
}

// At returns the bytes of one element.
func (a *Array) At(coords ...uint64) []byte {
	off := a.offsetOf(coords)
	return a.Data[off : off+uint64(a.ElemSize)]
}

// SetRegion copies src into the receiver with its origin at the given
// coordinates. Regions reaching past the receiver's extents are
// clipped, mirroring edge chunks that overhang a dataset boundary.
func (a *Array) SetRegion(origin []uint64, src *Array) error {
	if len(origin) != a.Rank() || src.Rank() != a.Rank() {
		return fmt.Errorf("ndarray: rank mismatch writing region at %v", origin)
	}
	if src.ElemSize != a.ElemSize {
		return fmt.Errorf("ndarray: element size mismatch (%d vs %d)", src.ElemSize, a.ElemSize)
	}

	// Clip the copy extents to the destination.
	copyShape := make([]uint64, a.Rank())
	for d := range copyShape {
		if origin[d] >= a.Shape[d] {
			return nil
		}
		copyShape[d] = src.Shape[d]
		if origin[d]+copyShape[d] > a.Shape[d] {
			copyShape[d] = a.Shape[d] - origin[d]
		}
	}

	if a.Rank() == 0 {
		copy(a.Data, src.Data)
		return nil
	}

	// Copy row runs along the last dimension.
	last := a.Rank() - 1
	rowBytes := copyShape[last] * uint64(a.ElemSize)
	coords := make([]uint64, a.Rank())
	dst := make([]uint64, a.Rank())
	for {
		copy(dst, coords)
		for d := range dst {
			dst[d] += origin[d]
		}
		copy(a.Data[a.offsetOf(dst):], src.Data[src.offsetOf(coords):src.offsetOf(coords)+rowBytes])

		// Advance to the next row (odometer over all but the last dim).
		d := last - 1
		for ; d >= 0; d-- {
			coords[d]++
			if coords[d] < copyShape[d] {
				break
			}
			coords[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// Slice materializes the stepped sub-view [start, stop, step] per
// dimension into a new dense array.
func (a *Array) Slice(start, stop, step []uint64) (*Array, error) {
	if len(start) != a.Rank() || len(stop) != a.Rank() || len(step) != a.Rank() {
		return nil, fmt.Errorf("ndarray: slice rank mismatch")
	}

	outShape := make([]uint64, a.Rank())
	for d := range outShape {
		if step[d] == 0 {
			return nil, fmt.Errorf("ndarray: zero step in dimension %d", d)
		}
		if stop[d] > start[d] {
			outShape[d] = (stop[d] - start[d] + step[d] - 1) / step[d]
		}
	}
	out := New(outShape, a.ElemSize)
	if out.Len() == 0 {
		return out, nil
	}

	coords := make([]uint64, a.Rank())
	srcCoords := make([]uint64, a.Rank())
	outPos := uint64(0)
	for {
		for d := range srcCoords {
			srcCoords[d] = start[d] + coords[d]*step[d]
		}
		srcOff := a.offsetOf(srcCoords)
		copy(out.Data[outPos:], a.Data[srcOff:srcOff+uint64(a.ElemSize)])
		outPos += uint64(a.ElemSize)

		d := a.Rank() - 1
		for ; d >= 0; d-- {
			coords[d]++
			if coords[d] < outShape[d] {
				break
			}
			coords[d] = 0
		}
		if d < 0 {
			return out, nil
		}
	}
}

// ByteSwap reverses the byte order of every element in place. Used to
// normalize big-endian storage to native little-endian.
func (a *Array) ByteSwap() {
	w := a.ElemSize
	if w <= 1 {
		return
	}
	for off := 0; off+w <= len(a.Data); off += w {
		for i, j := off, off+w-1; i < j; i, j = i+1, j-1 {
			a.Data[i], a.Data[j] = a.Data[j], a.Data[i]
		}
	}
}

// Float64s interprets the buffer as little-endian float64 elements.
func (a *Array) Float64s() ([]float64, error) {
	if a.ElemSize != 8 {
		return nil, fmt.Errorf("ndarray: element size %d is not 8", a.ElemSize)
	}
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.Data[i*8:]))
	}
	return out, nil
}

// Float32s interprets the buffer as little-endian float32 elements.
func (a *Array) Float32s() ([]float32, error) {
	if a.ElemSize != 4 {
		return nil, fmt.Errorf("ndarray: element size %d is not 4", a.ElemSize)
	}
	out := make([]float32, a.Len())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(a.Data[i*4:]))
	}
	return out, nil
}

// Int64s interprets the buffer as little-endian int64 elements.
func (a *Array) Int64s() ([]int64, error) {
	if a.ElemSize != 8 {
		return nil, fmt.Errorf("ndarray: element size %d is not 8", a.ElemSize)
	}
	out := make([]int64, a.Len())
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(a.Data[i*8:]))
	}
	return out, nil
}

// Int32s interprets the buffer as little-endian int32 elements.
func (a *Array) Int32s() ([]int32, error) {
	if a.ElemSize != 4 {
		return nil, fmt.Errorf("ndarray: element size %d is not 4", a.ElemSize)
	}
	out := make([]int32, a.Len())
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(a.Data[i*4:]))
	}
	return out, nil
}
