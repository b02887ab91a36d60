// Package filters is the codec registry the chunk decode path consumes:
// decoders keyed by numeric filter id, applied in reverse pipeline
// order when a chunk is read.
package filters

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/scigolib/h5r/internal/core"
	"github.com/scigolib/h5r/internal/utils"
)

// Decoder reverses one filter over a chunk's bytes.
type Decoder func(data []byte) ([]byte, error)

// registry maps a filter id to its decoder constructor. The client data
// comes from the dataset's filter pipeline message.
var registry = map[uint16]func(clientData []uint32) Decoder{
	core.FilterDeflate:    newDeflate,
	core.FilterShuffle:    newShuffle,
	core.FilterFletcher32: newFletcher32,
}

// Decode applies the pipeline to a raw chunk in reverse order. A set
// bit i in the filter mask disables pipeline entry i.
func Decode(pipeline []core.Filter, mask uint32, data []byte) ([]byte, error) {
	for i := len(pipeline) - 1; i >= 0; i-- {
		if mask&(1<<uint(i)) != 0 {
			continue
		}
		f := pipeline[i]
		build, ok := registry[f.ID]
		if !ok {
			return nil, fmt.Errorf("filter id %d: %w", f.ID, utils.ErrUnsupportedFilter)
		}
		var err error
		data, err = build(f.ClientData)(data)
		if err != nil {
			return nil, fmt.Errorf("filter %d (%s): %w", f.ID, f.Name, err)
		}
	}
	return data, nil
}

// newDeflate decodes zlib streams. The compression level in the client
// data matters only on the write side.
func newDeflate([]uint32) Decoder {
	return func(data []byte) ([]byte, error) {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
}

// newShuffle reverses the byte shuffle: input groups byte position j of
// every element together, output restores element order. Client data
// carries the element size.
func newShuffle(clientData []uint32) Decoder {
	elemSize := 1
	if len(clientData) > 0 && clientData[0] > 0 {
		elemSize = int(clientData[0])
	}
	return func(data []byte) ([]byte, error) {
		if elemSize <= 1 {
			return data, nil
		}
		n := len(data) / elemSize
		if n == 0 {
			return data, nil
		}
		out := make([]byte, len(data))
		for j := 0; j < elemSize; j++ {
			for i := 0; i < n; i++ {
				out[i*elemSize+j] = data[j*n+i]
			}
		}
		// Trailing bytes not covered by whole elements pass through.
		copy(out[n*elemSize:], data[n*elemSize:])
		return out, nil
	}
}

// newFletcher32 verifies the trailing 4-byte checksum and strips it.
func newFletcher32([]uint32) Decoder {
	return func(data []byte) ([]byte, error) {
		if len(data) < 4 {
			return nil, utils.Corruptf("fletcher32 chunk of %d bytes", len(data))
		}
		payload := data[:len(data)-4]
		stored := binary.LittleEndian.Uint32(data[len(data)-4:])
		if sum := fletcher32(payload); sum != stored {
			return nil, utils.Corruptf("fletcher32 mismatch: stored %08x computed %08x", stored, sum)
		}
		return payload, nil
	}
}

// fletcher32 computes the checksum over 16-bit little-endian words, an
// odd trailing byte contributing as its own word.
func fletcher32(data []byte) uint32 {
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
	return sum2<<16 | sum1
}
