package h5r

import "github.com/scigolib/h5r/internal/utils"

// Error kinds reported by the reader. Wrap sites add context; test with
// errors.Is.
var (
	// ErrUnsupportedVersion marks a superblock, object header or message
	// version outside the supported set.
	ErrUnsupportedVersion = utils.ErrUnsupportedVersion
	// ErrUnsupportedFilter marks a filter id missing from the codec
	// registry.
	ErrUnsupportedFilter = utils.ErrUnsupportedFilter
	// ErrUnsupportedDatatype marks a datatype class other than
	// fixed-point, float or variable-length string.
	ErrUnsupportedDatatype = utils.ErrUnsupportedDatatype
	// ErrUnsupportedLayout marks a layout class other than contiguous or
	// chunked.
	ErrUnsupportedLayout = utils.ErrUnsupportedLayout
	// ErrNotFound marks a link lookup miss.
	ErrNotFound = utils.ErrNotFound
	// ErrUninitialized marks dataset storage whose address equals the
	// undefined sentinel: the data was never written.
	ErrUninitialized = utils.ErrUninitialized
	// ErrCorrupt marks a signature mismatch, checksum failure or an
	// impossible field combination.
	ErrCorrupt = utils.ErrCorrupt
)
