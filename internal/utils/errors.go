// Package utils provides shared helpers for the HDF5 reader: contextual
// error wrapping, the pooled scratch buffers used by the format parsers,
// and variable-width little-endian field readers.
package utils

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the reader. Parsers wrap these with context via
// WrapError or fmt.Errorf("...: %w", ...), so errors.Is works across layers.
var (
	ErrUnsupportedVersion  = errors.New("unsupported format version")
	ErrUnsupportedFilter   = errors.New("unsupported filter")
	ErrUnsupportedDatatype = errors.New("unsupported datatype class")
	ErrUnsupportedLayout   = errors.New("unsupported layout class")
	ErrNotFound            = errors.New("link not found")
	ErrUninitialized       = errors.New("dataset storage not allocated")
	ErrCorrupt             = errors.New("corrupt structure")
)

// H5Error represents a structured HDF5 error.
type H5Error struct {
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *H5Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

// Unwrap provides compatibility with errors.Is and errors.As.
func (e *H5Error) Unwrap() error {
	return e.Cause
}

// WrapError creates a contextual error. Returns nil when cause is nil.
func WrapError(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &H5Error{
		Context: context,
		Cause:   cause,
	}
}

// Corruptf reports a corrupt on-disk structure with a formatted context.
func Corruptf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrCorrupt)
}
