package source

import (
	"os"

	"github.com/scigolib/h5r/internal/utils"
)

// FileSource reads from a local file.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens a local filesystem path as a byte source.
func OpenFile(name string) (*FileSource, error) {
	//nolint:gosec // G304: user-provided filename is the point of a file reader
	f, err := os.Open(name)
	if err != nil {
		return nil, utils.WrapError("file open failed", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapError("file stat failed", err)
	}
	return &FileSource{f: f, size: fi.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size returns the file length.
func (s *FileSource) Size() int64 {
	return s.size
}

// Close closes the underlying file. Safe to call more than once.
func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// File exposes the underlying descriptor for memory mapping.
func (s *FileSource) File() *os.File {
	return s.f
}
