// Package source provides the byte sources the reader parses from: a local
// file, an HTTP(S) endpoint honoring Range requests, and a page-aligned
// caching decorator for remote files whose metadata reads are small and
// scattered.
package source

import (
	"io"
	"net/http"
	"strings"
)

// Reader is a random-access byte source. All format parsing goes through
// this interface; implementations must support concurrent ReadAt calls
// only when documented (the page cache is single-writer).
type Reader interface {
	io.ReaderAt
	io.Closer

	// Size returns the total length of the byte source.
	Size() int64
}

// Open dispatches on the name: http:// and https:// open a Range-request
// client, anything else opens a local filesystem path. A nil client uses
// http.DefaultClient.
func Open(name string, client *http.Client) (Reader, error) {
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		return OpenHTTP(name, client)
	}
	return OpenFile(name)
}

// Cursor provides the sequential seek/read/tell view over a Reader.
// It owns its logical position; callers must not share one cursor
// across goroutines.
type Cursor struct {
	r   Reader
	pos int64
}

// NewCursor returns a cursor positioned at offset 0.
func NewCursor(r Reader) *Cursor {
	return &Cursor{r: r}
}

// Seek moves the cursor to an absolute offset.
func (c *Cursor) Seek(pos int64) {
	c.pos = pos
}

// Tell reports the current absolute offset.
func (c *Cursor) Tell() int64 {
	return c.pos
}

// Read reads exactly n bytes at the cursor and advances it by n.
func (c *Cursor) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := c.r.ReadAt(buf, c.pos); err != nil {
		return nil, err
	}
	c.pos += int64(n)
	return buf, nil
}
