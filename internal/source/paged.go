package source

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultPageSize is used when the file carries no File Space Info message.
const DefaultPageSize = 4096

// PagedSource aligns reads on an underlying Reader to a fixed page size
// and caches whole pages. It targets remote files where metadata reads
// are small and scattered: each missing page costs one ranged fetch, and
// subsequent reads inside it are free.
//
// The cache never evicts; ResetCache drops it wholesale. Only one
// goroutine may drive reads at a time.
type PagedSource struct {
	under    Reader
	pageSize int64

	mu     sync.Mutex
	pages  map[int64][]byte
	hits   uint64
	misses uint64
}

// NewPaged wraps under with a page cache. A non-positive pageSize falls
// back to DefaultPageSize.
func NewPaged(under Reader, pageSize int64) *PagedSource {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PagedSource{
		under:    under,
		pageSize: pageSize,
		pages:    make(map[int64][]byte),
	}
}

// ReadAt implements io.ReaderAt by splicing the requested range out of
// cached pages, fetching each missing page at its aligned offset.
func (s *PagedSource) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= s.under.Size() {
			return n, io.EOF
		}
		pageID := pos / s.pageSize
		inPage := pos - pageID*s.pageSize

		page, err := s.page(pageID)
		if err != nil {
			return n, err
		}
		if inPage >= int64(len(page)) {
			return n, io.EOF
		}
		n += copy(p[n:], page[inPage:])
	}
	return n, nil
}

// page returns the cached page, fetching it on a miss. The last page of
// the file may be short.
func (s *PagedSource) page(id int64) ([]byte, error) {
	if page, ok := s.pages[id]; ok {
		s.hits++
		return page, nil
	}
	s.misses++

	start := id * s.pageSize
	length := s.pageSize
	if start+length > s.under.Size() {
		length = s.under.Size() - start
	}
	page := make([]byte, length)
	if _, err := s.under.ReadAt(page, start); err != nil && err != io.EOF {
		return nil, err
	}
	s.pages[id] = page
	return page, nil
}

// Underlying returns the wrapped reader. Bulk raw-chunk reads go through
// it directly so they never pollute the metadata cache.
func (s *PagedSource) Underlying() Reader {
	return s.under
}

// PageSize reports the configured page size.
func (s *PagedSource) PageSize() int64 {
	return s.pageSize
}

// CacheHits reports how many page lookups were served from the cache.
func (s *PagedSource) CacheHits() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

// CacheMisses reports how many page lookups required a fetch.
func (s *PagedSource) CacheMisses() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.misses
}

// ResetCache drops all cached pages and zeroes the counters.
func (s *PagedSource) ResetCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	logrus.Debugf("page cache reset: dropping %d pages", len(s.pages))
	s.pages = make(map[int64][]byte)
	s.hits = 0
	s.misses = 0
}

// Size returns the length of the underlying source.
func (s *PagedSource) Size() int64 {
	return s.under.Size()
}

// Close closes the underlying source and drops the cache.
func (s *PagedSource) Close() error {
	s.mu.Lock()
	s.pages = nil
	s.mu.Unlock()
	return s.under.Close()
}
