// Package h5r is a pure Go reader for the HDF5 hierarchical data
// container format. Given a local path or an HTTP(S) endpoint honoring
// Range requests, it exposes the object tree (groups, datasets,
// attributes) and materializes hyperslab selections of dataset arrays
// into dense in-memory buffers.
package h5r

import (
	"fmt"
	"strings"

	"github.com/scigolib/h5r/internal/core"
	"github.com/scigolib/h5r/internal/source"
	"github.com/scigolib/h5r/internal/structures"
	"github.com/scigolib/h5r/internal/utils"
)

// File represents an open HDF5 file. It owns the byte source, the
// parsed superblock and the instance-scoped caches; metadata access is
// not safe for concurrent use without external serialization.
type File struct {
	name string

	// src serves metadata reads and may be page-cached. chunkSrc serves
	// bulk raw-chunk reads and bypasses the page cache; for split files
	// it is the raw sibling.
	src      source.Reader
	chunkSrc source.Reader
	paged    *source.PagedSource

	sb     *core.Superblock
	driver *core.DriverInfo
	gheap  *structures.GlobalHeapCache
	root   *Group

	// rawBase is the raw member's base address for the split driver;
	// chunk offsets from the B-tree are projected by subtracting it.
	rawBase uint64

	opts options
}

// Open opens an HDF5 file. Names starting with http:// or https://
// are read via Range requests; anything else opens a local path.
func Open(name string, opts ...Option) (*File, error) {
	o := buildOptions(opts)
	src, err := source.Open(name, o.httpClient)
	if err != nil {
		return nil, err
	}

	f := &File{name: name, src: src, chunkSrc: src, opts: o}
	if err := f.init(); err != nil {
		_ = src.Close()
		return nil, err
	}
	return f, nil
}

// OpenPaged opens an HDF5 file with the page cache enabled for
// metadata reads. The page size comes from the file's File Space Info
// message when the superblock extension is defined, else 4096.
func OpenPaged(name string, opts ...Option) (*File, error) {
	o := buildOptions(opts)
	under, err := source.Open(name, o.httpClient)
	if err != nil {
		return nil, err
	}

	f := &File{name: name, src: under, chunkSrc: under, opts: o}
	if err := f.init(); err != nil {
		_ = under.Close()
		return nil, err
	}

	pageSize := o.pageSize
	if pageSize <= 0 {
		pageSize = f.fileSpacePageSize()
	}

	// Re-root metadata reads through the cache; chunk reads keep the
	// direct path so bulk transfers never evict metadata pages.
	f.paged = source.NewPaged(under, pageSize)
	f.src = f.paged
	f.chunkSrc = under

	// Reload the tree so subsequent metadata traffic is paged.
	if err := f.loadRoot(); err != nil {
		_ = f.paged.Close()
		return nil, err
	}
	return f, nil
}

// OpenSplit opens a file written by the split driver: metadata in
// base+"-m.h5", raw data in base+"-r.h5". Chunk byte offsets from the
// B-tree live in the raw member's address space and are projected onto
// the raw sibling.
func OpenSplit(base string, opts ...Option) (*File, error) {
	o := buildOptions(opts)
	metaName := base + "-m.h5"
	rawName := base + "-r.h5"

	src, err := source.Open(metaName, o.httpClient)
	if err != nil {
		return nil, err
	}
	f := &File{name: base, src: src, chunkSrc: src, opts: o}
	if err := f.init(); err != nil {
		_ = src.Close()
		return nil, err
	}

	if f.driver == nil || !f.driver.IsMulti() {
		_ = src.Close()
		return nil, utils.Corruptf("%s does not carry a multi/split driver block", metaName)
	}
	members, err := f.driver.Members()
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	f.rawBase = members[core.MemberRaw].Address

	raw, err := source.Open(rawName, o.httpClient)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	f.chunkSrc = raw
	return f, nil
}

// init locates the superblock, reads the driver-info block if present
// and loads the root group.
func (f *File) init() error {
	sb, err := core.FindSuperblock(f.src, f.src.Size())
	if err != nil {
		return err
	}
	f.sb = sb
	f.gheap = structures.NewGlobalHeapCache()

	if !sb.IsUndefined(sb.DriverInfoAddress) && sb.DriverInfoAddress != 0 {
		f.driver, err = core.ReadDriverInfo(f.src, sb.DriverInfoAddress)
		if err != nil {
			return utils.WrapError("driver info block parse failed", err)
		}
	}

	return f.loadRoot()
}

func (f *File) loadRoot() error {
	root, err := loadGroup(f, f.sb.Entrypoint, "/")
	if err != nil {
		return utils.WrapError("root group load failed", err)
	}
	f.root = root
	return nil
}

// fileSpacePageSize reads the page size from the File Space Info
// message of the superblock extension. Only v2+ superblocks carry an
// extension; everything else gets the default.
func (f *File) fileSpacePageSize() int64 {
	if f.sb.Version < 2 || f.sb.IsUndefined(f.sb.ExtensionAddress) {
		return source.DefaultPageSize
	}
	oh, err := core.ReadObjectHeader(f.src, f.sb.ExtensionAddress, f.sb)
	if err != nil {
		return source.DefaultPageSize
	}
	msg, ok := oh.FindMessage(core.MsgFileSpaceInfo)
	if !ok {
		return source.DefaultPageSize
	}
	fsi, err := core.ReadFileSpaceInfo(f.src, msg.Offset, f.sb)
	if err != nil || fsi.PageSize == 0 {
		return source.DefaultPageSize
	}
	return int64(fsi.PageSize)
}

// Name returns the name or URL the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Root returns the root group.
func (f *File) Root() *Group {
	return f.root
}

// Get looks up a link of the root group by name.
func (f *File) Get(name string) (Object, error) {
	return f.root.Get(name)
}

// Superblock returns the parsed superblock.
func (f *File) Superblock() *core.Superblock {
	return f.sb
}

// Close closes the underlying byte sources. Safe to call repeatedly.
func (f *File) Close() error {
	var firstErr error
	if f.src != nil {
		firstErr = f.src.Close()
		f.src = nil
	}
	if f.chunkSrc != nil && f.chunkSrc != f.paged {
		if err := f.chunkSrc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.chunkSrc = nil
	}
	f.paged = nil
	return firstErr
}

// CacheHits reports page-cache hits; zero for unpaged files.
func (f *File) CacheHits() uint64 {
	if f.paged == nil {
		return 0
	}
	return f.paged.CacheHits()
}

// CacheMisses reports page-cache misses; zero for unpaged files.
func (f *File) CacheMisses() uint64 {
	if f.paged == nil {
		return 0
	}
	return f.paged.CacheMisses()
}

// ResetCache drops all cached pages and zeroes the counters.
func (f *File) ResetCache() {
	if f.paged != nil {
		f.paged.ResetCache()
	}
}

// projectChunk maps a chunk byte offset from the B-tree into the chunk
// source's address space. Identity except for split files, where raw
// offsets are relative to the raw member base.
func (f *File) projectChunk(offset uint64) uint64 {
	return offset - f.rawBase
}

// globalHeapObject resolves a (collection offset, index) pair through
// the file's global heap cache.
func (f *File) globalHeapObject(offset uint64, index uint32) ([]byte, error) {
	return f.gheap.Object(f.src, offset, index, f.sb)
}

// Walk traverses the object tree depth-first from the root, calling fn
// for every object with its absolute path.
func (f *File) Walk(fn func(path string, obj Object)) error {
	return walkGroup(f.root, "/", fn)
}

func walkGroup(g *Group, path string, fn func(string, Object)) error {
	fn(path, g)
	links, err := g.Links()
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.Type != core.LinkTypeHard {
			continue
		}
		child, err := g.resolve(l)
		if err != nil {
			return fmt.Errorf("resolving %s%s: %w", path, l.Name, err)
		}
		childPath := path + l.Name
		if sub, ok := child.(*Group); ok {
			if err := walkGroup(sub, childPath+"/", fn); err != nil {
				return err
			}
		} else {
			fn(childPath, child)
		}
	}
	return nil
}

// String renders a short description for debugging.
func (f *File) String() string {
	kind := "local"
	if strings.HasPrefix(f.name, "http://") || strings.HasPrefix(f.name, "https://") {
		kind = "remote"
	}
	return fmt.Sprintf("h5r.File(%s, %s, superblock v%d)", f.name, kind, f.sb.Version)
}
