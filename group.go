package h5r

import (
	"fmt"

	"github.com/scigolib/h5r/internal/core"
	"github.com/scigolib/h5r/internal/structures"
	"github.com/scigolib/h5r/internal/utils"
)

// Object is any addressable member of the file tree: a Group or a
// Dataset.
type Object interface {
	Name() string
	Address() uint64
}

// Link is one directory entry of a group.
type Link struct {
	Name string
	// Type is 0 for hard, 1 for soft, 64 for external links.
	Type uint8
	// Address is the target object header (hard links only).
	Address uint64
	// CreationOrder is valid when HasOrder is set.
	CreationOrder uint64
	HasOrder      bool
	// Target carries the raw payload of soft and external links.
	Target []byte
}

// Group is an HDF5 group: a named collection of links to other objects.
type Group struct {
	file *File
	name string
	addr uint64
	oh   *core.ObjectHeader
}

func loadGroup(f *File, address uint64, name string) (*Group, error) {
	oh, err := core.ReadObjectHeader(f.src, address, f.sb)
	if err != nil {
		return nil, err
	}
	return &Group{file: f, name: name, addr: address, oh: oh}, nil
}

// Name returns the group's link name ("/" for the root).
func (g *Group) Name() string {
	return g.name
}

// Address returns the group's object header address.
func (g *Group) Address() uint64 {
	return g.addr
}

// Links enumerates the group's links. The three storage shapes are
// unified here: inline link messages yield in message order, v1 symbol
// tables in B-tree (name) order, and dense storage in creation order
// through its creation-order index. A dense group that has only a name
// index fails with ErrCorrupt, because only creation-order (type 6)
// B-tree records are decoded.
func (g *Group) Links() ([]Link, error) {
	var links []Link
	for _, m := range g.oh.Messages {
		switch m.Type {
		case core.MsgLink:
			l, err := core.ReadLinkMessage(g.file.src, m.Offset, int(m.Size), g.file.sb)
			if err != nil {
				return nil, err
			}
			links = append(links, fromCoreLink(l))

		case core.MsgSymbolTable:
			st, err := g.symbolTableLinks(m)
			if err != nil {
				return nil, err
			}
			links = append(links, st...)

		case core.MsgLinkInfo:
			dense, err := g.denseLinks(m)
			if err != nil {
				return nil, err
			}
			links = append(links, dense...)
		}
	}
	return links, nil
}

// symbolTableLinks walks the v1 B-tree named by a symbol table message:
// each leaf yields symbol-table nodes whose entries pair a local-heap
// name offset with an object header address.
func (g *Group) symbolTableLinks(m core.Message) ([]Link, error) {
	btreeAddr, heapAddr, err := core.ReadSymbolTableMessage(g.file.src, m.Offset, g.file.sb)
	if err != nil {
		return nil, err
	}
	heap, err := structures.LoadLocalHeap(g.file.src, heapAddr, g.file.sb)
	if err != nil {
		return nil, err
	}

	var links []Link
	err = structures.WalkGroupTree(g.file.src, btreeAddr, g.file.sb, func(snodAddr uint64) error {
		entries, err := structures.ReadSymbolTableNode(g.file.src, snodAddr, g.file.sb)
		if err != nil {
			return err
		}
		for _, e := range entries {
			name, err := heap.Name(e.NameOffset)
			if err != nil {
				return err
			}
			links = append(links, Link{Name: name, Type: core.LinkTypeHard, Address: e.ObjectAddress})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// denseLinks resolves dense storage: v2 B-tree records point through
// the fractal heap at serialized link-message bodies.
func (g *Group) denseLinks(m core.Message) ([]Link, error) {
	li, err := core.ReadLinkInfo(g.file.src, m.Offset, g.file.sb)
	if err != nil {
		return nil, err
	}
	if g.file.sb.IsUndefined(li.FractalHeapAddr) || li.FractalHeapAddr == 0 {
		return nil, nil // compact group, links arrive as inline messages
	}

	heap, err := structures.OpenFractalHeap(g.file.src, li.FractalHeapAddr, g.file.sb)
	if err != nil {
		return nil, err
	}

	btreeAddr := li.OrderBTreeAddr
	if !li.HasOrderBTreeAddr || g.file.sb.IsUndefined(btreeAddr) {
		btreeAddr = li.NameBTreeAddr
	}
	if g.file.sb.IsUndefined(btreeAddr) {
		return nil, utils.Corruptf("dense group has no link index B-tree")
	}

	tree, err := structures.OpenBTreeV2(g.file.src, btreeAddr, g.file.sb)
	if err != nil {
		return nil, err
	}

	var links []Link
	err = tree.LinkOrderRecords(g.file.src, g.file.sb, func(rec structures.LinkOrderRecord) error {
		offset, length, err := heap.Resolve(rec.HeapID[:])
		if err != nil {
			return err
		}
		body := make([]byte, length)
		if _, err := g.file.src.ReadAt(body, int64(offset)); err != nil {
			return utils.WrapError("dense link body read failed", err)
		}
		l, err := core.ParseLinkBytes(body, g.file.sb)
		if err != nil {
			return err
		}
		links = append(links, fromCoreLink(l))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

func fromCoreLink(l *core.Link) Link {
	return Link{
		Name:          l.Name,
		Type:          l.Type,
		Address:       l.Address,
		CreationOrder: l.CreationOrder,
		HasOrder:      l.HasOrder,
		Target:        l.Target,
	}
}

// Get looks up a link by name and opens its target, returning a *Group
// or a *Dataset depending on the target's object header.
func (g *Group) Get(name string) (Object, error) {
	links, err := g.Links()
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if l.Name != name {
			continue
		}
		if l.Type != core.LinkTypeHard {
			return nil, fmt.Errorf("link %q: only hard links resolve to objects", name)
		}
		return g.resolve(l)
	}
	return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
}

// resolve opens a hard link's target object. A header carrying both a
// dataspace and a data layout message is a dataset; anything else is
// treated as a group.
func (g *Group) resolve(l Link) (Object, error) {
	oh, err := core.ReadObjectHeader(g.file.src, l.Address, g.file.sb)
	if err != nil {
		return nil, err
	}
	if oh.IsDataset() {
		return newDataset(g.file, l.Name, l.Address, oh)
	}
	return &Group{file: g.file, name: l.Name, addr: l.Address, oh: oh}, nil
}

// Attributes returns the group's attribute messages.
func (g *Group) Attributes() ([]*core.Attribute, error) {
	return readAttributes(g.file, g.oh)
}

func readAttributes(f *File, oh *core.ObjectHeader) ([]*core.Attribute, error) {
	var attrs []*core.Attribute
	for _, m := range oh.Messages {
		if m.Type != core.MsgAttribute {
			continue
		}
		a, err := core.ReadAttribute(f.src, m.Offset, int(m.Size), f.sb)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}
