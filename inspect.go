package h5r

import (
	"github.com/scigolib/h5r/internal/core"
)

// MetadataRecord locates one piece of file metadata: an object header
// or a single header message, tagged with the owning object's path.
type MetadataRecord struct {
	Offset uint64
	Length uint64
	Kind   string
	Object string
}

// InspectMetadata walks the object tree and reports the byte ranges of
// every object header and header message reachable from the root.
// Useful for building metadata prefetch maps of remote files.
func (f *File) InspectMetadata() ([]MetadataRecord, error) {
	var records []MetadataRecord
	err := f.Walk(func(path string, obj Object) {
		var oh *core.ObjectHeader
		switch o := obj.(type) {
		case *Group:
			oh = o.oh
		case *Dataset:
			oh = o.oh
		default:
			return
		}

		headerLen := uint64(0)
		if len(oh.Messages) > 0 && oh.Messages[0].Offset > oh.Address {
			headerLen = oh.Messages[0].Offset - oh.Address
		}
		records = append(records, MetadataRecord{
			Offset: oh.Address,
			Length: headerLen,
			Kind:   "object_header",
			Object: path,
		})
		for _, m := range oh.Messages {
			records = append(records, MetadataRecord{
				Offset: m.Offset,
				Length: uint64(m.Size),
				Kind:   "object_header_message",
				Object: path,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
