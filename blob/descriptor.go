package blob

import (
	"fmt"
	"io"
	"os"
)

// Digest is the 20-byte SHA-1 identity of a blob. For a staged blob that
// has not yet been rehashed by the Commit Pipeline, this is a synthetic
// random value, not a real content hash; see SyntheticTag.
type Digest [20]byte

func (d Digest) String() string {
	return fmt.Sprintf("%x", [20]byte(d))
}

// syntheticBit marks a Digest as a placeholder assigned by the Staging
// Layer rather than a real SHA-1 of the blob's content. Reserving the top
// bit of byte 0, per SPEC_FULL.md §9, keeps a freshly-staged blob from
// colliding with a real archive digest during the open window between
// staging and the Commit Pipeline's rehash.
const syntheticBit = 0x80

// MarkSynthetic sets the reserved bit so d cannot be mistaken for a real
// content digest.
func (d Digest) MarkSynthetic() Digest {
	d[0] |= syntheticBit
	return d
}

// IsSynthetic reports whether d was produced by MarkSynthetic.
func (d Digest) IsSynthetic() bool {
	return d[0]&syntheticBit != 0
}

// Descriptor is a blob's entry in the Store. Its digest is immutable
// identity; Location, RefCount, OpenFDCount, and OwnerInode are mutable
// per SPEC_FULL.md / spec.md §3.
type Descriptor struct {
	Digest Digest

	Location Location

	// RefCount is the authoritative logical reference count: the sum of
	// inode.link_count over every inode with a stream pointing at this
	// blob (invariant 1 in spec.md §3).
	RefCount uint32

	// PendingRefCount is used exclusively by bulk operations (import,
	// export rollback) so a half-done operation can be undone by
	// subtracting it back out; it is zero outside of such an operation.
	PendingRefCount uint32

	// OpenFDCount is the number of live handles observing this blob,
	// excluding read-only archive reads (invariant 3).
	OpenFDCount uint32

	// OwnerInode is a weak back-pointer to the inode this blob was
	// staged for. It is valid only while Location.Kind is
	// InStagingFile or InFileOnDisk, and is used only by the Staging
	// Layer, which sets it, and by the Commit Pipeline's drain and rehash
	// steps, which use it to find the inode whose handles and streams
	// point at this blob.
	OwnerInode uint64
	HasOwner   bool

	// Size is the resource size in bytes, kept current regardless of
	// Location.Kind so GetAttr never needs to touch the location.
	Size int64
}

// Dead reports whether the descriptor should be removed from the store
// per invariant 2: refcnt == 0 and no open handles reference it.
func (d *Descriptor) Dead() bool {
	return d.RefCount == 0 && d.OpenFDCount == 0
}

// ReadAt reads up to len(p) bytes at off from the blob's current backing
// location, dispatching on Location.Kind the way a tagged union would in
// a language with sum types.
func (d *Descriptor) ReadAt(p []byte, off int64, archiveRead func(ArchiveRef, int64, int64) ([]byte, error)) (int, error) {
	switch d.Location.Kind {
	case InArchive:
		if archiveRead == nil {
			return 0, fmt.Errorf("blob: no archive reader configured")
		}
		data, err := archiveRead(d.Location.Archive, off, int64(len(p)))
		if err != nil {
			return 0, err
		}
		n := copy(p, data)
		return n, nil

	case InStagingFile, InFileOnDisk:
		f, err := os.Open(d.Location.StagingPath)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		n, err := f.ReadAt(p, off)
		if err == io.EOF {
			err = nil
		}
		return n, err

	case InAttachedBuffer:
		if off >= int64(len(d.Location.Buffer)) {
			return 0, nil
		}
		n := copy(p, d.Location.Buffer[off:])
		return n, nil

	default:
		return 0, fmt.Errorf("blob: unknown location kind %v", d.Location.Kind)
	}
}
