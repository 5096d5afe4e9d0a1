package inode

import (
	"sync"

	"github.com/rzr/wimlib/blob"
)

// ID is a per-mount integer inode number, assigned at mount time and
// never reused (spec.md §3).
type ID uint64

// RootID is the distinguished inode number of the mount root, matching
// the convention jacobsa/fuse's fuseops package uses for its own
// RootInodeID.
const RootID ID = 1

// Inode is a file object: identity is its ID, attributes are mutable
// under its own lock. Multiple dentries may alias the same inode
// (hard links), tracked via LinkCount.
type Inode struct {
	id ID

	mu sync.Mutex // GUARDED_BY below

	// GUARDED_BY(mu)
	Attr WindowsAttr
	// GUARDED_BY(mu)
	Times Timestamps
	// GUARDED_BY(mu)
	LinkCount uint32
	// GUARDED_BY(mu)
	streams []*Stream
	// GUARDED_BY(mu)
	nextStreamID StreamID

	// GUARDED_BY(mu)
	handles []*handleSlot
	// GUARDED_BY(mu)
	numOpenFDs uint32

	lc lookupCount
}

// NewInode creates an inode with a single, empty unnamed stream. destroy
// is invoked once the kernel's lookup count (tracked via
// IncrementLookupCount/DecrementLookupCount) returns to zero while
// LinkCount and open handles are also both zero; see Reclaimable.
func NewInode(id ID, attr WindowsAttr, destroy func() error) *Inode {
	in := &Inode{
		id:        id,
		Attr:      attr,
		LinkCount: 1,
		streams:   []*Stream{{ID: UnnamedStreamID, Name: ""}},
		nextStreamID: 1,
	}
	now := Now()
	in.Times = Timestamps{Creation: now, LastAccess: now, LastWrite: now}
	in.lc.init(func() error {
		if !in.Reclaimable() {
			return nil
		}
		return destroy()
	})
	return in
}

func (in *Inode) ID() ID { return in.id }

func (in *Inode) Lock()   { in.mu.Lock() }
func (in *Inode) Unlock() { in.mu.Unlock() }

// IncrementLookupCount bumps the kernel-visible lookup count.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) IncrementLookupCount() { in.lc.inc() }

// DecrementLookupCount lowers the kernel-visible lookup count by n,
// returning true if it hit zero; destroy then runs only if the inode is
// also Reclaimable.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) DecrementLookupCount(n uint64) bool { return in.lc.dec(n) }

// IsDir reports whether this inode is a directory.
func (in *Inode) IsDir() bool { return in.Attr&AttrDirectory != 0 }

// IsSymlink reports whether this inode is a reparse-point symlink.
func (in *Inode) IsSymlink() bool {
	return in.Attr&AttrReparsePoint != 0
}

// UnnamedStream returns stream 0.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) UnnamedStream() *Stream { return in.streams[0] }

// Stream returns the stream with the given name, or nil. Name == ""
// returns the unnamed stream.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) Stream(name string) *Stream {
	for _, s := range in.streams {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Streams returns every stream, unnamed first.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) Streams() []*Stream { return in.streams }

// CreateStream adds a new, empty named stream and returns it. Returns
// nil if one with that name already exists.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) CreateStream(name string) *Stream {
	if name == "" || in.Stream(name) != nil {
		return nil
	}
	s := &Stream{ID: in.nextStreamID, Name: name}
	in.nextStreamID++
	in.streams = append(in.streams, s)
	return s
}

// RemoveStream deletes a named stream (never the unnamed stream 0).
// Returns the removed stream's blob, or nil if it had none or the name
// was not found.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) RemoveStream(name string) *blob.Descriptor {
	if name == "" {
		return nil
	}
	for i, s := range in.streams {
		if s.Name == name {
			in.streams = append(in.streams[:i], in.streams[i+1:]...)
			return s.Blob
		}
	}
	return nil
}

// Reclaimable reports whether the inode has no remaining hard links and
// no open handles, per invariant 5 (spec.md §3): it should be freed.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) Reclaimable() bool {
	return in.LinkCount == 0 && in.numOpenFDs == 0
}
