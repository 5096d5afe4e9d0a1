package inode

import (
	"os"

	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/werrors"
)

// handleGrowChunk and maxHandles implement the Open-File Table's sizing
// rule from spec.md §4.4: grow in chunks of 8 up to a 65535 cap.
const (
	handleGrowChunk = 8
	maxHandles      = 65535
)

// handleSlot is one entry of an inode's open-file table. A nil slot is
// free.
type handleSlot struct {
	h *Handle
}

// Handle identifies one open file/directory descriptor: the inode and
// stream it was opened against, plus the blob observed at open time and
// (if staged) a scratch-file descriptor. Identity is (inode, streamID,
// slot index) at open time, per spec.md §3.
type Handle struct {
	Inode    ID
	StreamID StreamID
	Idx      int

	// Blob is the descriptor this handle currently observes. It is
	// rebound in place by the Staging Layer when the stream it watches
	// gets staged out from under it (spec.md §4.3 step 4).
	Blob *blob.Descriptor

	// StagingFile is the native scratch-file descriptor for this handle,
	// valid only once Blob.Location.Kind is InStagingFile/InFileOnDisk
	// and the handle has acquired its own fd (spec.md §4.3 step 4,
	// spec.md §4.4). Kept as an *os.File (rather than a bare integer) so
	// nothing closes the descriptor out from under a live handle.
	StagingFile *os.File

	Writable bool
}

// OpenHandle allocates a new handle slot observing stream's current
// blob, incrementing in.numOpenFDs and (for writable/staged opens)
// b.OpenFDCount. Returns werrors.EMFILE once 65535 slots are in use on
// this inode.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) OpenHandle(streamID StreamID, b *blob.Descriptor, writable bool) (*Handle, error) {
	idx := -1
	for i, slot := range in.handles {
		if slot == nil || slot.h == nil {
			idx = i
			break
		}
	}
	if idx == -1 {
		if len(in.handles) >= maxHandles {
			return nil, werrors.EMFILE
		}
		grow := handleGrowChunk
		if len(in.handles)+grow > maxHandles {
			grow = maxHandles - len(in.handles)
		}
		idx = len(in.handles)
		for i := 0; i < grow; i++ {
			in.handles = append(in.handles, nil)
		}
	}

	h := &Handle{Inode: in.id, StreamID: streamID, Idx: idx, Blob: b, Writable: writable}
	in.handles[idx] = &handleSlot{h: h}
	in.numOpenFDs++
	if b != nil && (writable || b.Location.Kind != blob.InArchive) {
		b.OpenFDCount++
	}
	return h, nil
}

// ReleaseHandle frees h's slot, the symmetric inverse of OpenHandle.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) ReleaseHandle(h *Handle) {
	if h.Idx < 0 || h.Idx >= len(in.handles) || in.handles[h.Idx] == nil || in.handles[h.Idx].h != h {
		return
	}
	in.handles[h.Idx] = nil
	in.numOpenFDs--
	if h.Blob != nil && (h.Writable || h.Blob.Location.Kind != blob.InArchive) {
		if h.Blob.OpenFDCount > 0 {
			h.Blob.OpenFDCount--
		}
	}
}

// NumOpenFDs returns the number of live handles on this inode.
// LOCKS_REQUIRED(in.mu)
func (in *Inode) NumOpenFDs() uint32 { return in.numOpenFDs }

// Handles returns every currently-live handle on this inode, used by
// the Commit Pipeline's drain step (spec.md §4.7 step 1).
// LOCKS_REQUIRED(in.mu)
func (in *Inode) Handles() []*Handle {
	var out []*Handle
	for _, slot := range in.handles {
		if slot != nil && slot.h != nil {
			out = append(out, slot.h)
		}
	}
	return out
}
