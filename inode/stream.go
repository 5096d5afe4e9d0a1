package inode

import "github.com/rzr/wimlib/blob"

// StreamID distinguishes the alternate data streams of one inode. The
// unnamed stream always has ID 0; named (ADS) streams get the next free
// ID starting at 1, never reused within the lifetime of the inode.
type StreamID uint32

const UnnamedStreamID StreamID = 0

// Stream is one of an inode's data streams: the unnamed stream (index
// 0) or a named alternate data stream. A stream with a nil Blob is
// empty (spec.md §3: "each stream references at most one blob
// descriptor, or no blob iff empty").
type Stream struct {
	ID   StreamID
	Name string // "" for the unnamed stream
	Blob *blob.Descriptor
}

// IsUnnamed reports whether this is stream 0.
func (s *Stream) IsUnnamed() bool {
	return s.ID == UnnamedStreamID
}

// Empty reports whether the stream currently has no backing blob.
func (s *Stream) Empty() bool {
	return s.Blob == nil
}

// Size returns the stream's current length: the staging file's size if
// staged, or the blob's recorded resource size otherwise (spec.md
// §4.5, getattr).
func (s *Stream) Size() int64 {
	if s.Blob == nil {
		return 0
	}
	return s.Blob.Size
}
