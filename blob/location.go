// Package blob implements the content-addressed blob store: the table
// mapping a 20-byte SHA-1 digest to a blob descriptor, and the tagged
// union of places a blob's bytes may currently live.
package blob

// Location is the tagged union described in SPEC_FULL.md §9 ("Resource
// location variant"). Exactly one of the embedded payloads is valid,
// selected by Kind.
type Kind int

const (
	// InArchive means the blob's bytes live in the mounted archive file,
	// addressed by an opaque offset/size pair the archive package
	// understands.
	InArchive Kind = iota
	// InStagingFile means the blob has been materialized into a regular
	// file in the mount's scratch directory.
	InStagingFile
	// InAttachedBuffer means the blob's bytes are held directly in
	// memory (symlink targets, small synthesized xattr values).
	InAttachedBuffer
	// InFileOnDisk is the terminal state a staged blob reaches once the
	// Commit Pipeline has rehashed it under its real digest but before
	// the archive writer has folded it in. It behaves like InStagingFile
	// for I/O purposes but is never subject to further staging splits.
	InFileOnDisk
)

func (k Kind) String() string {
	switch k {
	case InArchive:
		return "in_archive"
	case InStagingFile:
		return "in_staging_file"
	case InAttachedBuffer:
		return "in_attached_buffer"
	case InFileOnDisk:
		return "in_file_on_disk"
	default:
		return "unknown"
	}
}

// ArchiveRef locates a blob's bytes within the opaque archive file.
type ArchiveRef struct {
	Offset int64
	Size   int64
	// Flags carries archive-specific hints (e.g. "compressed") that the
	// archive package needs but the core treats as opaque.
	Flags uint32
}

// Location is the mutable "where are the bytes" field of a Descriptor.
type Location struct {
	Kind Kind

	// Valid when Kind == InArchive.
	Archive ArchiveRef

	// Valid when Kind == InStagingFile or InFileOnDisk: path to the
	// scratch file.
	StagingPath string

	// Valid when Kind == InAttachedBuffer.
	Buffer []byte
}
