// Package archive defines the seam between the mount subsystem and the
// archive library that actually decodes/encodes a WIM file (LZX/XPRESS
// compression, SHA-1, chunk tables, XML metadata). That decoding is out
// of scope for this module (spec.md §1); the core only ever calls
// through this interface.
package archive

import (
	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/inode"
)

// CommitFlags mirrors the UNMOUNT_REQUEST write-flags of spec.md §4.6.
type CommitFlags uint32

const (
	FlagCommit          CommitFlags = 1 << iota // included for symmetry; the pipeline only runs when this is set
	FlagCheckIntegrity
	FlagRebuild
	FlagRecompress
)

// Archive is the opaque collaborator named in spec.md §6.
type Archive interface {
	// LoadMetadata decodes the chosen image's directory tree and blob
	// table into an in-memory inode.Tree, ready to be mounted.
	LoadMetadata(imageIndex int) (*inode.Tree, error)

	// ReadBlob returns up to size bytes at offset from a blob whose
	// location is blob.InArchive.
	ReadBlob(ref blob.ArchiveRef, offset, size int64) ([]byte, error)

	// Commit rewrites a new version of the archive reflecting tree,
	// honoring flags, and atomically replaces the on-disk file (rename
	// granularity only, per spec.md §1 non-goals).
	Commit(tree *inode.Tree, flags CommitFlags) error

	// VerifySplitSet checks that every part of a split archive is
	// present and consistent before mounting or committing.
	VerifySplitSet(parts []string) error
}
