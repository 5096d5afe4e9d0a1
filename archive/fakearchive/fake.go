// Package fakearchive is the deterministic in-memory test double for
// archive.Archive, standing in for the real LZX/XPRESS-decoding archive
// library the way fsouza/fake-gcs-server stands in for real GCS in the
// gcsfuse test suite.
package fakearchive

import (
	"fmt"
	"sync"

	"github.com/rzr/wimlib/archive"
	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/inode"
)

// Fake is an in-memory archive.Archive. Content for "in-archive" blobs
// is just held in a map keyed by the ArchiveRef.Offset, used as an
// opaque handle by the fake.
type Fake struct {
	mu sync.Mutex

	images map[int]func() *inode.Tree // factory, so each LoadMetadata gets a fresh tree
	blobs  map[int64][]byte

	nextOffset int64

	Commits      []CommitRecord
	SplitOK      bool
	SplitParts   []string
}

// CommitRecord captures one call to Commit for test assertions.
type CommitRecord struct {
	Tree  *inode.Tree
	Flags archive.CommitFlags
}

func New() *Fake {
	return &Fake{
		images: make(map[int]func() *inode.Tree),
		blobs:  make(map[int64][]byte),
		SplitOK: true,
	}
}

// PutBlob registers content and returns an ArchiveRef addressing it.
func (f *Fake) PutBlob(content []byte) blob.ArchiveRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	off := f.nextOffset
	f.nextOffset += int64(len(content)) + 1
	f.blobs[off] = content
	return blob.ArchiveRef{Offset: off, Size: int64(len(content))}
}

// SetImage registers a factory that builds the tree for imageIndex.
// Using a factory (rather than a single shared *inode.Tree) lets tests
// mount the same fake archive more than once and get independent state,
// matching how a real remount re-parses metadata from scratch.
func (f *Fake) SetImage(imageIndex int, build func() *inode.Tree) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[imageIndex] = build
}

func (f *Fake) LoadMetadata(imageIndex int) (*inode.Tree, error) {
	f.mu.Lock()
	build, ok := f.images[imageIndex]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakearchive: no image %d", imageIndex)
	}
	return build(), nil
}

func (f *Fake) ReadBlob(ref blob.ArchiveRef, offset, size int64) ([]byte, error) {
	f.mu.Lock()
	content, ok := f.blobs[ref.Offset]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakearchive: no blob at offset %d", ref.Offset)
	}
	if offset > int64(len(content)) {
		return nil, fmt.Errorf("fakearchive: offset %d past end (len %d)", offset, len(content))
	}
	end := offset + size
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return content[offset:end], nil
}

func (f *Fake) Commit(tree *inode.Tree, flags archive.CommitFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commits = append(f.Commits, CommitRecord{Tree: tree, Flags: flags})
	return nil
}

func (f *Fake) VerifySplitSet(parts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.SplitOK {
		return fmt.Errorf("fakearchive: split set invalid")
	}
	return nil
}

var _ archive.Archive = (*Fake)(nil)
