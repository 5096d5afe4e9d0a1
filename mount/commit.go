package mount

import (
	"crypto/sha1"
	"os"
	"time"

	"github.com/rzr/wimlib/archive"
	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/inode"
	"github.com/rzr/wimlib/metrics"
	"github.com/rzr/wimlib/stage"
	"github.com/rzr/wimlib/werrors"
	"github.com/rzr/wimlib/wimfslog"
)

// runCommitPipeline implements spec.md §4.7's four-step sequence, run by
// the daemon side of the Unmount Protocol once a read-write mount with
// UnmountCommit set has drained FUSE: drain every staging handle, rehash
// every staged blob to its real content digest, delegate to the archive
// collaborator to write the new file, then delete the staging directory.
func runCommitPipeline(tree *inode.Tree, store *blob.Store, layer *stage.Layer, ar archive.Archive, flags UnmountFlags) error {
	start := time.Now()
	metrics.SetStagedBlobs(len(layer.StagedDigests()))
	wimfslog.Debugf("mount: commit pipeline starting (%d staged blobs)", len(layer.StagedDigests()))

	// Bracket the whole pipeline so nothing else mistakes the tree for
	// reclaimable while a commit is in flight (SPEC_FULL.md §3).
	tree.PinMetadata()
	defer tree.UnpinMetadata()

	drainStagedHandles(tree, store, layer)

	if err := rehashStagedBlobs(tree, store, layer); err != nil {
		metrics.ObserveCommit(time.Since(start))
		return err
	}

	if err := ar.Commit(tree, archive.CommitFlags(flags)); err != nil {
		metrics.ObserveCommit(time.Since(start))
		return werrors.New(werrors.FuseErr, err)
	}

	if err := layer.Remove(); err != nil {
		metrics.ObserveCommit(time.Since(start))
		return werrors.New(werrors.InvalidParam, err)
	}

	metrics.SetStagedBlobs(0)
	metrics.ObserveCommit(time.Since(start))
	wimfslog.Debugf("mount: commit pipeline finished")
	return nil
}

// drainStagedHandles implements step 1: every handle still pointing at a
// staged blob's scratch file is closed. The handle itself, and the
// stream's Blob pointer, survive; only the OS-level fd is released, the
// same "rebind in place" idiom the Staging Layer's own Stage uses
// (stage/staging.go).
func drainStagedHandles(tree *inode.Tree, store *blob.Store, layer *stage.Layer) {
	for _, d := range layer.StagedDigests() {
		b := store.Lookup(d)
		if b == nil || !b.HasOwner {
			continue
		}
		in := tree.Inode(inode.ID(b.OwnerInode))
		if in == nil {
			continue
		}
		in.Lock()
		for _, h := range in.Handles() {
			if h.Blob != b || h.StagingFile == nil {
				continue
			}
			h.StagingFile.Close()
			h.StagingFile = nil
		}
		in.Unlock()
	}
}

// rehashStagedBlobs implements step 2: every scratch file gets its real
// SHA-1 digest. An empty scratch file discards the stream entirely; a
// digest collision with existing archive content merges into that
// descriptor instead of keeping a duplicate; otherwise the descriptor is
// re-keyed into the store under its real digest with Location.Kind
// switched from InStagingFile to InFileOnDisk (spec.md §4.7 step 2, §9
// synthetic-digest note).
func rehashStagedBlobs(tree *inode.Tree, store *blob.Store, layer *stage.Layer) error {
	for _, d := range layer.StagedDigests() {
		b := store.Lookup(d)
		if b == nil {
			continue
		}
		if err := rehashOne(tree, store, layer, b); err != nil {
			return err
		}
	}
	return nil
}

func rehashOne(tree *inode.Tree, store *blob.Store, layer *stage.Layer, b *blob.Descriptor) error {
	data, err := os.ReadFile(b.Location.StagingPath)
	if err != nil {
		return werrors.New(werrors.InvalidParam, err)
	}

	var owner *inode.Inode
	if b.HasOwner {
		owner = tree.Inode(inode.ID(b.OwnerInode))
	}

	if len(data) == 0 {
		store.Unlink(b)
		layer.Unstage(b.Digest)
		detachStream(owner, b, nil)
		return nil
	}

	realDigest := blob.Digest(sha1.Sum(data))
	store.Unlink(b)
	layer.Unstage(b.Digest)

	if existing := store.Lookup(realDigest); existing != nil && existing != b {
		existing.RefCount += b.RefCount
		detachStream(owner, b, existing)
		return nil
	}

	b.Digest = realDigest
	b.Location.Kind = blob.InFileOnDisk
	b.Size = int64(len(data))
	b.OpenFDCount = 0
	return store.Insert(b)
}

// detachStream retargets every stream of owner currently pointing at old
// to point at replacement (nil to discard), used by rehashOne's empty and
// merge cases.
func detachStream(owner *inode.Inode, old, replacement *blob.Descriptor) {
	if owner == nil {
		return
	}
	owner.Lock()
	defer owner.Unlock()
	for _, s := range owner.Streams() {
		if s.Blob == old {
			s.Blob = replacement
		}
	}
}
