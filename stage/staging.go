// Package stage implements the Staging Layer: the per-mount scratch
// directory holding materialized writable copies of blobs, and the
// split/merge bookkeeping that keeps deduplication correct while a
// stream is being written (spec.md §4.3).
package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/semaphore"

	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/inode"
	"github.com/rzr/wimlib/wimfslog"
)

// maxConcurrentExtractions bounds how many Stage calls may read the
// archive collaborator's ReadBlob at once. The archive file itself is
// ordinary single-spindle-unfriendly I/O behind one *os.File, so letting
// an unbounded number of concurrent FUSE writes all extract at once just
// thrashes the same descriptor; gcsfuse bounds concurrent GCS reads the
// same way (golang.org/x/sync/semaphore, examples/read_pattern_example.go).
const maxConcurrentExtractions = 32

// ArchiveReader extracts up to size bytes at offset from a blob still
// backed by the archive; it is the same function the blob package dials
// through for ordinary reads (archive.Archive.ReadBlob, wired in by the
// mount package).
type ArchiveReader func(blob.ArchiveRef, int64, int64) ([]byte, error)

// Layer owns one mount's scratch directory and the set of blobs it has
// materialized.
type Layer struct {
	Dir   string
	Store *blob.Store
	Read  ArchiveReader

	staged map[blob.Digest]bool
	sem    *semaphore.Weighted
}

// NewLayer creates the scratch directory (0700) under base, named per
// spec.md §6: "<prefix><archive_basename>.staging<10-random-alnum>/".
func NewLayer(base, archiveBasename string, store *blob.Store, read ArchiveReader) (*Layer, error) {
	var dir string
	for attempt := 0; attempt < 16; attempt++ {
		candidate := filepath.Join(base, archiveBasename+".staging"+randomAlnum(10))
		if err := os.Mkdir(candidate, 0700); err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, err
		}
		dir = candidate
		break
	}
	if dir == "" {
		return nil, fmt.Errorf("stage: could not create scratch directory under %s", base)
	}
	return &Layer{
		Dir:    dir,
		Store:  store,
		Read:   read,
		staged: make(map[blob.Digest]bool),
		sem:    semaphore.NewWeighted(maxConcurrentExtractions),
	}, nil
}

// newScratchFile creates a fresh scratch file with a random-suffix name,
// retrying on collision (spec.md §4.3 step 1).
func (l *Layer) newScratchFile() (*os.File, string, error) {
	for attempt := 0; attempt < 32; attempt++ {
		path := filepath.Join(l.Dir, randomAlnum(20))
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, "", err
		}
		return f, path, nil
	}
	return nil, "", fmt.Errorf("stage: could not allocate a scratch file name")
}

// undoStep is one entry of the scoped-transaction rollback stack used by
// Stage (spec.md §9: "scoped transactions ... undo action registered in
// a local stack, drained on success or executed in reverse on failure").
type undoStep func()

// Stage materializes in's stream as a writable scratch file of at least
// minSize bytes (zero-filled past the source blob's length), per spec.md
// §4.3. It is a no-op, returning the stream's existing blob, if the
// stream is already staged.
//
// LOCKS_REQUIRED(in.mu)
func (l *Layer) Stage(in *inode.Inode, s *inode.Stream, minSize int64) (_ *blob.Descriptor, err error) {
	old := s.Blob
	if old != nil && (old.Location.Kind == blob.InStagingFile || old.Location.Kind == blob.InFileOnDisk) {
		return old, nil
	}

	var undo []undoStep
	defer func() {
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()

	f, path, err := l.newScratchFile()
	if err != nil {
		return nil, err
	}
	undo = append(undo, func() {
		f.Close()
		os.Remove(path)
	})

	srcLen := int64(0)
	if old != nil {
		srcLen = old.Size
	}
	if old != nil && srcLen > 0 {
		if serr := l.sem.Acquire(context.Background(), 1); serr != nil {
			err = fmt.Errorf("stage: acquire extraction slot: %w", serr)
			return nil, err
		}
		data := make([]byte, srcLen)
		n, rerr := old.ReadAt(data, 0, l.Read)
		l.sem.Release(1)
		if rerr != nil {
			err = fmt.Errorf("stage: extract source blob: %w", rerr)
			return nil, err
		}
		if _, werr := f.WriteAt(data[:n], 0); werr != nil {
			err = fmt.Errorf("stage: write scratch file: %w", werr)
			return nil, err
		}
	}
	if minSize > srcLen {
		if terr := f.Truncate(minSize); terr != nil {
			err = fmt.Errorf("stage: zero-fill truncate: %w", terr)
			return nil, err
		}
	}
	if cerr := f.Close(); cerr != nil {
		err = fmt.Errorf("stage: close scratch file: %w", cerr)
		return nil, err
	}

	size := minSize
	if srcLen > size {
		size = srcLen
	}

	nb := &blob.Descriptor{
		Digest:     randomDigest(),
		Location:   blob.Location{Kind: blob.InStagingFile, StagingPath: path},
		RefCount:   in.LinkCount,
		OwnerInode: uint64(in.ID()),
		HasOwner:   true,
		Size:       size,
	}
	nb.Digest = blob.Digest(nb.Digest).MarkSynthetic()
	// Re-roll on the vanishingly unlikely chance the synthetic digest
	// collides with something already in the store (spec.md §9).
	for attempt := 0; attempt < 8 && l.Store.Lookup(nb.Digest) != nil; attempt++ {
		nb.Digest = blob.Digest(randomDigest()).MarkSynthetic()
	}

	shared := old != nil && old.RefCount != in.LinkCount
	if shared {
		// Split: the old blob keeps serving the other, non-staging
		// inodes; only this inode's share of refcount moves to nb.
		old.RefCount -= in.LinkCount
	} else if old != nil {
		l.Store.Unlink(old)
	}

	if err = l.Store.Insert(nb); err != nil {
		return nil, err
	}
	undo = append(undo, func() { l.Store.Unlink(nb) })

	rebound := 0
	for _, h := range in.Handles() {
		if h.StreamID != s.ID {
			continue
		}
		if shared && h.Blob != old {
			continue
		}
		prevBlob, prevFile := h.Blob, h.StagingFile
		h.Blob = nb
		fd, ferr := os.OpenFile(path, os.O_RDWR, 0600)
		if ferr != nil {
			err = fmt.Errorf("stage: open scratch fd for handle: %w", ferr)
			h.Blob = prevBlob
			return nil, err
		}
		h.StagingFile = fd
		nb.OpenFDCount++
		rebound++
		undo = append(undo, func() {
			h.Blob = prevBlob
			fd.Close()
			h.StagingFile = prevFile
		})
	}

	s.Blob = nb
	l.staged[nb.Digest] = true
	wimfslog.Debugf("stage: staged inode %d stream %d at %s (shared=%v, handles rebound=%d)", in.ID(), s.ID, path, shared, rebound)
	return nb, nil
}

// Unstage removes a blob's bookkeeping entry from the layer's staged
// set without touching the file; used by the Commit Pipeline once a
// blob has been rehashed or discarded.
func (l *Layer) Unstage(digest blob.Digest) {
	delete(l.staged, digest)
}

// StagedDigests returns every digest currently tracked as staged.
func (l *Layer) StagedDigests() []blob.Digest {
	out := make([]blob.Digest, 0, len(l.staged))
	for d := range l.staged {
		out = append(out, d)
	}
	return out
}

// Remove recursively deletes the scratch directory (spec.md §4.7 step
// 4, "delete_staging_dir").
func (l *Layer) Remove() error {
	return os.RemoveAll(l.Dir)
}
