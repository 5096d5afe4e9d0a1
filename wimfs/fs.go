// Package wimfs implements the fuseops.FileSystem callbacks that a FUSE
// host dispatches to while a WIM image is mounted: the lookup/attribute/
// handle operations of spec.md §4.5, wired onto the Tree, blob.Store,
// and Staging Layer built by the other packages. It mirrors the
// callback style of gcsfuse's fs.fileSystem: one struct embedding
// fuseutil.NotImplementedFileSystem, inode state guarded per-inode, and
// a handle table guarded by fs.mu.
package wimfs

import (
	"context"
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/rzr/wimlib/archive"
	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/inode"
	"github.com/rzr/wimlib/stage"
	"github.com/rzr/wimlib/werrors"
)

// Config bundles the parameters NewFileSystem needs, mirroring the shape
// of gcsfuse's ServerConfig.
type Config struct {
	Tree  *inode.Tree
	Store *blob.Store
	Stage *stage.Layer

	// Archive backs blob reads for streams still in_archive and is
	// invoked by Commit (owned by the mount package, not here).
	Archive archive.Archive

	// Writable selects read-write semantics (staging on write, mutating
	// operations permitted) versus a read-only mount that rejects any
	// operation that would mutate the tree.
	Writable bool

	Uid, Gid uint32
}

// FileSystem implements fuseops.FileSystem (via fuseutil.FileSystemServer)
// for one mounted image.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	tree    *inode.Tree
	store   *blob.Store
	staging *stage.Layer
	arc     archive.Archive

	writable bool
	uid, gid uint32

	// mu guards the handle table only; inode and dentry mutation rely on
	// the FUSE host's single-threaded contract for read-write mounts
	// (spec.md §5), exactly as the per-inode lock alone is relied on
	// for reads.
	mu           sync.Mutex
	handles      map[fuseops.HandleID]interface{}
	nextHandleID fuseops.HandleID
}

// NewFileSystem builds a FileSystem ready to be wrapped by
// fuseutil.NewFileSystemServer.
func NewFileSystem(cfg *Config) *FileSystem {
	return &FileSystem{
		tree:         cfg.Tree,
		store:        cfg.Store,
		staging:      cfg.Stage,
		arc:          cfg.Archive,
		writable:     cfg.Writable,
		uid:          cfg.Uid,
		gid:          cfg.Gid,
		handles:      make(map[fuseops.HandleID]interface{}),
		nextHandleID: 1,
	}
}

func (fs *FileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

// attrModeAndSize synthesizes the POSIX mode and reports the unnamed
// stream's size for getattr, per spec.md §4.5: symlink -> LNK|0777, directory -> DIR|0755,
// else REG|0755.
func attrModeAndSize(in *inode.Inode) (os.FileMode, uint64) {
	var mode os.FileMode
	switch {
	case in.IsSymlink():
		mode = os.ModeSymlink | 0777
	case in.IsDir():
		mode = os.ModeDir | 0755
	default:
		mode = 0755
	}
	return mode, uint64(in.UnnamedStream().Size())
}

// attributesFor converts an inode's state into fuseops.InodeAttributes,
// the getattr contract of spec.md §4.5. LOCKS_REQUIRED(in).
func (fs *FileSystem) attributesFor(in *inode.Inode) fuseops.InodeAttributes {
	mode, size := attrModeAndSize(in)
	return fuseops.InodeAttributes{
		Size:   size,
		Nlink:  in.LinkCount,
		Mode:   mode,
		Atime:  in.Times.LastAccess.ToUnix(),
		Mtime:  in.Times.LastWrite.ToUnix(),
		Ctime:  in.Times.LastWrite.ToUnix(),
		Crtime: in.Times.Creation.ToUnix(),
		Uid:    fs.uid,
		Gid:    fs.gid,
	}
}

func (fs *FileSystem) inode(id fuseops.InodeID) *inode.Inode {
	return fs.tree.Inode(inode.ID(id))
}

// LookUpInode resolves (parent, name) to a child inode, per spec.md
// §4.5 getattr/lookup. The name is matched as a plain child name: a
// symlink child is returned as itself (not followed) and an ADS suffix
// is not parsed, matching the FUSE contract for this op.
func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parentDentry, ok := fs.tree.DentryOf(inode.ID(op.Parent))
	if !ok {
		return werrors.ENOENT
	}
	child, ok := parentDentry.Children[op.Name]
	if !ok {
		return werrors.ENOENT
	}

	in := fs.inode(child.Inode)
	in.Lock()
	defer in.Unlock()
	in.IncrementLookupCount()

	op.Entry.Child = fuseops.InodeID(child.Inode)
	op.Entry.Attributes = fs.attributesFor(in)
	return nil
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	in := fs.inode(op.Inode)
	if in == nil {
		return werrors.ENOENT
	}
	in.Lock()
	defer in.Unlock()
	op.Attributes = fs.attributesFor(in)
	return nil
}

// SetInodeAttributes implements truncate/utimens (spec.md §4.5). Size
// changes on the unnamed stream route through the Staging Layer exactly
// like a write would; timestamp changes honor UTIME_OMIT (nil pointer)
// and leave creation time untouched.
func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	in := fs.inode(op.Inode)
	if in == nil {
		return werrors.ENOENT
	}
	in.Lock()
	defer in.Unlock()

	if op.Size != nil {
		if !fs.writable {
			return werrors.EPERM
		}
		if err := fs.truncateLocked(in, in.UnnamedStream(), int64(*op.Size)); err != nil {
			return err
		}
	}
	if op.Atime != nil {
		in.Times.LastAccess = inode.FromUnix(*op.Atime)
	}
	if op.Mtime != nil {
		in.Times.LastWrite = inode.FromUnix(*op.Mtime)
	}

	op.Attributes = fs.attributesFor(in)
	return nil
}

// truncateLocked implements spec.md §4.5 truncate/ftruncate: staging the
// stream to at most size bytes if it is still archived, or truncating
// the scratch file in place if already staged. size==0 on an empty
// stream is a no-op.
// LOCKS_REQUIRED(in)
func (fs *FileSystem) truncateLocked(in *inode.Inode, s *inode.Stream, size int64) error {
	if s.Empty() && size == 0 {
		return nil
	}

	if s.Blob != nil && s.Blob.Location.Kind != blob.InStagingFile && s.Blob.Location.Kind != blob.InFileOnDisk && size == s.Blob.Size {
		// Truncating an archive-backed stream to its current size is a
		// no-op (spec.md §8): nothing changed, so don't stage a scratch
		// copy just to immediately discard it.
		return nil
	}

	if s.Blob == nil || (s.Blob.Location.Kind != blob.InStagingFile && s.Blob.Location.Kind != blob.InFileOnDisk) {
		nb, err := fs.staging.Stage(in, s, size)
		if err != nil {
			return err
		}
		if nb.Size > size {
			return truncateStagingFile(nb, size)
		}
		return nil
	}

	if err := truncateStagingFile(s.Blob, size); err != nil {
		return err
	}
	return nil
}

func truncateStagingFile(b *blob.Descriptor, size int64) error {
	f, err := os.OpenFile(b.Location.StagingPath, os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return err
	}
	b.Size = size
	return nil
}

// ForgetInode drops the kernel's lookup count by op.N, reclaiming the
// inode once it hits zero and the inode has no remaining links or
// handles (spec.md §3 invariant 5).
func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	in := fs.inode(op.Inode)
	if in == nil {
		return nil
	}
	in.Lock()
	in.DecrementLookupCount(op.N)
	in.Unlock()
	return nil
}
