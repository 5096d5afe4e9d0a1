package wimfs

import (
	"context"
	"os"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/inode"
	"github.com/rzr/wimlib/werrors"
)

// archiveRead adapts archive.Archive.ReadBlob to the function shape
// blob.Descriptor.ReadAt expects.
func (fs *FileSystem) archiveRead(ref blob.ArchiveRef, offset, size int64) ([]byte, error) {
	return fs.arc.ReadBlob(ref, offset, size)
}

// CreateFile implements spec.md §4.5 mknod+open combined, the shape
// FUSE's create callback takes: make a new file dentry and hand back an
// already-open handle on its empty unnamed stream.
func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	if !fs.writable {
		return werrors.EPERM
	}
	parent, ok := fs.tree.DentryOf(inode.ID(op.Parent))
	if !ok {
		return werrors.ENOENT
	}

	_, in, err := fs.tree.CreateChild(parent, op.Name, inode.AttrNormal)
	if err != nil {
		return err
	}

	in.Lock()
	defer in.Unlock()
	in.IncrementLookupCount()

	s := in.UnnamedStream()
	nb, err := fs.staging.Stage(in, s, 0)
	if err != nil {
		return err
	}

	h, err := in.OpenHandle(inode.UnnamedStreamID, nb, true)
	if err != nil {
		return err
	}
	f, ferr := os.OpenFile(nb.Location.StagingPath, os.O_RDWR, 0600)
	if ferr != nil {
		in.ReleaseHandle(h)
		return ferr
	}
	h.StagingFile = f

	fs.mu.Lock()
	handleID := fs.nextHandleID
	fs.nextHandleID++
	fs.handles[handleID] = h
	fs.mu.Unlock()

	op.Handle = handleID
	op.Entry.Child = fuseops.InodeID(in.ID())
	op.Entry.Attributes = fs.attributesFor(in)
	return nil
}

// OpenFile implements spec.md §4.5 open for an existing file: if the
// mount is writable and the unnamed stream is not yet staged, it is
// staged immediately so every subsequent read/write/sync on this handle
// operates on a scratch fd.
func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	in := fs.inode(op.Inode)
	if in == nil {
		return werrors.ENOENT
	}
	in.Lock()
	defer in.Unlock()

	s := in.UnnamedStream()
	if fs.writable && (s.Blob == nil || (s.Blob.Location.Kind != blob.InStagingFile && s.Blob.Location.Kind != blob.InFileOnDisk)) {
		if _, err := fs.staging.Stage(in, s, 0); err != nil {
			return err
		}
	}

	h, err := in.OpenHandle(inode.UnnamedStreamID, s.Blob, fs.writable)
	if err != nil {
		return err
	}
	if h.Blob != nil && (h.Blob.Location.Kind == blob.InStagingFile || h.Blob.Location.Kind == blob.InFileOnDisk) {
		f, ferr := os.OpenFile(h.Blob.Location.StagingPath, os.O_RDWR, 0600)
		if ferr != nil {
			in.ReleaseHandle(h)
			return ferr
		}
		h.StagingFile = f
	}

	fs.mu.Lock()
	handleID := fs.nextHandleID
	fs.nextHandleID++
	fs.handles[handleID] = h
	fs.mu.Unlock()

	op.Handle = handleID
	return nil
}

func (fs *FileSystem) fileHandle(id fuseops.HandleID) (*inode.Handle, error) {
	fs.mu.Lock()
	h, ok := fs.handles[id].(*inode.Handle)
	fs.mu.Unlock()
	if !ok {
		return nil, werrors.EBADF
	}
	return h, nil
}

// ReadFile implements spec.md §4.5 read: pread the scratch fd for a
// staged handle, or decode the archived blob at (offset, size)
// otherwise, clipping size to what remains in the blob.
func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	h, err := fs.fileHandle(op.Handle)
	if err != nil {
		return err
	}

	in := fs.inode(op.Inode)
	in.Lock()
	defer in.Unlock()

	if h.Blob == nil {
		op.BytesRead = 0
		return nil
	}
	if op.Offset > h.Blob.Size {
		return werrors.EOVERFLOW
	}

	if h.StagingFile != nil {
		n, rerr := h.StagingFile.ReadAt(op.Dst, op.Offset)
		if rerr != nil && n == 0 {
			return rerr
		}
		op.BytesRead = n
		return nil
	}

	n, rerr := h.Blob.ReadAt(op.Dst, op.Offset, fs.archiveRead)
	if rerr != nil {
		return rerr
	}
	op.BytesRead = n
	return nil
}

func (fs *FileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	in := fs.inode(op.Inode)
	if in == nil {
		return werrors.ENOENT
	}
	in.Lock()
	defer in.Unlock()
	if !in.IsSymlink() {
		return werrors.EINVAL
	}

	s := in.UnnamedStream()
	if s.Blob == nil {
		op.Target = ""
		return nil
	}
	buf := make([]byte, s.Blob.Size)
	n, err := s.Blob.ReadAt(buf, 0, fs.archiveRead)
	if err != nil {
		return err
	}
	op.Target = string(buf[:n])
	return nil
}

// WriteFile implements spec.md §4.5 write: the handle must be over a
// staged blob (true for every writable-mount open). On success the
// inode's write and access times are bumped to the current tick.
func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	if !fs.writable {
		return werrors.EPERM
	}
	h, err := fs.fileHandle(op.Handle)
	if err != nil {
		return err
	}
	if h.StagingFile == nil {
		return werrors.EIO
	}

	in := fs.inode(op.Inode)
	in.Lock()
	defer in.Unlock()

	n, werr := h.StagingFile.WriteAt(op.Data, op.Offset)
	if werr != nil {
		return werr
	}
	if end := op.Offset + int64(n); end > h.Blob.Size {
		h.Blob.Size = end
	}
	now := inode.Now()
	in.Times.LastWrite = now
	in.Times.LastAccess = now
	return nil
}

// SyncFile and FlushFile both just fsync the scratch fd; the durable
// archive write only happens in the Commit Pipeline at unmount (spec.md
// §4.7), so neither op has anything else to do.
func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return fs.syncHandlesOf(op.Inode)
}

func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	h, err := fs.fileHandle(op.Handle)
	if err != nil {
		return err
	}
	if h.StagingFile == nil {
		return nil
	}
	return h.StagingFile.Sync()
}

func (fs *FileSystem) syncHandlesOf(inodeID fuseops.InodeID) error {
	in := fs.inode(inodeID)
	if in == nil {
		return werrors.ENOENT
	}
	in.Lock()
	defer in.Unlock()
	for _, h := range in.Handles() {
		if h.StagingFile != nil {
			if err := h.StagingFile.Sync(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	h, ok := fs.handles[op.Handle].(*inode.Handle)
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()
	if !ok {
		return nil
	}

	in := fs.inode(fuseops.InodeID(h.Inode))
	if in == nil {
		return nil
	}
	in.Lock()
	defer in.Unlock()
	if h.StagingFile != nil {
		h.StagingFile.Close()
	}
	in.ReleaseHandle(h)
	return nil
}
