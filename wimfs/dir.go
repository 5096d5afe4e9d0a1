package wimfs

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/rzr/wimlib/inode"
	"github.com/rzr/wimlib/werrors"
)

// dirHandle buffers one OpenDir's listing, snapshotted at open time: WIM
// directories are small enough in practice that there is no need for the
// continuation-token dance gcsfuse's GCS-backed dirHandle does.
type dirHandle struct {
	mu      sync.Mutex
	entries []fuseutil.Dirent
}

func direntType(in *inode.Inode) fuseutil.DirentType {
	switch {
	case in.IsDir():
		return fuseutil.DT_Directory
	case in.IsSymlink():
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

func newDirHandle(fs *FileSystem, d *inode.Dentry) *dirHandle {
	names := make([]string, 0, len(d.Children))
	for name := range d.Children {
		names = append(names, name)
	}
	sort.Strings(names)

	dh := &dirHandle{}
	offset := fuseops.DirOffset(1)
	for _, name := range names {
		child := d.Children[name]
		in := fs.inode(fuseops.InodeID(child.Inode))
		in.Lock()
		typ := direntType(in)
		in.Unlock()
		dh.entries = append(dh.entries, fuseutil.Dirent{
			Offset: offset,
			Inode:  fuseops.InodeID(child.Inode),
			Name:   name,
			Type:   typ,
		})
		offset++
	}
	return dh
}

// MkDir implements spec.md §4.5 mkdir: create a child dentry with the
// DIRECTORY attribute.
func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	if !fs.writable {
		return werrors.EPERM
	}
	parent, ok := fs.tree.DentryOf(inode.ID(op.Parent))
	if !ok {
		return werrors.ENOENT
	}

	_, in, err := fs.tree.CreateChild(parent, op.Name, inode.AttrDirectory)
	if err != nil {
		return err
	}

	in.Lock()
	in.IncrementLookupCount()
	op.Entry.Child = fuseops.InodeID(in.ID())
	op.Entry.Attributes = fs.attributesFor(in)
	in.Unlock()
	return nil
}

// Mknod implements spec.md §4.5 mknod: ordinarily creates a NORMAL file,
// but when the Windows stream interface is active and the name carries
// a ":stream" suffix, instead creates an alternate data stream on the
// existing file named by the part before the colon.
func (fs *FileSystem) Mknod(ctx context.Context, op *fuseops.MkNodeOp) error {
	if !fs.writable {
		return werrors.EPERM
	}
	parent, ok := fs.tree.DentryOf(inode.ID(op.Parent))
	if !ok {
		return werrors.ENOENT
	}

	if fs.tree.StreamIface == inode.StreamInterfaceWindows {
		if i := strings.IndexByte(op.Name, ':'); i >= 0 {
			base, streamName := op.Name[:i], op.Name[i+1:]
			target, ok := parent.Children[base]
			if !ok {
				return werrors.ENOENT
			}
			in := fs.inode(fuseops.InodeID(target.Inode))
			in.Lock()
			defer in.Unlock()
			if in.IsDir() || in.IsSymlink() {
				return werrors.EPERM
			}
			if in.CreateStream(streamName) == nil {
				return werrors.EEXIST
			}
			op.Entry.Child = fuseops.InodeID(target.Inode)
			op.Entry.Attributes = fs.attributesFor(in)
			return nil
		}
	}

	_, in, err := fs.tree.CreateChild(parent, op.Name, inode.AttrNormal)
	if err != nil {
		return err
	}
	in.Lock()
	in.IncrementLookupCount()
	op.Entry.Child = fuseops.InodeID(in.ID())
	op.Entry.Attributes = fs.attributesFor(in)
	in.Unlock()
	return nil
}

// RmDir implements spec.md §4.5 rmdir: fails with ENOTEMPTY unless the
// directory has no children.
func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	if !fs.writable {
		return werrors.EPERM
	}
	parent, ok := fs.tree.DentryOf(inode.ID(op.Parent))
	if !ok {
		return werrors.ENOENT
	}
	child, ok := parent.Children[op.Name]
	if !ok {
		return werrors.ENOENT
	}

	in := fs.inode(fuseops.InodeID(child.Inode))
	in.Lock()
	isDir := in.IsDir()
	in.Unlock()
	if !isDir {
		return werrors.ENOTDIR
	}

	return fs.tree.UnlinkDentry(child)
}

// OpenDir allocates a directory handle over a snapshot of the current
// child list, per spec.md §4.5 open.
func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	d, ok := fs.tree.DentryOf(inode.ID(op.Inode))
	if !ok {
		return werrors.ENOENT
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	handleID := fs.nextHandleID
	fs.nextHandleID++
	fs.handles[handleID] = newDirHandle(fs, d)
	op.Handle = handleID
	return nil
}

// ReadDir serves one page of the handle's buffered listing.
func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, ok := fs.handles[op.Handle].(*dirHandle)
	fs.mu.Unlock()
	if !ok {
		return werrors.EBADF
	}

	dh.mu.Lock()
	defer dh.mu.Unlock()

	index := int(op.Offset)
	if index < 0 || index > len(dh.entries) {
		return werrors.EINVAL
	}

	n := 0
	for _, e := range dh.entries[index:] {
		written := fuseutil.WriteDirent(op.Dst[n:], e)
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.handles, op.Handle)
	return nil
}
