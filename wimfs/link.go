package wimfs

import (
	"context"
	"crypto/sha1"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/inode"
	"github.com/rzr/wimlib/werrors"
)

// internBuffer content-addresses an in-memory value: if a blob with its
// SHA-1 digest already exists, its refcount is bumped and it is reused;
// otherwise a fresh attached-buffer descriptor is inserted. Used by both
// symlink targets and setxattr values (spec.md §4.5).
func internBuffer(store *blob.Store, value []byte) *blob.Descriptor {
	digest := blob.Digest(sha1.Sum(value))
	if existing := store.Lookup(digest); existing != nil {
		existing.RefCount++
		return existing
	}
	b := &blob.Descriptor{
		Digest:   digest,
		Location: blob.Location{Kind: blob.InAttachedBuffer, Buffer: value},
		RefCount: 1,
		Size:     int64(len(value)),
	}
	// A collision between a freshly-hashed real digest and one already
	// present can only mean the lookup above raced with itself, which
	// cannot happen under the single-threaded RW host contract; ignore
	// the error path's relevance for a multi-threaded read-only mount
	// since that path never inserts.
	_ = store.Insert(b)
	return b
}

// CreateSymlink implements spec.md §4.5 symlink: the link target is
// stored as the unnamed stream's blob, attached-buffer backed.
func (fs *FileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	if !fs.writable {
		return werrors.EPERM
	}
	parent, ok := fs.tree.DentryOf(inode.ID(op.Parent))
	if !ok {
		return werrors.ENOENT
	}

	_, in, err := fs.tree.CreateChild(parent, op.Name, inode.AttrReparsePoint|inode.AttrNormal)
	if err != nil {
		return err
	}

	in.Lock()
	defer in.Unlock()
	in.IncrementLookupCount()
	in.UnnamedStream().Blob = internBuffer(fs.store, []byte(op.Target))

	op.Entry.Child = fuseops.InodeID(in.ID())
	op.Entry.Attributes = fs.attributesFor(in)
	return nil
}

// CreateLink implements spec.md §4.5 link: add a dentry aliasing an
// existing inode. Hard-linking a directory or a reparse point is
// rejected, enforced inside Tree.Link.
func (fs *FileSystem) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	if !fs.writable {
		return werrors.EPERM
	}
	parent, ok := fs.tree.DentryOf(inode.ID(op.Parent))
	if !ok {
		return werrors.ENOENT
	}
	target := fs.inode(op.Target)
	if target == nil {
		return werrors.ENOENT
	}

	if _, err := fs.tree.Link(target, parent, op.Name); err != nil {
		return err
	}

	target.Lock()
	defer target.Unlock()
	target.IncrementLookupCount()
	op.Entry.Child = op.Target
	op.Entry.Attributes = fs.attributesFor(target)
	return nil
}

// Unlink implements spec.md §4.5 unlink: for a plain name this removes
// the dentry and decrements every stream's blob refcount; an ADS-suffixed
// name instead only removes that one stream.
func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	if !fs.writable {
		return werrors.EPERM
	}
	parent, ok := fs.tree.DentryOf(inode.ID(op.Parent))
	if !ok {
		return werrors.ENOENT
	}

	if fs.tree.StreamIface == inode.StreamInterfaceWindows {
		if name, streamName, isADS := splitADSName(op.Name); isADS {
			child, ok := parent.Children[name]
			if !ok {
				return werrors.ENOENT
			}
			in := fs.inode(fuseops.InodeID(child.Inode))
			in.Lock()
			defer in.Unlock()
			b := in.RemoveStream(streamName)
			if b == nil {
				return werrors.ENOATTR
			}
			releaseBlobRef(fs.store, b)
			return nil
		}
	}

	child, ok := parent.Children[op.Name]
	if !ok {
		return werrors.ENOENT
	}
	return fs.tree.UnlinkDentry(child)
}

func splitADSName(name string) (base, stream string, isADS bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return name[:i], name[i+1:], true
		}
	}
	return name, "", false
}

// releaseBlobRef decrements a blob's refcount and frees it from the
// store once dead (spec.md §3 invariant 2).
func releaseBlobRef(store *blob.Store, b *blob.Descriptor) {
	if b.RefCount > 0 {
		b.RefCount--
	}
	if b.Dead() {
		_ = store.Free(b)
	}
}

// Rename implements spec.md §4.2/§4.5 rename, delegating straight to
// the dentry-based Tree core since FUSE already supplies (parent, name)
// pairs on both sides.
func (fs *FileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	if !fs.writable {
		return werrors.EPERM
	}
	oldParent, ok := fs.tree.DentryOf(inode.ID(op.OldParent))
	if !ok {
		return werrors.ENOENT
	}
	newParent, ok := fs.tree.DentryOf(inode.ID(op.NewParent))
	if !ok {
		return werrors.ENOENT
	}
	return fs.tree.RenameChild(oldParent, newParent, op.OldName, op.NewName)
}
