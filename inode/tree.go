package inode

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/werrors"
)

// StreamInterface selects how alternate data streams are exposed,
// matching the three STREAM_INTERFACE_* mount flags in spec.md §6.
type StreamInterface int

const (
	StreamInterfaceXattr StreamInterface = iota // default
	StreamInterfaceNone
	StreamInterfaceWindows
)

// LookupFlags controls what spec.md §4.2's lookup accepts.
type LookupFlags uint32

const (
	AllowDirTarget LookupFlags = 1 << iota
	AllowADSSuffix
)

// Tree is the in-memory directory tree of dentries and inodes for one
// mounted image: the arena of stable ID -> *Inode plus the dentry tree
// rooted at Root. It owns inode-ID assignment; a blob.Store is supplied
// by the caller (one per mount) since blobs are shared across the whole
// archive, not scoped to a single image tree.
type Tree struct {
	mu sync.Mutex // guards the maps/next-ID counters; dentry/inode content has its own locking

	Root *Dentry

	Store *blob.Store

	StreamIface StreamInterface

	inodes  map[ID]*Inode
	nextID  ID
	pinCount int32

	// dirDentries indexes the one dentry every directory inode has (a
	// directory can never be hard-linked, spec.md §4.5 link), so the
	// FUSE binding layer can resolve a parent InodeID straight to a
	// *Dentry without re-walking the whole tree by path.
	dirDentries map[ID]*Dentry
}

// NewTree creates an empty tree with just a root directory inode.
func NewTree(store *blob.Store, iface StreamInterface) *Tree {
	t := &Tree{
		Store:       store,
		StreamIface: iface,
		inodes:      make(map[ID]*Inode),
		nextID:      RootID,
		dirDentries: make(map[ID]*Dentry),
	}
	root := t.mintInode(AttrDirectory, 1)
	t.Root = newDentry("", nil, root.ID())
	t.dirDentries[root.ID()] = t.Root
	return t
}

// mintInode allocates a fresh, never-reused inode ID and registers it.
// linkCount seeds Inode.LinkCount (mkdir/mknod start at 1; Link itself
// bumps it for each added hard link).
func (t *Tree) mintInode(attr WindowsAttr, linkCount uint32) *Inode {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.mu.Unlock()

	in := NewInode(id, attr, func() error {
		t.mu.Lock()
		delete(t.inodes, id)
		t.mu.Unlock()
		return nil
	})
	in.LinkCount = linkCount

	t.mu.Lock()
	t.inodes[id] = in
	t.mu.Unlock()
	return in
}

// Inode returns the inode for id, or nil.
func (t *Tree) Inode(id ID) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inodes[id]
}

// RegisterLoaded adds an inode that was constructed directly by the
// archive-loading path (spec.md §6, Archive.LoadMetadata) rather than
// minted fresh, keeping nextID past any ID the archive already used.
func (t *Tree) RegisterLoaded(in *Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inodes[in.ID()] = in
	if in.ID() >= t.nextID {
		t.nextID = in.ID() + 1
	}
}

// DentryOf returns the unique dentry for a directory inode id, letting
// the FUSE binding layer resolve a ParentInodeID directly without
// reconstructing a path string. Only directories qualify: they can
// never be hard-linked, so the dentry is unambiguous (spec.md §4.5).
func (t *Tree) DentryOf(id ID) (*Dentry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.dirDentries[id]
	return d, ok
}

// registerDirDentry and unregisterDirDentry keep dirDentries in sync
// whenever a directory dentry is created, loaded, or removed.
func (t *Tree) registerDirDentry(id ID, d *Dentry) {
	t.mu.Lock()
	t.dirDentries[id] = d
	t.mu.Unlock()
}

func (t *Tree) unregisterDirDentry(id ID) {
	t.mu.Lock()
	delete(t.dirDentries, id)
	t.mu.Unlock()
}

// PinMetadata/UnpinMetadata bracket a window during which the tree must
// not be considered garbage by any higher-level reference counting
// (SPEC_FULL.md §3, resolving spec.md §9's "XXX" note about
// image.modified). The core itself never inspects pinCount; it exists
// so a caller (the Commit Pipeline) has an explicit signal instead of a
// repurposed "modified" flag.
func (t *Tree) PinMetadata()   { t.mu.Lock(); t.pinCount++; t.mu.Unlock() }
func (t *Tree) UnpinMetadata() { t.mu.Lock(); t.pinCount--; t.mu.Unlock() }
func (t *Tree) Pinned() bool   { t.mu.Lock(); defer t.mu.Unlock(); return t.pinCount > 0 }

// splitADS splits "foo.txt:stream" into ("foo.txt", "stream") when the
// stream interface in effect recognizes ADS syntax (spec.md §4.2).
func (t *Tree) splitADS(basename string) (name, stream string) {
	if t.StreamIface != StreamInterfaceWindows {
		return basename, ""
	}
	if i := strings.IndexByte(basename, ':'); i >= 0 {
		return basename[:i], basename[i+1:]
	}
	return basename, ""
}

// Parent resolves every path component but the last, returning the
// parent dentry (spec.md §4.2: "parent(path) -> dentry?").
func (t *Tree) Parent(path string) (*Dentry, error) {
	dir, _ := splitPath(path)
	d, err := t.walk(dir)
	if err != nil {
		return nil, err
	}
	in := t.Inode(d.Inode)
	in.Lock()
	isDir := in.IsDir()
	in.Unlock()
	if !isDir {
		return nil, werrors.ENOTDIR
	}
	return d, nil
}

// Lookup resolves path (optionally with a trailing ADS suffix) to its
// dentry, stream blob (nil if empty or directory), and stream index,
// honoring flags per spec.md §4.2.
func (t *Tree) Lookup(path string, flags LookupFlags) (*Dentry, *blob.Descriptor, StreamID, error) {
	dir, base := splitPath(path)
	name, streamName := t.splitADS(base)

	parent := t.Root
	if dir != "" {
		var err error
		parent, err = t.walk(dir)
		if err != nil {
			return nil, nil, 0, err
		}
	}

	var d *Dentry
	if name == "" {
		d = parent // path was "/" or ""
	} else {
		d = parent.Children[name]
		if d == nil {
			return nil, nil, 0, werrors.ENOENT
		}
	}

	in := t.Inode(d.Inode)
	in.Lock()
	defer in.Unlock()

	if streamName != "" {
		if flags&AllowADSSuffix == 0 {
			return nil, nil, 0, werrors.EINVAL
		}
		s := in.Stream(streamName)
		if s == nil {
			return nil, nil, 0, werrors.ENOENT
		}
		return d, s.Blob, s.ID, nil
	}

	if in.IsDir() && flags&AllowDirTarget == 0 {
		return nil, nil, 0, werrors.EISDIR
	}

	return d, in.UnnamedStream().Blob, UnnamedStreamID, nil
}

// walk resolves a plain (no-ADS) slash-separated path to its dentry,
// requiring every component except the last to be a directory; the last
// may be of any kind.
func (t *Tree) walk(path string) (*Dentry, error) {
	d := t.Root
	for _, part := range splitComponents(path) {
		in := t.Inode(d.Inode)
		in.Lock()
		isDir := in.IsDir()
		in.Unlock()
		if !isDir {
			return nil, werrors.ENOTDIR
		}
		child, ok := d.Children[part]
		if !ok {
			return nil, werrors.ENOENT
		}
		d = child
	}
	return d, nil
}

func splitComponents(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func splitPath(path string) (dir, base string) {
	path = strings.Trim(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// CreateChild creates a new dentry named base under parent, backed by a
// freshly minted inode with the given attribute flags and link count 1.
// Fails with EEXIST if base is already taken.
func (t *Tree) CreateChild(parent *Dentry, base string, attr WindowsAttr) (*Dentry, *Inode, error) {
	if _, ok := parent.Children[base]; ok {
		return nil, nil, werrors.EEXIST
	}
	in := t.mintInode(attr, 1)
	d := newDentry(base, parent, in.ID())
	parent.Children[base] = d
	if attr&AttrDirectory != 0 {
		t.registerDirDentry(in.ID(), d)
	}
	return d, in, nil
}

// RegisterLoadedDentry wires a directory dentry built directly by the
// archive-loading path into the dirDentries index (paired with
// RegisterLoaded for the backing inode).
func (t *Tree) RegisterLoadedDentry(id ID, d *Dentry) {
	t.registerDirDentry(id, d)
}

// Link adds a new dentry aliasing an existing inode under parent,
// bumping LinkCount and every referenced stream's blob refcount (spec.md
// §4.5, link). Rejects hard-linking a directory or a reparse-point
// (symlink) target with EPERM.
func (t *Tree) Link(target *Inode, parent *Dentry, base string) (*Dentry, error) {
	if _, ok := parent.Children[base]; ok {
		return nil, werrors.EEXIST
	}
	target.Lock()
	defer target.Unlock()
	if target.IsDir() {
		return nil, werrors.EPERM
	}
	if target.IsSymlink() {
		return nil, werrors.EPERM
	}
	target.LinkCount++
	for _, s := range target.Streams() {
		if s.Blob != nil {
			s.Blob.RefCount++
		}
	}
	d := newDentry(base, parent, target.ID())
	parent.Children[base] = d
	return d, nil
}

// UnlinkDentry detaches d from its parent, lowers the target inode's
// LinkCount, and decrements every stream's blob refcount by one (the
// inverse of Link), freeing blobs left dead; the inode itself is only
// actually reclaimed once it additionally has zero open handles
// (spec.md §3 invariant 5), left to the caller's Reclaimable()/
// DecrementLookupCount dance to finish.
func (t *Tree) UnlinkDentry(d *Dentry) error {
	if d.IsRoot() {
		return werrors.EPERM
	}
	in := t.Inode(d.Inode)
	in.Lock()
	defer in.Unlock()

	if in.IsDir() && len(d.Children) > 0 {
		return werrors.ENOTEMPTY
	}

	wasDir := in.IsDir()
	d.detach()
	in.LinkCount--
	if wasDir {
		t.unregisterDirDentry(d.Inode)
	}
	for _, s := range in.Streams() {
		if s.Blob == nil {
			continue
		}
		if s.Blob.RefCount > 0 {
			s.Blob.RefCount--
		}
		if s.Blob.Dead() {
			if err := t.Store.Free(s.Blob); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rename implements the move rules of spec.md §4.2, resolving both path
// strings down to parent dentries and delegating to RenameChild, which
// the FUSE binding layer calls directly with (parent, name) pairs.
func (t *Tree) Rename(srcPath, dstPath string) error {
	srcDir, srcBase := splitPath(srcPath)
	dstDir, dstBase := splitPath(dstPath)

	srcParent := t.Root
	if srcDir != "" {
		var err error
		srcParent, err = t.walk(srcDir)
		if err != nil {
			return err
		}
	}

	dstParent := t.Root
	if dstDir != "" {
		var err error
		dstParent, err = t.walk(dstDir)
		if err != nil {
			return err
		}
	}

	return t.RenameChild(srcParent, dstParent, srcBase, dstBase)
}

// RenameChild is the dentry-based core of rename: move the child named
// oldName under oldParent to newName under newParent. This is the form
// FUSE's Rename op supplies natively (ParentInodeID, Name, NewParent,
// NewName), so the wimfs binding layer calls this directly instead of
// reconstructing path strings.
func (t *Tree) RenameChild(oldParent, newParent *Dentry, oldName, newName string) error {
	src, ok := oldParent.Children[oldName]
	if !ok {
		return werrors.ENOENT
	}

	newParentIn := t.Inode(newParent.Inode)
	newParentIn.Lock()
	isDir := newParentIn.IsDir()
	newParentIn.Unlock()
	if !isDir {
		return werrors.ENOTDIR
	}

	if src == newParent || isAncestor(src, newParent) {
		return werrors.EINVAL
	}

	if existing, ok := newParent.Children[newName]; ok {
		if existing == src {
			// Renaming onto itself (spec.md §8 boundary case: dir-onto-
			// itself returns 0).
			return nil
		}
		if err := t.replaceForRename(src, existing); err != nil {
			return err
		}
	}

	src.detach()
	src.attach(newParent, newName)
	return nil
}

// replaceForRename enforces the file/dir compatibility rules for a
// rename's overwritten target (spec.md §4.2) and then unlinks it.
func (t *Tree) replaceForRename(src, dst *Dentry) error {
	srcIn := t.Inode(src.Inode)
	dstIn := t.Inode(dst.Inode)

	srcIn.Lock()
	srcIsDir := srcIn.IsDir()
	srcIn.Unlock()

	dstIn.Lock()
	dstIsDir := dstIn.IsDir()
	dstHasChildren := len(dst.Children) > 0
	dstIn.Unlock()

	switch {
	case srcIsDir && !dstIsDir:
		return werrors.ENOTDIR
	case !srcIsDir && dstIsDir:
		return werrors.EISDIR
	case dstIsDir && dstHasChildren:
		return werrors.ENOTEMPTY
	}

	return t.UnlinkDentry(dst)
}

func isAncestor(maybeAncestor, d *Dentry) bool {
	for cur := d.Parent; cur != nil; cur = cur.Parent {
		if cur == maybeAncestor {
			return true
		}
	}
	return false
}

// String is used in a few error-wrapping call sites; Tree has no other
// natural Stringer use.
func (t *Tree) String() string {
	return fmt.Sprintf("Tree{inodes=%d}", len(t.inodes))
}
