package wimfs

import (
	"context"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzr/wimlib/archive/fakearchive"
	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/inode"
	"github.com/rzr/wimlib/stage"
)

func newTestFileSystem(t *testing.T, writable bool) *FileSystem {
	t.Helper()
	store := blob.NewStore()
	tree := inode.NewTree(store, inode.StreamInterfaceXattr)
	layer, err := stage.NewLayer(t.TempDir(), "test.wim", store, nil)
	require.NoError(t, err)

	return NewFileSystem(&Config{
		Tree:     tree,
		Store:    store,
		Stage:    layer,
		Archive:  fakearchive.New(),
		Writable: writable,
		Uid:      1000,
		Gid:      1000,
	})
}

func TestCreateWriteReadFileRoundTrip(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "hello.txt"}
	require.NoError(t, fs.CreateFile(ctx, createOp))
	assert.NotZero(t, createOp.Handle)

	writeOp := &fuseops.WriteFileOp{
		Inode:  createOp.Entry.Child,
		Handle: createOp.Handle,
		Data:   []byte("hello, wimfs"),
		Offset: 0,
	}
	require.NoError(t, fs.WriteFile(ctx, writeOp))

	readOp := &fuseops.ReadFileOp{
		Inode:  createOp.Entry.Child,
		Handle: createOp.Handle,
		Dst:    make([]byte, 64),
		Offset: 0,
	}
	require.NoError(t, fs.ReadFile(ctx, readOp))
	assert.Equal(t, "hello, wimfs", string(readOp.Dst[:readOp.BytesRead]))

	attrOp := &fuseops.GetInodeAttributesOp{Inode: createOp.Entry.Child}
	require.NoError(t, fs.GetInodeAttributes(ctx, attrOp))
	assert.Equal(t, uint64(len("hello, wimfs")), attrOp.Attributes.Size)
}

func TestCreateFileRejectedOnReadOnlyMount(t *testing.T) {
	fs := newTestFileSystem(t, false)
	err := fs.CreateFile(context.Background(), &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "nope.txt"})
	assert.Error(t, err)
}

func TestLookUpInodeAfterMkDir(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "sub"}
	require.NoError(t, fs.MkDir(ctx, mkdirOp))

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "sub"}
	require.NoError(t, fs.LookUpInode(ctx, lookupOp))
	assert.Equal(t, mkdirOp.Entry.Child, lookupOp.Entry.Child)
	assert.True(t, lookupOp.Entry.Attributes.Mode.IsDir())
}

func TestLookUpInodeMissingChildReturnsENOENT(t *testing.T) {
	fs := newTestFileSystem(t, true)
	err := fs.LookUpInode(context.Background(), &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "missing"})
	assert.Error(t, err)
}

func TestSetInodeAttributesTruncateGrowsStagedSize(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "grow.txt"}
	require.NoError(t, fs.CreateFile(ctx, createOp))

	size := uint64(128)
	setOp := &fuseops.SetInodeAttributesOp{Inode: createOp.Entry.Child, Size: &size}
	require.NoError(t, fs.SetInodeAttributes(ctx, setOp))
	assert.Equal(t, size, setOp.Attributes.Size)
}

// TestSetInodeAttributesTruncateToCurrentSizeIsNoOp exercises spec.md
// §8's boundary law through the actual FUSE op surface: truncating a
// file created (and therefore already staged) by CreateFile to its own
// current size must keep the same staged descriptor.
func TestSetInodeAttributesTruncateToCurrentSizeIsNoOp(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "same.txt"}
	require.NoError(t, fs.CreateFile(ctx, createOp))

	writeOp := &fuseops.WriteFileOp{
		Inode:  createOp.Entry.Child,
		Handle: createOp.Handle,
		Data:   []byte("unchanged"),
		Offset: 0,
	}
	require.NoError(t, fs.WriteFile(ctx, writeOp))
	require.NoError(t, fs.FlushFile(ctx, &fuseops.FlushFileOp{Handle: createOp.Handle}))

	in := fs.inode(createOp.Entry.Child)
	in.Lock()
	blobBefore := in.UnnamedStream().Blob
	in.Unlock()

	size := uint64(len("unchanged"))
	setOp := &fuseops.SetInodeAttributesOp{Inode: createOp.Entry.Child, Size: &size}
	require.NoError(t, fs.SetInodeAttributes(ctx, setOp))
	assert.Equal(t, size, setOp.Attributes.Size)

	in.Lock()
	defer in.Unlock()
	assert.Same(t, blobBefore, in.UnnamedStream().Blob, "truncate to current size must not restage the stream")
}

func TestXattrRoundTrip(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "attrs.txt"}
	require.NoError(t, fs.CreateFile(ctx, createOp))

	setOp := &fuseops.SetXattrOp{Inode: createOp.Entry.Child, Name: "user.tag", Value: []byte("prod")}
	require.NoError(t, fs.SetXattr(ctx, setOp))

	getOp := &fuseops.GetXattrOp{Inode: createOp.Entry.Child, Name: "user.tag", Dst: make([]byte, 64)}
	require.NoError(t, fs.GetXattr(ctx, getOp))
	assert.Equal(t, "prod", string(getOp.Dst[:getOp.BytesRead]))

	listOp := &fuseops.ListXattrOp{Inode: createOp.Entry.Child, Dst: make([]byte, 64)}
	require.NoError(t, fs.ListXattr(ctx, listOp))
	assert.Contains(t, string(listOp.Dst[:listOp.BytesRead]), "user.tag")

	// Replacing the value must not leak the old blob (the bug this test
	// guards against: SetXattr used to overwrite s.Blob with no release).
	setOp2 := &fuseops.SetXattrOp{Inode: createOp.Entry.Child, Name: "user.tag", Value: []byte("staging")}
	require.NoError(t, fs.SetXattr(ctx, setOp2))

	getOp2 := &fuseops.GetXattrOp{Inode: createOp.Entry.Child, Name: "user.tag", Dst: make([]byte, 64)}
	require.NoError(t, fs.GetXattr(ctx, getOp2))
	assert.Equal(t, "staging", string(getOp2.Dst[:getOp2.BytesRead]))

	removeOp := &fuseops.RemoveXattrOp{Inode: createOp.Entry.Child, Name: "user.tag"}
	require.NoError(t, fs.RemoveXattr(ctx, removeOp))

	getOp3 := &fuseops.GetXattrOp{Inode: createOp.Entry.Child, Name: "user.tag", Dst: make([]byte, 64)}
	assert.Error(t, fs.GetXattr(ctx, getOp3))
}

func TestCreateSymlinkAndReadSymlink(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	linkOp := &fuseops.CreateSymlinkOp{Parent: fuseops.RootInodeID, Name: "link", Target: "/some/target"}
	require.NoError(t, fs.CreateSymlink(ctx, linkOp))

	readOp := &fuseops.ReadSymlinkOp{Inode: linkOp.Entry.Child}
	require.NoError(t, fs.ReadSymlink(ctx, readOp))
	assert.Equal(t, "/some/target", readOp.Target)
}

func TestCreateLinkAddsDentryAliasingSameInode(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "orig.txt"}
	require.NoError(t, fs.CreateFile(ctx, createOp))

	linkOp := &fuseops.CreateLinkOp{Parent: fuseops.RootInodeID, Name: "alias.txt", Target: createOp.Entry.Child}
	require.NoError(t, fs.CreateLink(ctx, linkOp))
	assert.Equal(t, createOp.Entry.Child, linkOp.Entry.Child)

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "alias.txt"}
	require.NoError(t, fs.LookUpInode(ctx, lookupOp))
	assert.Equal(t, createOp.Entry.Child, lookupOp.Entry.Child)
	assert.Equal(t, uint32(2), lookupOp.Entry.Attributes.Nlink)
}

func TestUnlinkRemovesDentry(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "gone.txt"}
	require.NoError(t, fs.CreateFile(ctx, createOp))

	require.NoError(t, fs.Unlink(ctx, &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "gone.txt"}))

	err := fs.LookUpInode(ctx, &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "gone.txt"})
	assert.Error(t, err)
}

func TestRenameMovesDentryToNewName(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "from.txt"}
	require.NoError(t, fs.CreateFile(ctx, createOp))

	require.NoError(t, fs.Rename(ctx, &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID,
		OldName:   "from.txt",
		NewParent: fuseops.RootInodeID,
		NewName:   "to.txt",
	}))

	assert.Error(t, fs.LookUpInode(ctx, &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "from.txt"}))

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "to.txt"}
	require.NoError(t, fs.LookUpInode(ctx, lookupOp))
	assert.Equal(t, createOp.Entry.Child, lookupOp.Entry.Child)
}

func TestRmDirAndReadDir(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "sub"}
	require.NoError(t, fs.MkDir(ctx, mkdirOp))

	createOp := &fuseops.CreateFileOp{Parent: mkdirOp.Entry.Child, Name: "inside.txt"}
	require.NoError(t, fs.CreateFile(ctx, createOp))

	openOp := &fuseops.OpenDirOp{Inode: mkdirOp.Entry.Child}
	require.NoError(t, fs.OpenDir(ctx, openOp))

	readOp := &fuseops.ReadDirOp{Handle: openOp.Handle, Offset: 0, Dst: make([]byte, 4096)}
	require.NoError(t, fs.ReadDir(ctx, readOp))
	assert.Greater(t, readOp.BytesRead, 0)
	require.NoError(t, fs.ReleaseDirHandle(ctx, &fuseops.ReleaseDirHandleOp{Handle: openOp.Handle}))

	// A non-empty directory must refuse rmdir.
	assert.Error(t, fs.RmDir(ctx, &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "sub"}))

	require.NoError(t, fs.Unlink(ctx, &fuseops.UnlinkOp{Parent: mkdirOp.Entry.Child, Name: "inside.txt"}))
	require.NoError(t, fs.RmDir(ctx, &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "sub"}))
}

func TestFlushFileAndSyncFileOnStagedHandle(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "synced.txt"}
	require.NoError(t, fs.CreateFile(ctx, createOp))

	writeOp := &fuseops.WriteFileOp{
		Inode:  createOp.Entry.Child,
		Handle: createOp.Handle,
		Data:   []byte("durable"),
		Offset: 0,
	}
	require.NoError(t, fs.WriteFile(ctx, writeOp))

	assert.NoError(t, fs.FlushFile(ctx, &fuseops.FlushFileOp{Handle: createOp.Handle}))
	assert.NoError(t, fs.SyncFile(ctx, &fuseops.SyncFileOp{Inode: createOp.Entry.Child}))
}

func TestForgetInodeReclaimsUnlinkedInode(t *testing.T) {
	fs := newTestFileSystem(t, true)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "ephemeral.txt"}
	require.NoError(t, fs.CreateFile(ctx, createOp))
	require.NoError(t, fs.ReleaseFileHandle(ctx, &fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))

	require.NoError(t, fs.Unlink(ctx, &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "ephemeral.txt"}))
	assert.NotNil(t, fs.inode(createOp.Entry.Child), "inode must survive while the kernel still holds a lookup reference")

	require.NoError(t, fs.ForgetInode(ctx, &fuseops.ForgetInodeOp{Inode: createOp.Entry.Child, N: 1}))
	assert.Nil(t, fs.inode(createOp.Entry.Child), "inode must be reclaimed once unlinked and forgotten")
}
