package inode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/werrors"
)

func newTestTree() *Tree {
	return NewTree(blob.NewStore(), StreamInterfaceXattr)
}

func TestNewTreeHasRootDirectory(t *testing.T) {
	tree := newTestTree()
	root := tree.Inode(tree.Root.Inode)
	require.NotNil(t, root)
	root.Lock()
	isDir := root.IsDir()
	root.Unlock()
	assert.True(t, isDir)
	assert.True(t, tree.Root.IsRoot())
}

func TestCreateChildRejectsDuplicateName(t *testing.T) {
	tree := newTestTree()
	_, _, err := tree.CreateChild(tree.Root, "a.txt", AttrNormal)
	require.NoError(t, err)

	_, _, err = tree.CreateChild(tree.Root, "a.txt", AttrNormal)
	assert.ErrorIs(t, err, werrors.EEXIST)
}

func TestLookupResolvesCreatedFile(t *testing.T) {
	tree := newTestTree()
	d, in, err := tree.CreateChild(tree.Root, "a.txt", AttrNormal)
	require.NoError(t, err)

	gotDentry, _, streamID, err := tree.Lookup("a.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, d, gotDentry)
	assert.Equal(t, in.ID(), gotDentry.Inode)
	assert.Equal(t, UnnamedStreamID, streamID)
}

func TestLookupDirectoryWithoutAllowDirTargetFails(t *testing.T) {
	tree := newTestTree()
	_, _, err := tree.CreateChild(tree.Root, "sub", AttrDirectory)
	require.NoError(t, err)

	_, _, _, err = tree.Lookup("sub", 0)
	assert.ErrorIs(t, err, werrors.EISDIR)

	_, _, _, err = tree.Lookup("sub", AllowDirTarget)
	assert.NoError(t, err)
}

func TestLookupMissingReturnsENOENT(t *testing.T) {
	tree := newTestTree()
	_, _, _, err := tree.Lookup("missing.txt", 0)
	assert.ErrorIs(t, err, werrors.ENOENT)
}

func TestLinkBumpsLinkCountAndRejectsDirectories(t *testing.T) {
	tree := newTestTree()
	_, in, err := tree.CreateChild(tree.Root, "a.txt", AttrNormal)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), in.LinkCount)

	_, err = tree.Link(in, tree.Root, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), in.LinkCount)

	_, dirIn, err := tree.CreateChild(tree.Root, "sub", AttrDirectory)
	require.NoError(t, err)
	_, err = tree.Link(dirIn, tree.Root, "sub2")
	assert.ErrorIs(t, err, werrors.EPERM)
}

func TestUnlinkDentryRejectsNonEmptyDirectory(t *testing.T) {
	tree := newTestTree()
	_, _, err := tree.CreateChild(tree.Root, "sub", AttrDirectory)
	require.NoError(t, err)
	subDentry := tree.Root.Children["sub"]
	_, _, err = tree.CreateChild(subDentry, "child.txt", AttrNormal)
	require.NoError(t, err)

	err = tree.UnlinkDentry(subDentry)
	assert.ErrorIs(t, err, werrors.ENOTEMPTY)
}

func TestUnlinkDentryRemovesEmptyFile(t *testing.T) {
	tree := newTestTree()
	d, in, err := tree.CreateChild(tree.Root, "a.txt", AttrNormal)
	require.NoError(t, err)

	require.NoError(t, tree.UnlinkDentry(d))
	assert.Equal(t, uint32(0), in.LinkCount)
	_, _, _, err = tree.Lookup("a.txt", 0)
	assert.ErrorIs(t, err, werrors.ENOENT)
}

func TestUnlinkDentryRejectsRoot(t *testing.T) {
	tree := newTestTree()
	assert.ErrorIs(t, tree.UnlinkDentry(tree.Root), werrors.EPERM)
}

func TestRenameChildMovesDentry(t *testing.T) {
	tree := newTestTree()
	_, _, err := tree.CreateChild(tree.Root, "a.txt", AttrNormal)
	require.NoError(t, err)
	_, _, err = tree.CreateChild(tree.Root, "destdir", AttrDirectory)
	require.NoError(t, err)
	destDir := tree.Root.Children["destdir"]

	require.NoError(t, tree.RenameChild(tree.Root, destDir, "a.txt", "b.txt"))

	_, ok := tree.Root.Children["a.txt"]
	assert.False(t, ok)
	moved, ok := destDir.Children["b.txt"]
	require.True(t, ok)
	assert.Equal(t, "b.txt", moved.Name)
	assert.Equal(t, destDir, moved.Parent)
}

func TestRenameChildRejectsMovingIntoItself(t *testing.T) {
	tree := newTestTree()
	_, _, err := tree.CreateChild(tree.Root, "sub", AttrDirectory)
	require.NoError(t, err)
	sub := tree.Root.Children["sub"]

	err = tree.RenameChild(tree.Root, sub, "sub", "sub2")
	assert.ErrorIs(t, err, werrors.EINVAL)
}

func TestRenameOntoSelfIsNoOp(t *testing.T) {
	tree := newTestTree()
	_, _, err := tree.CreateChild(tree.Root, "a.txt", AttrNormal)
	require.NoError(t, err)

	assert.NoError(t, tree.RenameChild(tree.Root, tree.Root, "a.txt", "a.txt"))
	_, ok := tree.Root.Children["a.txt"]
	assert.True(t, ok)
}

func TestRenameChildOverwritesCompatibleTarget(t *testing.T) {
	tree := newTestTree()
	_, _, err := tree.CreateChild(tree.Root, "src.txt", AttrNormal)
	require.NoError(t, err)
	_, dstIn, err := tree.CreateChild(tree.Root, "dst.txt", AttrNormal)
	require.NoError(t, err)

	require.NoError(t, tree.RenameChild(tree.Root, tree.Root, "src.txt", "dst.txt"))
	assert.Equal(t, uint32(0), dstIn.LinkCount)
	_, ok := tree.Root.Children["dst.txt"]
	assert.True(t, ok)
}

func TestPinMetadataTracksOutstandingPins(t *testing.T) {
	tree := newTestTree()
	assert.False(t, tree.Pinned())
	tree.PinMetadata()
	assert.True(t, tree.Pinned())
	tree.UnpinMetadata()
	assert.False(t, tree.Pinned())
}
