package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzr/wimlib/mount"
)

func TestMountFlagsDefaultsToXattrReadOnly(t *testing.T) {
	c := &MountConfig{StreamInterface: "xattr"}
	flags, err := c.MountFlags(false)
	require.NoError(t, err)
	assert.Equal(t, mount.FlagStreamXattr, flags)
}

func TestMountFlagsReadWriteAndDebug(t *testing.T) {
	c := &MountConfig{ReadWrite: true, StreamInterface: "windows"}
	flags, err := c.MountFlags(true)
	require.NoError(t, err)
	assert.NotZero(t, flags&mount.FlagReadWrite)
	assert.NotZero(t, flags&mount.FlagDebug)
	assert.NotZero(t, flags&mount.FlagStreamWindows)
	assert.Zero(t, flags&mount.FlagStreamXattr)
}

func TestMountFlagsStreamNone(t *testing.T) {
	c := &MountConfig{StreamInterface: "none"}
	flags, err := c.MountFlags(false)
	require.NoError(t, err)
	assert.NotZero(t, flags&mount.FlagStreamNone)
}

func TestMountFlagsRejectsUnknownStreamInterface(t *testing.T) {
	c := &MountConfig{StreamInterface: "bogus"}
	_, err := c.MountFlags(false)
	assert.Error(t, err)
}

func TestUnmountFlagsBitmask(t *testing.T) {
	c := &UnmountConfig{Commit: true, Recompress: true}
	flags := c.UnmountFlags()
	assert.NotZero(t, flags&mount.UnmountCommit)
	assert.NotZero(t, flags&mount.UnmountRecompress)
	assert.Zero(t, flags&mount.UnmountCheckIntegrity)
	assert.Zero(t, flags&mount.UnmountRebuild)
}
