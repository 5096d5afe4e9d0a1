package cfg

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindMountFlagsRegistersExpectedFlags(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	require.NoError(t, BindMountFlags(fs))

	for _, name := range []string{"read-write", "stream-interface", "staging-dir", "extra-parts", "image-index", "foreground", "debug_fuse"} {
		assert.NotNil(t, fs.Lookup(name), "flag %s should be registered", name)
	}
}

func TestBindMountFlagsDefaultsFlowThroughViper(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	require.NoError(t, BindMountFlags(fs))

	assert.Equal(t, "xattr", viper.GetString("mount.stream-interface"))
	assert.Equal(t, 1, viper.GetInt("mount.image-index"))
	assert.False(t, viper.GetBool("mount.read-write"))
}

func TestBindMountFlagsExplicitValueFlowsThroughViper(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	require.NoError(t, BindMountFlags(fs))
	require.NoError(t, fs.Set("read-write", "true"))
	require.NoError(t, fs.Set("image-index", "3"))

	assert.True(t, viper.GetBool("mount.read-write"))
	assert.Equal(t, 3, viper.GetInt("mount.image-index"))
}

func TestBindUnmountFlagsRegistersExpectedFlags(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("unmount", pflag.ContinueOnError)
	require.NoError(t, BindUnmountFlags(fs))

	for _, name := range []string{"commit", "check-integrity", "rebuild", "recompress"} {
		assert.NotNil(t, fs.Lookup(name))
	}

	require.NoError(t, fs.Set("commit", "true"))
	assert.True(t, viper.GetBool("unmount.commit"))
}

func TestBindKeyRoutesDebugFuseUnderDebug(t *testing.T) {
	assert.Equal(t, "debug.fuse", bindKey("debug_fuse"))
	assert.Equal(t, "mount.read-write", bindKey("read-write"))
	assert.Equal(t, "unmount.commit", bindKey("commit"))
}
