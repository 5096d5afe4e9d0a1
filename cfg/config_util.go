package cfg

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/rzr/wimlib/mount"
)

// Decode reads back everything BindMountFlags/BindUnmountFlags bound
// into viper, the same "bind then unmarshal" step gcsfuse's
// cfg.BindFlags callers perform after cobra parses argv.
func Decode() (*Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("cfg: decode: %w", err)
	}
	return &c, nil
}

// MountFlags converts the parsed mount config into the bitwise
// mount.MountFlags mount.MountImage expects (spec.md §6). debugFuse is
// threaded in separately since it lives under DebugConfig, not
// MountConfig.
func (c *MountConfig) MountFlags(debugFuse bool) (mount.MountFlags, error) {
	if err := validateStreamInterface(c.StreamInterface); err != nil {
		return 0, err
	}

	var f mount.MountFlags
	if c.ReadWrite {
		f |= mount.FlagReadWrite
	}
	if debugFuse {
		f |= mount.FlagDebug
	}
	switch c.StreamInterface {
	case "none":
		f |= mount.FlagStreamNone
	case "windows":
		f |= mount.FlagStreamWindows
	default:
		f |= mount.FlagStreamXattr
	}
	return f, nil
}

func validateStreamInterface(v string) error {
	switch v {
	case "", "xattr", "none", "windows":
		return nil
	default:
		return fmt.Errorf("cfg: invalid stream-interface %q (want xattr, none, or windows)", v)
	}
}

// UnmountFlags converts the parsed unmount config into the bitwise
// mount.UnmountFlags mount.UnmountImage expects (spec.md §6).
func (c *UnmountConfig) UnmountFlags() mount.UnmountFlags {
	var f mount.UnmountFlags
	if c.Commit {
		f |= mount.UnmountCommit
	}
	if c.CheckIntegrity {
		f |= mount.UnmountCheckIntegrity
	}
	if c.Rebuild {
		f |= mount.UnmountRebuild
	}
	if c.Recompress {
		f |= mount.UnmountRecompress
	}
	return f
}
