// Package cfg defines the typed configuration for the mount and
// unmount commands and binds it to command-line flags, mirroring
// gcsfuse's cfg package split between a plain Config struct and
// pflag/viper-backed binding functions (gcsfuse's own cfg.Config is
// code-generated from a params YAML; ours is small enough to hand-write
// in the same shape).
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one mount or unmount
// invocation, after flags, environment, and defaults have all been
// merged by viper.
type Config struct {
	Mount   MountConfig   `yaml:"mount"`
	Unmount UnmountConfig `yaml:"unmount"`
	Debug   DebugConfig   `yaml:"debug"`
}

// MountConfig holds mount_image's parameters (spec.md §6).
type MountConfig struct {
	ReadWrite       bool     `yaml:"read-write" mapstructure:"read-write"`
	StreamInterface string   `yaml:"stream-interface" mapstructure:"stream-interface"` // "xattr" (default), "none", "windows"
	StagingDir      string   `yaml:"staging-dir" mapstructure:"staging-dir"`
	ExtraParts      []string `yaml:"extra-parts" mapstructure:"extra-parts"`
	ImageIndex      int      `yaml:"image-index" mapstructure:"image-index"`
	Foreground      bool     `yaml:"foreground"`
}

// UnmountConfig holds unmount_image's flag bits (spec.md §6).
type UnmountConfig struct {
	Commit         bool `yaml:"commit"`
	CheckIntegrity bool `yaml:"check-integrity" mapstructure:"check-integrity"`
	Rebuild        bool `yaml:"rebuild"`
	Recompress     bool `yaml:"recompress"`
}

// DebugConfig controls wimfslog's verbosity, mirroring gcsfuse's own
// DebugConfig (cfg/config.go) one level down in scope.
type DebugConfig struct {
	LogFuse bool `yaml:"fuse" mapstructure:"fuse"`
}

// BindMountFlags registers the mount subcommand's flags onto flagSet
// and binds each to viper, the same pflag.FlagSet+viper.BindPFlag
// pairing gcsfuse's generated BindFlags uses throughout cfg/config.go.
func BindMountFlags(flagSet *pflag.FlagSet) error {
	flagSet.Bool("read-write", false, "Mount the image read-write instead of read-only.")
	flagSet.String("stream-interface", "xattr", "How alternate data streams are exposed: xattr, none, or windows.")
	flagSet.String("staging-dir", "", "Parent directory for the staging scratch directory (default: system temp dir).")
	flagSet.StringSlice("extra-parts", nil, "Paths to the other parts of a split archive, if any.")
	flagSet.Int("image-index", 1, "1-based index of the image within the archive to mount.")
	flagSet.Bool("foreground", false, "Run the mount daemon in the foreground instead of backgrounding it.")
	flagSet.Bool("debug_fuse", false, "Log every FUSE operation at debug level.")

	for _, name := range []string{"read-write", "stream-interface", "staging-dir", "extra-parts", "image-index", "foreground", "debug_fuse"} {
		if err := viper.BindPFlag(bindKey(name), flagSet.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

// BindUnmountFlags registers the unmount subcommand's flags.
func BindUnmountFlags(flagSet *pflag.FlagSet) error {
	flagSet.Bool("commit", false, "Write staged changes back into the archive before unmounting.")
	flagSet.Bool("check-integrity", false, "Verify per-chunk integrity data while committing.")
	flagSet.Bool("rebuild", false, "Rebuild the archive from scratch instead of appending.")
	flagSet.Bool("recompress", false, "Recompress every resource while committing.")

	for _, name := range []string{"commit", "check-integrity", "rebuild", "recompress"} {
		if err := viper.BindPFlag(bindKey(name), flagSet.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func bindKey(flagName string) string {
	switch flagName {
	case "commit", "check-integrity", "rebuild", "recompress":
		return "unmount." + flagName
	case "debug_fuse":
		return "debug.fuse"
	default:
		return "mount." + flagName
	}
}
