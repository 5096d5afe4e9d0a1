// Package cmd wires the mount subsystem behind two cobra subcommands,
// "mount" and "unmount", mirroring gcsfuse's cmd/root.go split between
// a persistent --config-file flag bound through viper and subcommand
// flags bound by cfg.BindMountFlags/BindUnmountFlags. Archive decoding,
// logging destinations, and CLI surface are all out of the mount
// subsystem's scope per spec.md §1; this package is where they live.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	configFileErr error
)

var rootCmd = &cobra.Command{
	Use:   "wimfs",
	Short: "Mount or unmount a WIM image as a FUSE filesystem",
	Long: `wimfs mounts a chosen image inside a Windows Imaging (WIM) archive
as a local filesystem, and unmounts it again, optionally committing
staged writes back into the archive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the selected subcommand, the same entry point gcsfuse's
// own cmd.Execute provides, except here the caller (main.go) decides
// how to turn the returned error into a process exit status, per
// SPEC_FULL.md §6's exit code mapping.
func Execute() error {
	if configFileErr != nil {
		return configFileErr
	}
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file overriding flag defaults.")
	rootCmd.AddCommand(mountCmd, unmountCmd)
}

// initConfig loads an optional YAML config file into viper before the
// subcommand's RunE calls cfg.Decode, the same SetConfigFile/
// SetConfigType("yaml")/ReadInConfig/Unmarshal sequence gcsfuse's own
// cmd/root.go initConfig runs.
func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("cmd: reading config file %s: %w", cfgFile, err)
	}
}
