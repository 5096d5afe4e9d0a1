package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzr/wimlib/cfg"
	"github.com/rzr/wimlib/mount"
	"github.com/rzr/wimlib/werrors"
)

var unmountCmd = &cobra.Command{
	Use:   "unmount <mount_point>",
	Short: "Unmount a previously mounted image, optionally committing staged writes",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnmount,
}

func init() {
	if err := cfg.BindUnmountFlags(unmountCmd.Flags()); err != nil {
		panic(fmt.Sprintf("cmd: bind unmount flags: %v", err))
	}
}

// runUnmount implements spec.md §6's unmount_image entry point directly;
// unlike mount, it never daemonizes -- it is a short-lived client of the
// Unmount Protocol (spec.md §4.6) and returns as soon as the daemon
// reports UNMOUNT_FINISHED.
func runUnmount(_ *cobra.Command, args []string) error {
	mountDir := args[0]

	c, err := cfg.Decode()
	if err != nil {
		return werrors.New(werrors.InvalidParam, err)
	}

	return mount.UnmountImage(mountDir, c.Unmount.UnmountFlags())
}
