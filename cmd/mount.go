package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"

	"github.com/rzr/wimlib/cfg"
	"github.com/rzr/wimlib/mount"
	"github.com/rzr/wimlib/werrors"
	"github.com/rzr/wimlib/wimfslog"
)

const successfulMountMessage = "wimfs: mounted successfully."

var mountCmd = &cobra.Command{
	Use:   "mount <archive> <mount_point>",
	Short: "Mount an image inside a WIM archive",
	Args:  cobra.ExactArgs(2),
	RunE:  runMount,
}

func init() {
	if err := cfg.BindMountFlags(mountCmd.Flags()); err != nil {
		panic(fmt.Sprintf("cmd: bind mount flags: %v", err))
	}
}

// runMount implements spec.md §6's mount_image entry point, daemonizing
// unless --foreground was given, the same split gcsfuse's runCLIApp
// makes around daemonize.Run/daemonize.SignalOutcome (cmd/legacy_main.go).
func runMount(_ *cobra.Command, args []string) error {
	archivePath, mountDir := args[0], args[1]

	c, err := cfg.Decode()
	if err != nil {
		return werrors.New(werrors.InvalidParam, err)
	}

	flags, err := c.Mount.MountFlags(c.Debug.LogFuse)
	if err != nil {
		return werrors.New(werrors.InvalidParam, err)
	}

	if !c.Mount.Foreground {
		return daemonizeMount(archivePath, mountDir)
	}

	ar, err := OpenArchive(archivePath)
	if err != nil {
		return werrors.New(werrors.MetadataNotFound, err)
	}

	markOutcome := func(outcomeErr error) {
		if serr := daemonize.SignalOutcome(outcomeErr); serr != nil {
			wimfslog.Errorf("cmd: signal daemonize outcome: %v", serr)
		}
	}

	mfs, err := mount.StartServing(ar, c.Mount.ImageIndex, mountDir, flags, c.Mount.ExtraParts, archivePath, c.Mount.StagingDir)
	if err != nil {
		markOutcome(err)
		return err
	}
	markOutcome(nil)
	fmt.Fprintln(os.Stdout, successfulMountMessage)

	registerSIGINTHandler(mountDir)

	if err := mfs.Join(context.Background()); err != nil {
		return werrors.New(werrors.FuseErr, err)
	}
	return nil
}

// daemonizeMount re-execs the current binary in the background with
// --foreground appended, waiting for the child to report its mount
// outcome over daemonize's status pipe, mirroring gcsfuse's
// cmd/legacy_main.go daemonization block (osext.Executable, the
// PATH/HOME/proxy env passthrough, daemonize.Run). os.Executable
// replaces gcsfuse's kardianos/osext dependency, which only existed to
// backport what the standard library has provided natively since Go 1.8.
func daemonizeMount(archivePath, mountDir string) error {
	self, err := os.Executable()
	if err != nil {
		return werrors.New(werrors.Fork, fmt.Errorf("cmd: os.Executable: %w", err))
	}

	daemonArgs := append(append([]string{}, os.Args[1:]...), "--foreground")

	env := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}
	for _, name := range []string{"https_proxy", "http_proxy", "no_proxy"} {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, fmt.Sprintf("%s=%s", name, v))
		}
	}
	if home, herr := os.UserHomeDir(); herr == nil {
		env = append(env, fmt.Sprintf("HOME=%s", home))
	}

	if err := daemonize.Run(self, daemonArgs, env, os.Stdout); err != nil {
		return werrors.New(werrors.Fork, fmt.Errorf("cmd: daemonize.Run: %w", err))
	}
	fmt.Fprintln(os.Stdout, successfulMountMessage)
	return nil
}

// registerSIGINTHandler lets Ctrl-C unmount the daemon from the
// controlling terminal, the same SIGINT-to-fuse.Unmount wiring
// gcsfuse's cmd/legacy_main.go registerSIGINTHandler performs.
func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	go func() {
		for range signalChan {
			wimfslog.Infof("cmd: received SIGINT, attempting to unmount %s", mountPoint)
			if err := fuse.Unmount(mountPoint); err != nil {
				wimfslog.Errorf("cmd: unmount in response to SIGINT: %v", err)
			}
		}
	}()
}
