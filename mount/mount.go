package mount

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/rzr/wimlib/archive"
	"github.com/rzr/wimlib/stage"
	"github.com/rzr/wimlib/werrors"
	"github.com/rzr/wimlib/wimfs"
	"github.com/rzr/wimlib/wimfslog"
)

// StartServing implements everything mount_image (spec.md §6) does up
// through the point the mount is live and visible to the kernel: lock
// the archive, load the chosen image's metadata, stand up the Staging
// Layer, serve it over FUSE, and start the Unmount Protocol's
// daemon-side loop in the background. It returns as soon as fuse.Mount
// does, without waiting for unmount -- the split gcsfuse's own
// mountWithArgs/runCLIApp makes between "mount" and "Join", needed so
// the cmd package can signal daemonize success at the right moment
// before blocking.
func StartServing(ar archive.Archive, imageIndex int, mountDir string, flags MountFlags, extraParts []string, archivePath string, stagingDir string) (*fuse.MountedFileSystem, error) {
	if err := ar.VerifySplitSet(extraParts); err != nil {
		return nil, werrors.New(werrors.SplitUnsupported, err)
	}

	lock, err := lockArchive(archivePath)
	if err != nil {
		return nil, err
	}

	tree, err := ar.LoadMetadata(imageIndex)
	if err != nil {
		lock.Unlock()
		return nil, werrors.New(werrors.MetadataNotFound, err)
	}
	tree.StreamIface = flags.StreamInterface()

	base := stagingDir
	if base == "" {
		base = os.TempDir()
	}
	layer, err := stage.NewLayer(base, filepath.Base(archivePath), tree.Store, ar.ReadBlob)
	if err != nil {
		lock.Unlock()
		return nil, werrors.New(werrors.MkdirFailed, err)
	}

	cfg := &wimfs.Config{
		Tree:     tree,
		Store:    tree.Store,
		Stage:    layer,
		Archive:  ar,
		Writable: flags&FlagReadWrite != 0,
		Uid:      uint32(os.Getuid()),
		Gid:      uint32(os.Getgid()),
	}
	server := fuseutil.NewFileSystemServer(wimfs.NewFileSystem(cfg))

	if flags&FlagDebug != 0 {
		wimfslog.SetLevel(wimfslog.LevelDebug)
	}

	mountCfg := &fuse.MountConfig{
		FSName:     "wimfs",
		Subtype:    "wimfs",
		VolumeName: filepath.Base(archivePath),
		// Read-write mounts must be single-threaded (spec.md §5); only a
		// read-only mount is allowed to let the kernel parallelize
		// lookups/readdirs.
		EnableParallelDirOps: flags&FlagReadWrite == 0,
		ErrorLogger:          wimfslog.NewStdLogger("fuse: "),
	}
	if flags&FlagDebug != 0 {
		mountCfg.DebugLogger = wimfslog.NewStdLogger("fuse_debug: ")
	}

	mfs, err := fuse.Mount(mountDir, server, mountCfg)
	if err != nil {
		layer.Remove()
		lock.Unlock()
		return nil, werrors.New(werrors.Fusermount, err)
	}

	go serveUnmountProtocol(mountDir, flags, tree, tree.Store, layer, ar, lock)

	return mfs, nil
}

// MountImage is the CLI-level entry point spec.md §6 names: mount and
// block until the mount point is unmounted (by UnmountImage or any
// other fusermount/umount invocation), returning 0 (nil) or a typed
// error, the same way gcsfuse's runCLIApp mounts and then calls
// mfs.Join before returning.
func MountImage(ar archive.Archive, imageIndex int, mountDir string, flags MountFlags, extraParts []string, archivePath string, stagingDir string) error {
	mfs, err := StartServing(ar, imageIndex, mountDir, flags, extraParts, archivePath, stagingDir)
	if err != nil {
		return err
	}
	if err := mfs.Join(context.Background()); err != nil {
		return werrors.New(werrors.FuseErr, err)
	}
	return nil
}
