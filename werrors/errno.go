// Package werrors defines the POSIX errno values the filesystem
// operations return to the FUSE host (spec.md §4.5/§7), plus the named
// process exit codes used by the mount and unmount commands (spec.md
// §6). Filesystem errors are plain syscall.Errno values, which satisfy
// error and are accepted directly by jacobsa/fuse's FileSystem methods,
// the same way the jacobsa/fuse codebase itself returns kernel errno
// constants from FileSystem callbacks.
package werrors

import "syscall"

// Filesystem-call errno values named in spec.md §7.
const (
	ENOENT    = syscall.ENOENT
	ENOTDIR   = syscall.ENOTDIR
	EEXIST    = syscall.EEXIST
	EPERM     = syscall.EPERM
	EISDIR    = syscall.EISDIR
	ENOTEMPTY = syscall.ENOTEMPTY
	EINVAL    = syscall.EINVAL
	EBADF     = syscall.EBADF
	EMFILE    = syscall.EMFILE
	ENOTSUP   = syscall.ENOTSUP
	ENOATTR   = syscall.ENODATA // Linux has no distinct ENOATTR; ENODATA is the xattr-absent errno.
	ERANGE    = syscall.ERANGE
	EOVERFLOW = syscall.EOVERFLOW
	EIO       = syscall.EIO
	ENOMEM    = syscall.ENOMEM
)

// ExitCode names one of the process exit codes enumerated in spec.md §6.
type ExitCode string

const (
	InvalidParam       ExitCode = "INVALID_PARAM"
	MetadataNotFound   ExitCode = "METADATA_NOT_FOUND"
	NotDir             ExitCode = "NOTDIR"
	SplitUnsupported   ExitCode = "SPLIT_UNSUPPORTED"
	AlreadyLocked      ExitCode = "ALREADY_LOCKED"
	MkdirFailed        ExitCode = "MKDIR"
	Mqueue             ExitCode = "MQUEUE"
	InvalidUnmountMsg  ExitCode = "INVALID_UNMOUNT_MESSAGE"
	Fusermount         ExitCode = "FUSERMOUNT"
	Fork               ExitCode = "FORK"
	Timeout            ExitCode = "TIMEOUT"
	DaemonCrashed      ExitCode = "DAEMON_CRASHED"
	NoMem              ExitCode = "NOMEM"
	FuseErr            ExitCode = "FUSE"
)

// Error is a typed error carrying one of the named exit codes, returned
// by mount.MountImage / mount.UnmountImage per SPEC_FULL.md §6.
type Error struct {
	Code ExitCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the named exit code.
func New(code ExitCode, err error) *Error {
	return &Error{Code: code, Err: err}
}
