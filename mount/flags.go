// Package mount ties the other packages together into the two external
// entry points named in spec.md §6: MountImage and UnmountImage. It also
// owns the two pieces that only make sense at the two-process boundary:
// the Unmount Protocol (spec.md §4.6) and the Commit Pipeline (spec.md
// §4.7).
package mount

import "github.com/rzr/wimlib/inode"

// MountFlags are the bitwise-OR mount options of spec.md §6.
type MountFlags uint32

const (
	FlagReadWrite MountFlags = 1 << iota
	FlagDebug
	FlagStreamNone
	FlagStreamXattr
	FlagStreamWindows
)

// StreamInterface extracts the exactly-one STREAM_INTERFACE_* selection,
// defaulting to Xattr when none of the three bits is set (spec.md §6).
func (f MountFlags) StreamInterface() inode.StreamInterface {
	switch {
	case f&FlagStreamWindows != 0:
		return inode.StreamInterfaceWindows
	case f&FlagStreamNone != 0:
		return inode.StreamInterfaceNone
	default:
		return inode.StreamInterfaceXattr
	}
}

// UnmountFlags are the bitwise-OR unmount options of spec.md §6, carried
// in the wire UNMOUNT_REQUEST body (spec.md §4.6).
type UnmountFlags uint32

const (
	UnmountCommit UnmountFlags = 1 << iota
	UnmountCheckIntegrity
	UnmountRebuild
	UnmountRecompress
)
