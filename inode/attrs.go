package inode

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// Clock is the source of "current time" for freshly minted inodes and
// write updates (inode.go, wimfs/file.go). Swappable the same
// way gcsfuse's fs/inode.DirInode/FileInode take an injected
// timeutil.Clock, so tests can pin it instead of depending on wall time.
var Clock timeutil.Clock = timeutil.RealClock()

// WindowsAttr mirrors the small subset of Windows FILE_ATTRIBUTE_* flags
// the mount subsystem cares about (spec.md §3).
type WindowsAttr uint32

const (
	AttrNormal       WindowsAttr = 0x00000080
	AttrDirectory    WindowsAttr = 0x00000010
	AttrReparsePoint WindowsAttr = 0x00000400
	AttrReadonly     WindowsAttr = 0x00000001
)

// Tick100ns is a WIM timestamp: 100-nanosecond ticks since 1601-01-01,
// the same epoch Windows FILETIME uses.
type Tick100ns uint64

// windowsEpoch is 1601-01-01 00:00:00 UTC expressed as a Go time.
var windowsEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

// ToUnix converts a WIM timestamp to a UNIX-epoch time.Time, used by
// getattr per spec.md §4.5.
func (t Tick100ns) ToUnix() time.Time {
	return windowsEpoch.Add(time.Duration(t) * 100)
}

// FromUnix converts a UNIX-epoch time.Time to a WIM timestamp, used by
// utimens and write/mtime updates per spec.md §4.5.
func FromUnix(t time.Time) Tick100ns {
	d := t.Sub(windowsEpoch)
	return Tick100ns(d.Nanoseconds() / 100)
}

// Now returns the current time, per Clock, as a WIM timestamp.
func Now() Tick100ns {
	return FromUnix(Clock.Now())
}

// Timestamps holds the three timestamps every inode carries. Creation
// time is immutable once the inode is minted (spec.md §4.5, utimens).
type Timestamps struct {
	Creation   Tick100ns
	LastAccess Tick100ns
	LastWrite  Tick100ns
}
