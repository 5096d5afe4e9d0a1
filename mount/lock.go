package mount

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/rzr/wimlib/werrors"
)

// archiveLock holds the advisory OS-level file lock spec.md §5 requires
// the daemon to keep from mount to unmount: "attempting to mount the
// same archive twice fails with ALREADY_LOCKED."
type archiveLock struct {
	f *os.File
}

// lockArchive takes a non-blocking exclusive flock(2) on archivePath,
// mirroring the same advisory-lock idiom gcsfuse's own lease/file-cache
// locking and wimlib's single-daemon-per-archive invariant both rely on.
func lockArchive(archivePath string) (*archiveLock, error) {
	f, err := os.OpenFile(archivePath, os.O_RDWR, 0)
	if err != nil {
		return nil, werrors.New(werrors.InvalidParam, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, werrors.New(werrors.AlreadyLocked, err)
		}
		return nil, werrors.New(werrors.InvalidParam, err)
	}
	return &archiveLock{f: f}, nil
}

func (l *archiveLock) Unlock() error {
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}
