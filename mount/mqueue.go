package mount

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rzr/wimlib/werrors"
)

// mqueue wraps the three POSIX message-queue calls original_source's
// mount_image.c makes directly (mq_open/mq_send/mq_receive, see
// include <mqueue.h> there). golang.org/x/sys/unix does not expose a
// friendly Go wrapper for these -- only the raw SYS_MQ_* syscall
// numbers -- so this type is the thin idiomatic layer this repo needs
// in its place, built on unix.Syscall6 the same way unix's own
// generated wrappers are built.
type mqueue struct {
	fd int
}

const (
	mqMaxMsg  = 10
	mqMsgSize = 256
)

type mqAttr struct {
	Flags   int64
	MaxMsg  int64
	MsgSize int64
	CurMsgs int64
}

// mqOpenCreate opens (creating if needed) a named POSIX message queue
// with mode 0700, matching spec.md §4.6: "Both are created on first
// open with permission 0700."
func mqOpenCreate(name string) (*mqueue, error) {
	nameBytes, err := unix.BytePtrFromString(name)
	if err != nil {
		return nil, err
	}
	attr := mqAttr{MaxMsg: mqMaxMsg, MsgSize: mqMsgSize}
	fd, _, errno := unix.Syscall6(
		unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(nameBytes)),
		uintptr(unix.O_RDWR|unix.O_CREAT|unix.O_NONBLOCK),
		uintptr(0700),
		uintptr(unsafe.Pointer(&attr)),
		0, 0,
	)
	if errno != 0 {
		return nil, werrors.New(werrors.Mqueue, errno)
	}
	return &mqueue{fd: int(fd)}, nil
}

func (q *mqueue) Close() error {
	return unix.Close(q.fd)
}

func mqUnlink(name string) error {
	nameBytes, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	_, _, errno := unix.Syscall(unix.SYS_MQ_UNLINK, uintptr(unsafe.Pointer(nameBytes)), 0, 0)
	if errno != 0 && errno != unix.ENOENT {
		return errno
	}
	return nil
}

// Send writes one message, blocking briefly via a short retry loop
// since the queue was opened O_NONBLOCK (mirroring mq_send's blocking
// default, but bounded so a full queue can't wedge the daemon forever).
func (q *mqueue) Send(msg []byte) error {
	deadline := time.Now().Add(time.Second)
	for {
		_, _, errno := unix.Syscall6(
			unix.SYS_MQ_TIMEDSEND,
			uintptr(q.fd),
			uintptr(unsafe.Pointer(&msg[0])),
			uintptr(len(msg)),
			0, 0, 0,
		)
		if errno == 0 {
			return nil
		}
		if errno != unix.EAGAIN || time.Now().After(deadline) {
			return errno
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Receive blocks for up to timeout for one message, returning
// (nil, false, nil) on timeout.
func (q *mqueue) Receive(timeout time.Duration) (msg []byte, ok bool, err error) {
	buf := make([]byte, mqMsgSize)
	deadline := time.Now().Add(timeout)
	for {
		n, _, errno := unix.Syscall6(
			unix.SYS_MQ_TIMEDRECEIVE,
			uintptr(q.fd),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(len(buf)),
			0, 0, 0,
		)
		if errno == 0 {
			return buf[:n], true, nil
		}
		if errno == unix.EAGAIN {
			if time.Now().After(deadline) {
				return nil, false, nil
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		return nil, false, errno
	}
}
