package mount

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rzr/wimlib/archive"
	"github.com/rzr/wimlib/blob"
	"github.com/rzr/wimlib/inode"
	"github.com/rzr/wimlib/metrics"
	"github.com/rzr/wimlib/stage"
	"github.com/rzr/wimlib/werrors"
	"github.com/rzr/wimlib/wimfslog"
)

// protocolVersion is this build's wire version (spec.md §4.6 header
// fields min_version/cur_version).
const protocolVersion = 1

// msgType enumerates the three UNMOUNT_REQUEST/DAEMON_INFO/
// UNMOUNT_FINISHED messages of spec.md §4.6.
type msgType uint32

const (
	msgUnmountRequest msgType = iota + 1
	msgDaemonInfo
	msgUnmountFinished
)

// msgHeader is the fixed-size header every wire message starts with:
// (min_version, cur_version, msg_type, msg_size), per spec.md §4.6.
type msgHeader struct {
	MinVersion uint32
	CurVersion uint32
	Type       msgType
	Size       uint32
}

const msgHeaderSize = 16

func (h msgHeader) marshal() []byte {
	buf := make([]byte, msgHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.MinVersion)
	binary.LittleEndian.PutUint32(buf[4:8], h.CurVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Type))
	binary.LittleEndian.PutUint32(buf[12:16], h.Size)
	return buf
}

func unmarshalHeader(buf []byte) (msgHeader, error) {
	if len(buf) < msgHeaderSize {
		return msgHeader{}, werrors.New(werrors.InvalidUnmountMsg, fmt.Errorf("mount: short message header (%d bytes)", len(buf)))
	}
	h := msgHeader{
		MinVersion: binary.LittleEndian.Uint32(buf[0:4]),
		CurVersion: binary.LittleEndian.Uint32(buf[4:8]),
		Type:       msgType(binary.LittleEndian.Uint32(buf[8:12])),
		Size:       binary.LittleEndian.Uint32(buf[12:16]),
	}
	return h, nil
}

// channelNames derives the two durable, named message-channel names
// from the canonical mount-point path, per spec.md §6: slashes replaced
// by the escape byte 0xFF so the name stays flat.
func channelNames(mountDir string) (uToD, dToU string) {
	escaped := strings.ReplaceAll(mountDir, "/", "\xff")
	return "/wimlib-unmount-to-daemon-mq" + escaped, "/wimlib-daemon-to-unmount-mq" + escaped
}

func encodeUnmountRequest(flags UnmountFlags) []byte {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, uint32(flags))
	h := msgHeader{MinVersion: protocolVersion, CurVersion: protocolVersion, Type: msgUnmountRequest, Size: uint32(len(body))}
	return append(h.marshal(), body...)
}

func encodeDaemonInfo(pid int, flags MountFlags) []byte {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:4], uint32(pid))
	binary.LittleEndian.PutUint32(body[4:8], uint32(flags))
	h := msgHeader{MinVersion: protocolVersion, CurVersion: protocolVersion, Type: msgDaemonInfo, Size: uint32(len(body))}
	return append(h.marshal(), body...)
}

func encodeUnmountFinished(status werrors.ExitCode) []byte {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, statusCode(status))
	h := msgHeader{MinVersion: protocolVersion, CurVersion: protocolVersion, Type: msgUnmountFinished, Size: uint32(len(body))}
	return append(h.marshal(), body...)
}

// decodeMessage splits a received wire message into its validated
// header and body, applying the two rejection rules of spec.md §4.6:
// a min_version the receiver can't satisfy ("upgrade required"), or a
// declared size exceeding what was actually received ("malformed").
func decodeMessage(raw []byte) (msgHeader, []byte, error) {
	h, err := unmarshalHeader(raw)
	if err != nil {
		return msgHeader{}, nil, err
	}
	if h.MinVersion > protocolVersion {
		return h, nil, errUpgradeRequired
	}
	body := raw[msgHeaderSize:]
	if int(h.Size) > len(body) {
		return h, nil, werrors.New(werrors.InvalidUnmountMsg, fmt.Errorf("mount: message declares %d bytes, got %d", h.Size, len(body)))
	}
	return h, body[:h.Size], nil
}

var errUpgradeRequired = fmt.Errorf("mount: message version too new, upgrade required")

// statusCode maps a werrors.ExitCode onto the small integer that
// travels in UNMOUNT_FINISHED.status; 0 means success.
func statusCode(code werrors.ExitCode) uint32 {
	if code == "" {
		return 0
	}
	for i, c := range exitCodeTable {
		if c == code {
			return uint32(i + 1)
		}
	}
	return uint32(len(exitCodeTable) + 1)
}

func statusFromCode(v uint32) werrors.ExitCode {
	if v == 0 {
		return ""
	}
	i := int(v) - 1
	if i >= 0 && i < len(exitCodeTable) {
		return exitCodeTable[i]
	}
	return werrors.FuseErr
}

// exitCodeTable fixes a stable wire ordering for the named exit codes,
// independent of the Go constant declaration order in werrors.
var exitCodeTable = []werrors.ExitCode{
	werrors.InvalidParam,
	werrors.MetadataNotFound,
	werrors.NotDir,
	werrors.SplitUnsupported,
	werrors.AlreadyLocked,
	werrors.MkdirFailed,
	werrors.Mqueue,
	werrors.InvalidUnmountMsg,
	werrors.Fusermount,
	werrors.Fork,
	werrors.Timeout,
	werrors.DaemonCrashed,
	werrors.NoMem,
	werrors.FuseErr,
}

// pidAlive probes whether pid is alive via signal 0, the liveness check
// spec.md §4.6 specifies for the unmount-command side: "probe whether
// the daemon PID is alive (signal 0)."
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// serveUnmountProtocol is the daemon side of spec.md §4.6. jacobsa/fuse's
// FileSystem interface has no on-destroy callback to hook this into, so
// it runs as a background goroutine for the lifetime of the mount,
// started right after fuse.Mount succeeds: it opens the two named
// channels, waits (with a 5-second receive timeout purely to notice a
// crashed unmount-command and keep looping) for UNMOUNT_REQUEST, then
// replies DAEMON_INFO, runs the Commit Pipeline if requested, always
// removes the staging directory, and replies UNMOUNT_FINISHED. The
// actual kernel-level unmount is triggered externally by the
// unmount-command's fusermount/umount call, which is what unblocks the
// mount package caller's fuse.MountedFileSystem.Join.
func serveUnmountProtocol(mountDir string, mountFlags MountFlags, tree *inode.Tree, store *blob.Store, layer *stage.Layer, ar archive.Archive, lock *archiveLock) {
	uToD, dToU := channelNames(mountDir)

	in, err := mqOpenCreate(uToD)
	if err != nil {
		wimfslog.Errorf("mount: open unmount-request channel: %v", err)
		return
	}
	defer in.Close()
	defer mqUnlink(uToD)

	out, err := mqOpenCreate(dToU)
	if err != nil {
		wimfslog.Errorf("mount: open daemon-info channel: %v", err)
		return
	}
	defer out.Close()
	defer mqUnlink(dToU)

	for {
		raw, ok, rerr := in.Receive(5 * time.Second)
		if rerr != nil {
			wimfslog.Errorf("mount: unmount channel receive: %v", rerr)
			continue
		}
		if !ok {
			continue
		}

		hdr, body, derr := decodeMessage(raw)
		if derr == errUpgradeRequired {
			wimfslog.Errorf("mount: unmount request version too new, ignoring")
			continue
		}
		if derr != nil {
			wimfslog.Errorf("mount: malformed unmount message: %v", derr)
			continue
		}
		if hdr.Type != msgUnmountRequest || len(body) < 4 {
			continue
		}

		unmountFlags := UnmountFlags(binary.LittleEndian.Uint32(body))
		if serr := out.Send(encodeDaemonInfo(os.Getpid(), mountFlags)); serr != nil {
			wimfslog.Errorf("mount: send daemon info: %v", serr)
		}

		var status werrors.ExitCode
		if mountFlags&FlagReadWrite != 0 && unmountFlags&UnmountCommit != 0 {
			if cerr := runCommitPipeline(tree, store, layer, ar, unmountFlags); cerr != nil {
				wimfslog.Errorf("mount: commit pipeline: %v", cerr)
				status = exitCodeOf(cerr)
				if rerr := layer.Remove(); rerr != nil {
					wimfslog.Errorf("mount: remove staging directory: %v", rerr)
				}
			}
		} else if rerr := layer.Remove(); rerr != nil {
			status = werrors.InvalidParam
		}

		if lock != nil {
			lock.Unlock()
		}
		reported := string(status)
		if reported == "" {
			reported = "ok"
		}
		metrics.IncUnmountStatus(reported)
		if serr := out.Send(encodeUnmountFinished(status)); serr != nil {
			wimfslog.Errorf("mount: send unmount-finished: %v", serr)
		}
		return
	}
}

func exitCodeOf(err error) werrors.ExitCode {
	var we *werrors.Error
	if errors.As(err, &we) {
		return we.Code
	}
	return werrors.FuseErr
}

// invokeExternalUnmount is the "fusermount -u-equivalent, with fallback
// to umount" tool spec.md §4.6 calls for.
func invokeExternalUnmount(mountDir string) error {
	if err := exec.Command("fusermount", "-u", mountDir).Run(); err == nil {
		return nil
	}
	return exec.Command("umount", mountDir).Run()
}

// UnmountImage is the unmount-command side of spec.md §4.6/§6: send
// UNMOUNT_REQUEST, invoke the external unmount tool, then wait on
// DAEMON_INFO/UNMOUNT_FINISHED with the 5s-then-1s timeout and PID
// liveness probing the protocol specifies.
func UnmountImage(mountDir string, flags UnmountFlags) error {
	uToD, dToU := channelNames(mountDir)

	out, err := mqOpenCreate(uToD)
	if err != nil {
		return werrors.New(werrors.Mqueue, err)
	}
	defer out.Close()

	in, err := mqOpenCreate(dToU)
	if err != nil {
		return werrors.New(werrors.Mqueue, err)
	}
	defer in.Close()

	if err := out.Send(encodeUnmountRequest(flags)); err != nil {
		return werrors.New(werrors.Mqueue, err)
	}

	if err := invokeExternalUnmount(mountDir); err != nil {
		return werrors.New(werrors.Fusermount, err)
	}

	timeout := 5 * time.Second
	var daemonPID int
	havePID := false

	for {
		raw, ok, rerr := in.Receive(timeout)
		if rerr != nil {
			return werrors.New(werrors.Mqueue, rerr)
		}
		if !ok {
			if havePID && !pidAlive(daemonPID) {
				return werrors.New(werrors.DaemonCrashed, fmt.Errorf("mount: daemon pid %d is no longer alive", daemonPID))
			}
			continue
		}

		hdr, body, derr := decodeMessage(raw)
		if derr == errUpgradeRequired {
			continue
		}
		if derr != nil {
			return werrors.New(werrors.InvalidUnmountMsg, derr)
		}

		switch hdr.Type {
		case msgDaemonInfo:
			if len(body) < 4 {
				continue
			}
			daemonPID = int(binary.LittleEndian.Uint32(body[0:4]))
			havePID = true
			timeout = time.Second

		case msgUnmountFinished:
			if len(body) < 4 {
				return nil
			}
			status := statusFromCode(binary.LittleEndian.Uint32(body[0:4]))
			if status != "" {
				return werrors.New(status, fmt.Errorf("mount: daemon reported unmount failure"))
			}
			return nil
		}
	}
}
