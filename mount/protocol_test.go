package mount

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzr/wimlib/werrors"
)

func TestChannelNamesEscapeSlashes(t *testing.T) {
	uToD, dToU := channelNames("/mnt/my-wim")
	assert.Equal(t, "/wimlib-unmount-to-daemon-mq\xffmnt\xffmy-wim", uToD)
	assert.Equal(t, "/wimlib-daemon-to-unmount-mq\xffmnt\xffmy-wim", dToU)
	assert.NotEqual(t, uToD, dToU)
}

func TestStatusCodeRoundTrip(t *testing.T) {
	assert.Equal(t, werrors.ExitCode(""), statusFromCode(statusCode("")))
	for _, code := range exitCodeTable {
		got := statusFromCode(statusCode(code))
		assert.Equal(t, code, got)
	}
}

func TestEncodeDecodeUnmountRequestRoundTrip(t *testing.T) {
	raw := encodeUnmountRequest(UnmountCommit | UnmountRebuild)
	hdr, body, err := decodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, msgUnmountRequest, hdr.Type)
	require.Len(t, body, 4)
}

func TestDecodeMessageRejectsShortBody(t *testing.T) {
	raw := encodeDaemonInfo(1234, FlagReadWrite)
	truncated := raw[:len(raw)-2]
	_, _, err := decodeMessage(truncated)
	assert.Error(t, err)
}

func TestDecodeMessageRejectsNewerMinVersion(t *testing.T) {
	h := msgHeader{MinVersion: protocolVersion + 1, CurVersion: protocolVersion + 1, Type: msgUnmountFinished, Size: 0}
	_, _, err := decodeMessage(h.marshal())
	assert.ErrorIs(t, err, errUpgradeRequired)
}

func TestPidAliveForCurrentProcess(t *testing.T) {
	assert.True(t, pidAlive(os.Getpid()))
}

func TestPidAliveForImplausiblePID(t *testing.T) {
	// PIDs this large cannot exist under Linux's default pid_max; used
	// here only as a pid guaranteed not to resolve to a live process.
	assert.False(t, pidAlive(1<<30))
}
