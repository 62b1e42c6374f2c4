package privsep

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	out := NewBuffer()
	out.PushString(CmdSign)
	out.PushNumber(7)

	var wire bytes.Buffer
	require.NoError(t, WriteFrame(&wire, out))

	in, err := ReadFrame(&wire)
	require.NoError(t, err)
	defer in.Dispose()

	cmd, err := in.ShiftString()
	require.NoError(t, err)
	require.Equal(t, CmdSign, cmd)

	n, err := in.ShiftNumber()
	require.NoError(t, err)
	require.Equal(t, uint64(7), n)
}

func TestWriteFrameEmptyPayload(t *testing.T) {
	out := NewBuffer()
	var wire bytes.Buffer
	require.NoError(t, WriteFrame(&wire, out))
	require.Equal(t, numberSize, wire.Len())
}

func TestReadFrameTruncatedHeaderIsConnectionClosed(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}))
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadFrameTruncatedPayloadIsConnectionClosed(t *testing.T) {
	out := NewBuffer()
	out.PushBytes([]byte("this payload will be cut short"))

	var wire bytes.Buffer
	require.NoError(t, WriteFrame(&wire, out))

	truncated := wire.Bytes()[:wire.Len()-5]
	_, err := ReadFrame(bytes.NewReader(truncated))
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadFrameOversizedPayloadRejected(t *testing.T) {
	var header [numberSize]byte
	putNumber(header[:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(header[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameOnEOFReportsConnectionClosed(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.NotErrorIs(t, err, io.ErrClosedPipe)
}
