package privsep

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNumberRoundTripIsLittleEndian(t *testing.T) {
	buf := make([]byte, numberSize)
	putNumber(buf, 0x0102030405060708)

	require.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, buf)
	require.Equal(t, uint64(0x0102030405060708), number(buf))
}

func TestNumberSizeIsEightBytes(t *testing.T) {
	require.Equal(t, 8, numberSize)
}
