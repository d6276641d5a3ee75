package evmclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeftPad32PadsShortInput(t *testing.T) {
	out := leftPad32([]byte{0xaa, 0xbb})
	require.Len(t, out, 32)
	require.Equal(t, []byte{0xaa, 0xbb}, out[30:])
	for _, b := range out[:30] {
		require.Equal(t, byte(0), b)
	}
}

func TestLeftPad32TruncatesLongInput(t *testing.T) {
	in := make([]byte, 40)
	for i := range in {
		in[i] = byte(i)
	}
	out := leftPad32(in)
	require.Len(t, out, 32)
	require.Equal(t, in[8:], out)
}

func TestLeftPad32LeavesExactLengthUnchanged(t *testing.T) {
	in := make([]byte, 32)
	in[0] = 0xff
	out := leftPad32(in)
	require.Equal(t, in, out)
}
