package frag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuffer_P2FramingOrder(t *testing.T) {
	b := New()

	payloads := [][]byte{
		[]byte("hello"),
		[]byte("a longer payload with more bytes in it"),
		{},
		[]byte("x"),
	}
	for _, p := range payloads {
		require.NoError(t, b.PushFrame(p))
	}

	for i, want := range payloads {
		got, ok, err := b.Pull()
		require.NoError(t, err)
		require.Truef(t, ok, "frame %d should be available", i)
		require.Equal(t, want, got)
	}

	_, ok, err := b.Pull()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuffer_PartialFrameNotYetAvailable(t *testing.T) {
	b := New()

	full, err := b.Alloc(4 + 10)
	require.NoError(t, err)
	// simulate a length-prefixed 10-byte frame, write the header, but only
	// actually deliver 3 bytes of payload from the "socket"
	full[0], full[1], full[2], full[3] = 0, 0, 0, 10
	copy(full[4:], "abc")
	b.Trim(7) // only length header + 3 bytes actually arrived

	_, ok, err := b.Pull()
	require.NoError(t, err)
	require.False(t, ok, "incomplete frame must not be pulled")

	more, err := b.Alloc(7)
	require.NoError(t, err)
	copy(more, "defghij")

	got, ok, err := b.Pull()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abcdefghij", string(got))
}

func TestBuffer_MaxFrameCeiling(t *testing.T) {
	b := New(WithMaxFrame(8))
	require.NoError(t, b.PushFrame(make([]byte, 100)))

	_, _, err := b.Pull()
	require.Error(t, err)
}
