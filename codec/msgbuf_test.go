package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMsgBuf_ReserveTrimPull(t *testing.T) {
	m := NewMsgBuf()

	b, err := m.Reserve(10)
	require.NoError(t, err)
	require.Len(t, b, 10)
	copy(b, "0123456789")

	m.Trim(4) // pretend only 6 bytes actually arrived
	require.Equal(t, 6, m.Len())
	require.Equal(t, "012345", string(m.Bytes()))

	m.Pull(2)
	require.Equal(t, "2345", string(m.Bytes()))
}

func TestMsgBuf_Steal(t *testing.T) {
	m := NewMsgBuf()
	b, err := m.Reserve(4)
	require.NoError(t, err)
	copy(b, "abcd")

	stolen := m.Steal()
	require.Equal(t, "abcd", string(stolen))
	require.Equal(t, 0, m.Len())
}

func TestMsgBuf_MaxCapacity(t *testing.T) {
	m := NewMsgBuf().WithMaxCapacity(8)
	_, err := m.Reserve(4)
	require.NoError(t, err)
	_, err = m.Reserve(8)
	require.Error(t, err)
}
