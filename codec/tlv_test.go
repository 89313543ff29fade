package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNative_ScalarRoundtrip(t *testing.T) {
	v := Value{TypeID: 3, Kind: NativeInt, Int: -12345}

	buf := NewMsgBuf()
	require.NoError(t, EncodeNative(buf, v, nil))

	decoded, n, err := DecodeNative(buf.Bytes(), nil)
	require.NoError(t, err)
	require.Equal(t, buf.Len(), n)
	require.Equal(t, v, decoded)
}

func TestNative_TreeRoundtrip(t *testing.T) {
	v := Value{
		TypeID: 10,
		Kind:   NativeArray,
		Items: []Value{
			{TypeID: 1, Kind: NativeUint, Uint: 7},
			{TypeID: 2, Kind: NativeString, Str: "nested"},
			{TypeID: 3, Kind: NativeArray, Items: []Value{
				{TypeID: 4, Kind: NativeDouble, Double: 2.25},
			}},
		},
	}

	buf := NewMsgBuf()
	require.NoError(t, EncodeNative(buf, v, nil))

	decoded, _, err := DecodeNative(buf.Bytes(), nil)
	require.NoError(t, err)
	require.Equal(t, v, decoded)
}

func TestNative_TypeRemap(t *testing.T) {
	remap := NewTypeRemap([2]uint16{5, 500})

	v := Value{TypeID: 5, Kind: NativeUint, Uint: 1}
	buf := NewMsgBuf()
	require.NoError(t, EncodeNative(buf, v, remap))

	// the wire bytes should carry the remapped ID, not the local one
	wireID := uint16(buf.Bytes()[0])<<8 | uint16(buf.Bytes()[1])
	require.EqualValues(t, 500, wireID)

	decoded, _, err := DecodeNative(buf.Bytes(), remap)
	require.NoError(t, err)
	require.Equal(t, uint16(5), decoded.TypeID)
}
