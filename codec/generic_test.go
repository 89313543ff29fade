package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenericMessage_Roundtrip(t *testing.T) {
	msg := &Message{Fields: []Field{
		{Tag: 1, Type: TypeU32, Value: uint32(42)},
		{Tag: 2, Type: TypeString, Value: "hi"},
		{Tag: 3, Type: TypeDouble, Value: 3.5},
		{Tag: 4, Type: TypeU32 | ArrayFlag, Value: []uint32{1, 2, 3}},
		{Tag: 5, Type: TypeBlob, Value: []byte{0xde, 0xad, 0xbe, 0xef}},
	}}

	buf := NewMsgBuf()
	require.NoError(t, EncodeMessage(buf, msg))

	decoded, err := DecodeMessage(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, msg.Fields, decoded.Fields)
}

func TestGenericMessage_S1EchoShape(t *testing.T) {
	msg := &Message{Fields: []Field{
		{Tag: 1, Type: TypeU32, Value: uint32(42)},
		{Tag: 2, Type: TypeString, Value: "hi"},
	}}

	buf := NewMsgBuf()
	require.NoError(t, EncodeMessage(buf, msg))

	framed := EncodeFrame(DefaultRecordTag, buf.Bytes())

	recordTag, body, err := DecodeFrame(framed)
	require.NoError(t, err)
	require.Equal(t, DefaultRecordTag, recordTag)

	decoded, err := DecodeMessage(body)
	require.NoError(t, err)
	require.Equal(t, msg.Fields, decoded.Fields)
}

func TestGenericMessage_TruncatedFails(t *testing.T) {
	_, err := DecodeMessage([]byte{0, 1, 0})
	require.Error(t, err)
}

func TestGenericMessage_BlobArrayRejected(t *testing.T) {
	buf := NewMsgBuf()
	err := EncodeMessage(buf, &Message{Fields: []Field{
		{Tag: 1, Type: TypeBlob | ArrayFlag, Value: [][]byte{{1}}},
	}})
	require.Error(t, err)
}
