package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeJSON_Smoke(t *testing.T) {
	msg := &Message{Fields: []Field{
		{Tag: 1, Type: TypeU32, Value: uint32(42)},
		{Tag: 2, Type: TypeString, Value: "hi \"there\""},
		{Tag: 3, Type: TypeU32 | ArrayFlag, Value: []uint32{1, 2, 3}},
	}}

	out, err := EncodeJSON(msg)
	require.NoError(t, err)
	require.Equal(t, `{"1":42,"2":"hi \"there\"","3":[1,2,3]}`, string(out))
}
