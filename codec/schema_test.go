package codec

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

// schemaStructFixture mirrors scenario S6: {u16, sentinel-terminated s32
// array [1,2,3,-1], inlined string "hello"}.
type schemaStructFixture struct {
	ID     uint16
	Values []int32
	Name   string
}

const schemaFixtureTag uint16 = 7

func init() {
	desc := &Descriptor{
		Tag:    schemaFixtureTag,
		GoType: reflect.TypeOf(schemaStructFixture{}),
		Members: []Member{
			{Name: "ID", Tag: 1, Type: TypeU16},
			{Name: "Values", Tag: 2, Type: TypeS32, Array: &ArrayMeta{
				Kind:  ArrayGuardTerminated,
				Guard: int32(-1),
			}},
			{Name: "Name", Tag: 3, Type: TypeString},
		},
	}
	if err := RegisterType(desc); err != nil {
		panic(err)
	}
}

func TestSchemaStruct_S6Roundtrip(t *testing.T) {
	desc, ok := LookupType(schemaFixtureTag)
	require.True(t, ok)

	original := schemaStructFixture{
		ID:     99,
		Values: []int32{1, 2, 3, -1},
		Name:   "hello",
	}

	data, err := EncodeStruct(desc, &original)
	require.NoError(t, err)

	decodedAny, err := DecodeStruct(desc, data)
	require.NoError(t, err)

	decoded := decodedAny.(*schemaStructFixture)
	require.Equal(t, original, *decoded)
}

func TestSchemaStruct_WrongRecordTagRejected(t *testing.T) {
	desc, _ := LookupType(schemaFixtureTag)
	data, err := EncodeStruct(desc, &schemaStructFixture{ID: 1, Values: []int32{-1}, Name: "x"})
	require.NoError(t, err)
	data[1] ^= 0xff // corrupt the low byte of the record-tag header

	_, err = DecodeStruct(desc, data)
	require.Error(t, err)
}

type fixedArrayFixture struct {
	Codes [4]uint8
}

func TestSchemaStruct_FixedArray(t *testing.T) {
	desc := &Descriptor{
		Tag:    8,
		GoType: reflect.TypeOf(fixedArrayFixture{}),
		Members: []Member{
			{Name: "Codes", Tag: 1, Type: TypeU8, Array: &ArrayMeta{Kind: ArrayFixed, FixedLen: 4}},
		},
	}

	original := fixedArrayFixture{Codes: [4]uint8{9, 8, 7, 6}}
	data, err := EncodeStruct(desc, &original)
	require.NoError(t, err)

	decodedAny, err := DecodeStruct(desc, data)
	require.NoError(t, err)
	require.Equal(t, original, *decodedAny.(*fixedArrayFixture))
}
