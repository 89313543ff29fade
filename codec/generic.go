package codec

import (
	"encoding/binary"
	"math"

	"github.com/murphy-substrate/core/errs"
)

// FieldType identifies the wire type of a generic-message field value. The
// high bit (ArrayFlag) marks the field as an array of the base type; blob
// may not be combined with ArrayFlag.
type FieldType uint16

const (
	TypeString FieldType = 1
	TypeBool   FieldType = 2
	TypeU8     FieldType = 3
	TypeS8     FieldType = 4
	TypeU16    FieldType = 5
	TypeS16    FieldType = 6
	TypeU32    FieldType = 7
	TypeS32    FieldType = 8
	TypeU64    FieldType = 9
	TypeS64    FieldType = 10
	TypeDouble FieldType = 11
	TypeBlob   FieldType = 12

	// ArrayFlag, ORed with a base type, marks the field value as a []T of
	// that base type rather than a scalar T.
	ArrayFlag FieldType = 0x8000
)

// Base strips the ArrayFlag bit, returning the element type.
func (t FieldType) Base() FieldType { return t &^ ArrayFlag }

// IsArray reports whether ArrayFlag is set.
func (t FieldType) IsArray() bool { return t&ArrayFlag != 0 }

// DefaultRecordTag is the record-tag value meaning "generic tagged message"
// in the stream/datagram wire framing.
const DefaultRecordTag uint16 = 0

// Field is one {tag, type, value} triple of a generic message.
type Field struct {
	Tag   uint16
	Type  FieldType
	Value any
}

// Message is an ordered sequence of fields, encoded/decoded in order.
type Message struct {
	Fields []Field
}

// Get returns the first field with the given tag.
func (m *Message) Get(tag uint16) (Field, bool) {
	for _, f := range m.Fields {
		if f.Tag == tag {
			return f, true
		}
	}
	return Field{}, false
}

// EncodeMessage writes msg's fields into buf in order, growing buf as
// needed. It does not add the outer length/record-tag framing; callers
// combine this with EncodeFrame for the full wire shape.
func EncodeMessage(buf *MsgBuf, msg *Message) error {
	for _, f := range msg.Fields {
		if err := encodeField(buf, f); err != nil {
			return err
		}
	}
	return nil
}

func encodeField(buf *MsgBuf, f Field) error {
	hdr, err := buf.Reserve(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(hdr[0:2], f.Tag)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(f.Type))
	return encodeValue(buf, f.Type, f.Value)
}

func encodeValue(buf *MsgBuf, t FieldType, v any) error {
	if t.IsArray() {
		return encodeArray(buf, t.Base(), v)
	}
	switch t {
	case TypeString:
		return encodeString(buf, v.(string))
	case TypeBool:
		return encodeScalar(buf, 1, func(b []byte) {
			if v.(bool) {
				b[0] = 1
			} else {
				b[0] = 0
			}
		})
	case TypeU8:
		return encodeScalar(buf, 1, func(b []byte) { b[0] = v.(uint8) })
	case TypeS8:
		return encodeScalar(buf, 1, func(b []byte) { b[0] = byte(v.(int8)) })
	case TypeU16:
		return encodeScalar(buf, 2, func(b []byte) { binary.BigEndian.PutUint16(b, v.(uint16)) })
	case TypeS16:
		return encodeScalar(buf, 2, func(b []byte) { binary.BigEndian.PutUint16(b, uint16(v.(int16))) })
	case TypeU32:
		return encodeScalar(buf, 4, func(b []byte) { binary.BigEndian.PutUint32(b, v.(uint32)) })
	case TypeS32:
		return encodeScalar(buf, 4, func(b []byte) { binary.BigEndian.PutUint32(b, uint32(v.(int32))) })
	case TypeU64:
		return encodeScalar(buf, 8, func(b []byte) { binary.BigEndian.PutUint64(b, v.(uint64)) })
	case TypeS64:
		return encodeScalar(buf, 8, func(b []byte) { binary.BigEndian.PutUint64(b, uint64(v.(int64))) })
	case TypeDouble:
		return encodeScalar(buf, 8, func(b []byte) { binary.BigEndian.PutUint64(b, math.Float64bits(v.(float64))) })
	case TypeBlob:
		return encodeBlob(buf, v.([]byte))
	default:
		return errs.New(errs.KindUnsupported, "unknown field type")
	}
}

func encodeScalar(buf *MsgBuf, n int, write func([]byte)) error {
	b, err := buf.Reserve(n)
	if err != nil {
		return err
	}
	write(b)
	return nil
}

func encodeString(buf *MsgBuf, s string) error {
	b, err := buf.Reserve(4 + len(s) + 1)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b[0:4], uint32(len(s)))
	copy(b[4:4+len(s)], s)
	b[4+len(s)] = 0
	return nil
}

func encodeBlob(buf *MsgBuf, data []byte) error {
	b, err := buf.Reserve(4 + len(data))
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b[0:4], uint32(len(data)))
	copy(b[4:], data)
	return nil
}

func encodeArray(buf *MsgBuf, base FieldType, v any) error {
	if base == TypeBlob {
		return errs.New(errs.KindInvalidArgument, "blob is not a valid array element type")
	}
	n, elemAt, err := arrayAccessor(base, v)
	if err != nil {
		return err
	}
	hdr, err := buf.Reserve(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(hdr, uint32(n))
	for i := 0; i < n; i++ {
		if err := encodeValue(buf, base, elemAt(i)); err != nil {
			return err
		}
	}
	return nil
}

// arrayAccessor type-switches v into its length and a per-index value
// accessor, avoiding reflection on the common concrete slice types.
func arrayAccessor(base FieldType, v any) (int, func(int) any, error) {
	switch s := v.(type) {
	case []string:
		return len(s), func(i int) any { return s[i] }, nil
	case []bool:
		return len(s), func(i int) any { return s[i] }, nil
	case []uint8:
		if base != TypeU8 {
			break
		}
		return len(s), func(i int) any { return s[i] }, nil
	case []int8:
		return len(s), func(i int) any { return s[i] }, nil
	case []uint16:
		return len(s), func(i int) any { return s[i] }, nil
	case []int16:
		return len(s), func(i int) any { return s[i] }, nil
	case []uint32:
		return len(s), func(i int) any { return s[i] }, nil
	case []int32:
		return len(s), func(i int) any { return s[i] }, nil
	case []uint64:
		return len(s), func(i int) any { return s[i] }, nil
	case []int64:
		return len(s), func(i int) any { return s[i] }, nil
	case []float64:
		return len(s), func(i int) any { return s[i] }, nil
	}
	return 0, nil, errs.New(errs.KindInvalidArgument, "unsupported array element Go type")
}

// DecodeMessage parses a sequence of {tag,type,value} fields from data until
// it is exhausted.
func DecodeMessage(data []byte) (*Message, error) {
	msg := &Message{}
	off := 0
	for off < len(data) {
		if off+4 > len(data) {
			return nil, errs.New(errs.KindProtocol, "truncated field header")
		}
		tag := binary.BigEndian.Uint16(data[off : off+2])
		typ := FieldType(binary.BigEndian.Uint16(data[off+2 : off+4]))
		off += 4
		v, n, err := decodeValue(data[off:], typ)
		if err != nil {
			return nil, err
		}
		off += n
		msg.Fields = append(msg.Fields, Field{Tag: tag, Type: typ, Value: v})
	}
	return msg, nil
}

func decodeValue(data []byte, t FieldType) (any, int, error) {
	if t.IsArray() {
		return decodeArray(data, t.Base())
	}
	switch t {
	case TypeString:
		return decodeString(data)
	case TypeBool:
		if len(data) < 1 {
			return nil, 0, errs.New(errs.KindProtocol, "truncated bool")
		}
		return data[0] != 0, 1, nil
	case TypeU8:
		if len(data) < 1 {
			return nil, 0, errs.New(errs.KindProtocol, "truncated u8")
		}
		return data[0], 1, nil
	case TypeS8:
		if len(data) < 1 {
			return nil, 0, errs.New(errs.KindProtocol, "truncated s8")
		}
		return int8(data[0]), 1, nil
	case TypeU16:
		if len(data) < 2 {
			return nil, 0, errs.New(errs.KindProtocol, "truncated u16")
		}
		return binary.BigEndian.Uint16(data), 2, nil
	case TypeS16:
		if len(data) < 2 {
			return nil, 0, errs.New(errs.KindProtocol, "truncated s16")
		}
		return int16(binary.BigEndian.Uint16(data)), 2, nil
	case TypeU32:
		if len(data) < 4 {
			return nil, 0, errs.New(errs.KindProtocol, "truncated u32")
		}
		return binary.BigEndian.Uint32(data), 4, nil
	case TypeS32:
		if len(data) < 4 {
			return nil, 0, errs.New(errs.KindProtocol, "truncated s32")
		}
		return int32(binary.BigEndian.Uint32(data)), 4, nil
	case TypeU64:
		if len(data) < 8 {
			return nil, 0, errs.New(errs.KindProtocol, "truncated u64")
		}
		return binary.BigEndian.Uint64(data), 8, nil
	case TypeS64:
		if len(data) < 8 {
			return nil, 0, errs.New(errs.KindProtocol, "truncated s64")
		}
		return int64(binary.BigEndian.Uint64(data)), 8, nil
	case TypeDouble:
		if len(data) < 8 {
			return nil, 0, errs.New(errs.KindProtocol, "truncated double")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data)), 8, nil
	case TypeBlob:
		return decodeBlob(data)
	default:
		return nil, 0, errs.New(errs.KindUnsupported, "unknown field type")
	}
}

func decodeString(data []byte) (string, int, error) {
	if len(data) < 4 {
		return "", 0, errs.New(errs.KindProtocol, "truncated string length")
	}
	n := int(binary.BigEndian.Uint32(data))
	if len(data) < 4+n+1 {
		return "", 0, errs.New(errs.KindProtocol, "truncated string body")
	}
	return string(data[4 : 4+n]), 4 + n + 1, nil
}

func decodeBlob(data []byte) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, errs.New(errs.KindProtocol, "truncated blob length")
	}
	n := int(binary.BigEndian.Uint32(data))
	if len(data) < 4+n {
		return nil, 0, errs.New(errs.KindProtocol, "truncated blob body")
	}
	out := make([]byte, n)
	copy(out, data[4:4+n])
	return out, 4 + n, nil
}

func decodeArray(data []byte, base FieldType) (any, int, error) {
	if base == TypeBlob {
		return nil, 0, errs.New(errs.KindProtocol, "blob is not a valid array element type")
	}
	if len(data) < 4 {
		return nil, 0, errs.New(errs.KindProtocol, "truncated array length")
	}
	n := int(binary.BigEndian.Uint32(data))
	off := 4
	out := newArraySink(base, n)
	for i := 0; i < n; i++ {
		v, used, err := decodeValue(data[off:], base)
		if err != nil {
			return nil, 0, err
		}
		out.set(i, v)
		off += used
	}
	return out.value(), off, nil
}

// arraySink accumulates decoded array elements into a concretely-typed Go
// slice matching the element FieldType.
type arraySink struct {
	base FieldType
	n    int
	s    any
}

func newArraySink(base FieldType, n int) *arraySink {
	var s any
	switch base {
	case TypeString:
		s = make([]string, n)
	case TypeBool:
		s = make([]bool, n)
	case TypeU8:
		s = make([]uint8, n)
	case TypeS8:
		s = make([]int8, n)
	case TypeU16:
		s = make([]uint16, n)
	case TypeS16:
		s = make([]int16, n)
	case TypeU32:
		s = make([]uint32, n)
	case TypeS32:
		s = make([]int32, n)
	case TypeU64:
		s = make([]uint64, n)
	case TypeS64:
		s = make([]int64, n)
	case TypeDouble:
		s = make([]float64, n)
	}
	return &arraySink{base: base, n: n, s: s}
}

func (a *arraySink) set(i int, v any) {
	switch s := a.s.(type) {
	case []string:
		s[i] = v.(string)
	case []bool:
		s[i] = v.(bool)
	case []uint8:
		s[i] = v.(uint8)
	case []int8:
		s[i] = v.(int8)
	case []uint16:
		s[i] = v.(uint16)
	case []int16:
		s[i] = v.(int16)
	case []uint32:
		s[i] = v.(uint32)
	case []int32:
		s[i] = v.(int32)
	case []uint64:
		s[i] = v.(uint64)
	case []int64:
		s[i] = v.(int64)
	case []float64:
		s[i] = v.(float64)
	}
}

func (a *arraySink) value() any { return a.s }

// EncodeFrame prepends a 2-byte record-tag header to body, returning the
// combined payload that frag will wrap in a length prefix.
func EncodeFrame(recordTag uint16, body []byte) []byte {
	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out[:2], recordTag)
	copy(out[2:], body)
	return out
}

// DecodeFrame splits a FRAG-delivered payload into its record-tag and body.
func DecodeFrame(payload []byte) (recordTag uint16, body []byte, err error) {
	if len(payload) < 2 {
		return 0, nil, errs.New(errs.KindProtocol, "frame shorter than record-tag header")
	}
	return binary.BigEndian.Uint16(payload[:2]), payload[2:], nil
}
