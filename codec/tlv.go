package codec

import (
	"encoding/binary"
	"math"

	"github.com/murphy-substrate/core/errs"
)

// NativeKind is the wire discriminator for one node of a native/TLV value
// tree. Unlike the generic codec's FieldType, integer kinds are not split
// by width on the wire: all integers travel as the widest signed or
// unsigned 64-bit form and are narrowed by the caller after decode.
type NativeKind uint8

const (
	NativeInt NativeKind = iota
	NativeUint
	NativeDouble
	NativeString
	NativeBlob
	NativeArray
)

// Value is one node of a native/TLV tree. Exactly one of the scalar fields
// (Int, Uint, Double, Str, Blob) is meaningful, selected by Kind, except
// for NativeArray where Items holds the children.
type Value struct {
	TypeID uint16
	Kind   NativeKind

	Int    int64
	Uint   uint64
	Double float64
	Str    string
	Blob   []byte
	Items  []Value
}

// TypeRemap translates type IDs between two endpoints that assigned
// different dynamic IDs to the same structural type, for TLV's native
// mode option.
type TypeRemap struct {
	localToWire map[uint16]uint16
	wireToLocal map[uint16]uint16
}

// NewTypeRemap builds a TypeRemap from (local, wire) ID pairs.
func NewTypeRemap(pairs ...[2]uint16) *TypeRemap {
	r := &TypeRemap{
		localToWire: make(map[uint16]uint16, len(pairs)),
		wireToLocal: make(map[uint16]uint16, len(pairs)),
	}
	for _, p := range pairs {
		r.localToWire[p[0]] = p[1]
		r.wireToLocal[p[1]] = p[0]
	}
	return r
}

func (r *TypeRemap) toWire(id uint16) uint16 {
	if r == nil {
		return id
	}
	if w, ok := r.localToWire[id]; ok {
		return w
	}
	return id
}

func (r *TypeRemap) toLocal(id uint16) uint16 {
	if r == nil {
		return id
	}
	if l, ok := r.wireToLocal[id]; ok {
		return l
	}
	return id
}

// EncodeNative serializes v recursively into buf.
func EncodeNative(buf *MsgBuf, v Value, remap *TypeRemap) error {
	hdr, err := buf.Reserve(3)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(hdr[0:2], remap.toWire(v.TypeID))
	hdr[2] = byte(v.Kind)

	switch v.Kind {
	case NativeInt:
		b, err := buf.Reserve(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(b, uint64(v.Int))
	case NativeUint:
		b, err := buf.Reserve(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(b, v.Uint)
	case NativeDouble:
		b, err := buf.Reserve(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(b, math.Float64bits(v.Double))
	case NativeString:
		b, err := buf.Reserve(4 + len(v.Str))
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(b[:4], uint32(len(v.Str)))
		copy(b[4:], v.Str)
	case NativeBlob:
		b, err := buf.Reserve(4 + len(v.Blob))
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(b[:4], uint32(len(v.Blob)))
		copy(b[4:], v.Blob)
	case NativeArray:
		cb, err := buf.Reserve(4)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(cb, uint32(len(v.Items)))
		for _, it := range v.Items {
			if err := EncodeNative(buf, it, remap); err != nil {
				return err
			}
		}
	default:
		return errs.New(errs.KindUnsupported, "unknown native value kind")
	}
	return nil
}

// DecodeNative parses one native/TLV value (recursively) from the front of
// data, returning the value and the number of bytes consumed.
func DecodeNative(data []byte, remap *TypeRemap) (Value, int, error) {
	if len(data) < 3 {
		return Value{}, 0, errs.New(errs.KindProtocol, "truncated native value header")
	}
	typeID := remap.toLocal(binary.BigEndian.Uint16(data[0:2]))
	kind := NativeKind(data[2])
	off := 3

	v := Value{TypeID: typeID, Kind: kind}

	switch kind {
	case NativeInt:
		if len(data) < off+8 {
			return Value{}, 0, errs.New(errs.KindProtocol, "truncated native int")
		}
		v.Int = int64(binary.BigEndian.Uint64(data[off:]))
		off += 8
	case NativeUint:
		if len(data) < off+8 {
			return Value{}, 0, errs.New(errs.KindProtocol, "truncated native uint")
		}
		v.Uint = binary.BigEndian.Uint64(data[off:])
		off += 8
	case NativeDouble:
		if len(data) < off+8 {
			return Value{}, 0, errs.New(errs.KindProtocol, "truncated native double")
		}
		v.Double = math.Float64frombits(binary.BigEndian.Uint64(data[off:]))
		off += 8
	case NativeString:
		if len(data) < off+4 {
			return Value{}, 0, errs.New(errs.KindProtocol, "truncated native string length")
		}
		n := int(binary.BigEndian.Uint32(data[off:]))
		off += 4
		if len(data) < off+n {
			return Value{}, 0, errs.New(errs.KindProtocol, "truncated native string body")
		}
		v.Str = string(data[off : off+n])
		off += n
	case NativeBlob:
		if len(data) < off+4 {
			return Value{}, 0, errs.New(errs.KindProtocol, "truncated native blob length")
		}
		n := int(binary.BigEndian.Uint32(data[off:]))
		off += 4
		if len(data) < off+n {
			return Value{}, 0, errs.New(errs.KindProtocol, "truncated native blob body")
		}
		v.Blob = append([]byte(nil), data[off:off+n]...)
		off += n
	case NativeArray:
		if len(data) < off+4 {
			return Value{}, 0, errs.New(errs.KindProtocol, "truncated native array count")
		}
		n := int(binary.BigEndian.Uint32(data[off:]))
		off += 4
		v.Items = make([]Value, n)
		for i := 0; i < n; i++ {
			item, used, err := DecodeNative(data[off:], remap)
			if err != nil {
				return Value{}, 0, err
			}
			v.Items[i] = item
			off += used
		}
	default:
		return Value{}, 0, errs.New(errs.KindUnsupported, "unknown native value kind")
	}

	return v, off, nil
}
