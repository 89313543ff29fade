package codec

import (
	"encoding/binary"
	"reflect"
	"sync"

	"github.com/murphy-substrate/core/errs"
)

// ArrayKind distinguishes how a schema member's array is represented in
// memory: sized, guard-terminated, or fixed-size. All three
// share the same on-the-wire {count, elements...} shape; the kind only
// changes how the in-memory Go value is produced on decode and consumed on
// encode.
type ArrayKind int

const (
	// ArraySized takes its length from another named member (encoded
	// separately, as its own scalar field); the wire count for the array
	// itself is still carried explicitly.
	ArraySized ArrayKind = iota
	// ArrayGuardTerminated stores an in-memory slice whose last element is
	// a sentinel guard value. The guard is stripped before encoding and
	// re-appended after decoding, so it round-trips without being sent
	// redundantly as just another wire element with no special meaning.
	ArrayGuardTerminated
	// ArrayFixed maps to a fixed-size Go array field ([N]T) rather than a
	// slice.
	ArrayFixed
)

// ArrayMeta describes a schema member that holds an array.
type ArrayMeta struct {
	Kind        ArrayKind
	LengthField string // informational for ArraySized; not cross-checked
	Guard       any    // sentinel value for ArrayGuardTerminated
	FixedLen    int    // expected length for ArrayFixed
}

// Member describes one field of a schema-registered struct.
type Member struct {
	Name  string // Go struct field name
	Tag   uint16
	Type  FieldType // base type; Array != nil implies this repeats
	Array *ArrayMeta
	// Indirect marks a string member as held by pointer rather than inlined
	// in the original C layout. Murphy's Go reimplementation always stores
	// strings as Go string values regardless, so this is metadata only
	// (preserved for grounding/documentation, not consulted by encode or
	// decode).
	Indirect bool
}

// Descriptor names a registered struct type: its record-type tag, its Go
// reflect.Type, and its ordered member list.
type Descriptor struct {
	Tag     uint16
	GoType  reflect.Type
	Members []Member
}

var (
	registryMu sync.RWMutex
	registry   = map[uint16]*Descriptor{}
)

// RegisterType adds desc to the process-wide schema registry, keyed by its
// record-type tag. Tag 0 is reserved for the generic codec and may not be
// registered here.
func RegisterType(desc *Descriptor) error {
	if desc.Tag == DefaultRecordTag {
		return errs.New(errs.KindInvalidArgument, "tag 0 is reserved for the generic codec")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[desc.Tag]; ok {
		return errs.New(errs.KindExists, "record-type tag already registered")
	}
	registry[desc.Tag] = desc
	return nil
}

// LookupType returns the descriptor registered for tag, if any.
func LookupType(tag uint16) (*Descriptor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[tag]
	return d, ok
}

// EncodeStruct writes v (a struct or pointer to struct matching
// desc.GoType) using desc's member list, prefixed by the record-type tag
// header.
func EncodeStruct(desc *Descriptor, v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}

	buf := NewMsgBuf()
	hdr, err := buf.Reserve(2)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(hdr, desc.Tag)

	for _, m := range desc.Members {
		fv := rv.FieldByName(m.Name)
		if !fv.IsValid() {
			return nil, errs.New(errs.KindInvalidArgument, "schema member not found on value: "+m.Name)
		}

		if m.Array == nil {
			if err := encodeField(buf, Field{Tag: m.Tag, Type: m.Type, Value: fv.Interface()}); err != nil {
				return nil, err
			}
			continue
		}

		wireValue, err := encodeArrayMember(fv, m.Array)
		if err != nil {
			return nil, err
		}
		if err := encodeField(buf, Field{Tag: m.Tag, Type: m.Type | ArrayFlag, Value: wireValue}); err != nil {
			return nil, err
		}
	}
	return buf.Steal(), nil
}

func encodeArrayMember(fv reflect.Value, meta *ArrayMeta) (any, error) {
	sv := fv
	if sv.Kind() == reflect.Array {
		s := reflect.MakeSlice(reflect.SliceOf(sv.Type().Elem()), sv.Len(), sv.Len())
		reflect.Copy(s, sv)
		sv = s
	}
	if sv.Kind() != reflect.Slice {
		return nil, errs.New(errs.KindInvalidArgument, "array member is neither slice nor array")
	}

	switch meta.Kind {
	case ArrayGuardTerminated:
		if sv.Len() > 0 && reflect.DeepEqual(sv.Index(sv.Len()-1).Interface(), meta.Guard) {
			sv = sv.Slice(0, sv.Len()-1)
		}
	case ArrayFixed:
		if sv.Len() != meta.FixedLen {
			return nil, errs.New(errs.KindInvalidArgument, "fixed array member has wrong length")
		}
	}
	return sv.Interface(), nil
}

// DecodeStruct decodes data (as produced by EncodeStruct) into a freshly
// allocated, zero-filled value of desc.GoType, returning a pointer to it.
func DecodeStruct(desc *Descriptor, data []byte) (any, error) {
	if len(data) < 2 {
		return nil, errs.New(errs.KindProtocol, "truncated struct record-tag header")
	}
	tag := binary.BigEndian.Uint16(data[:2])
	if tag != desc.Tag {
		return nil, errs.New(errs.KindUnsupported, "record-type tag does not match descriptor")
	}
	off := 2

	rv := reflect.New(desc.GoType).Elem()

	for _, m := range desc.Members {
		if off+4 > len(data) {
			return nil, errs.New(errs.KindProtocol, "truncated member field header")
		}
		_ = binary.BigEndian.Uint16(data[off : off+2]) // wire tag, not cross-checked against schema order
		ftype := FieldType(binary.BigEndian.Uint16(data[off+2 : off+4]))
		off += 4

		v, n, err := decodeValue(data[off:], ftype)
		if err != nil {
			return nil, err
		}
		off += n

		fv := rv.FieldByName(m.Name)
		if !fv.IsValid() {
			return nil, errs.New(errs.KindInvalidArgument, "schema member not found on type: "+m.Name)
		}

		if m.Array == nil {
			fv.Set(reflect.ValueOf(v))
			continue
		}
		if err := setArrayMember(fv, m.Array, v); err != nil {
			return nil, err
		}
	}

	return rv.Addr().Interface(), nil
}

func setArrayMember(fv reflect.Value, meta *ArrayMeta, decoded any) error {
	sv := reflect.ValueOf(decoded)

	switch meta.Kind {
	case ArrayGuardTerminated:
		guard := reflect.ValueOf(meta.Guard).Convert(sv.Type().Elem())
		sv = reflect.Append(sv, guard)
		fv.Set(sv)
	case ArrayFixed:
		if fv.Kind() != reflect.Array {
			return errs.New(errs.KindInvalidArgument, "ArrayFixed member is not a Go array")
		}
		if sv.Len() != fv.Len() {
			return errs.New(errs.KindProtocol, "wire array length does not match fixed schema length")
		}
		reflect.Copy(fv, sv)
	default: // ArraySized
		fv.Set(sv)
	}
	return nil
}
