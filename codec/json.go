package codec

import (
	"strconv"

	"github.com/joeycumines/go-utilpkg/jsonenc"

	"github.com/murphy-substrate/core/errs"
)

// EncodeJSON renders msg as a JSON object, keyed by decimal field tag,
// using jsonenc for number and string formatting rather than encoding/json
// (the transport's "json" payload mode is a wire format choice, not a
// license to pull in reflection-based marshaling for a handful of scalar
// and array field kinds).
func EncodeJSON(msg *Message) ([]byte, error) {
	out := make([]byte, 0, 256)
	out = append(out, '{')
	for i, f := range msg.Fields {
		if i > 0 {
			out = append(out, ',')
		}
		out = jsonenc.AppendString(out, strconv.FormatUint(uint64(f.Tag), 10))
		out = append(out, ':')
		var err error
		out, err = appendJSONValue(out, f.Type, f.Value)
		if err != nil {
			return nil, err
		}
	}
	out = append(out, '}')
	return out, nil
}

func appendJSONValue(dst []byte, t FieldType, v any) ([]byte, error) {
	if t.IsArray() {
		return appendJSONArray(dst, t.Base(), v)
	}
	switch t {
	case TypeString:
		return jsonenc.AppendString(dst, v.(string)), nil
	case TypeBool:
		if v.(bool) {
			return append(dst, "true"...), nil
		}
		return append(dst, "false"...), nil
	case TypeU8:
		return strconv.AppendUint(dst, uint64(v.(uint8)), 10), nil
	case TypeS8:
		return strconv.AppendInt(dst, int64(v.(int8)), 10), nil
	case TypeU16:
		return strconv.AppendUint(dst, uint64(v.(uint16)), 10), nil
	case TypeS16:
		return strconv.AppendInt(dst, int64(v.(int16)), 10), nil
	case TypeU32:
		return strconv.AppendUint(dst, uint64(v.(uint32)), 10), nil
	case TypeS32:
		return strconv.AppendInt(dst, int64(v.(int32)), 10), nil
	case TypeU64:
		return strconv.AppendUint(dst, v.(uint64), 10), nil
	case TypeS64:
		return strconv.AppendInt(dst, v.(int64), 10), nil
	case TypeDouble:
		return jsonenc.AppendFloat64(dst, v.(float64)), nil
	case TypeBlob:
		return jsonenc.AppendString(dst, string(v.([]byte))), nil
	default:
		return nil, errs.New(errs.KindUnsupported, "unknown field type")
	}
}

func appendJSONArray(dst []byte, base FieldType, v any) ([]byte, error) {
	n, elemAt, err := arrayAccessor(base, v)
	if err != nil {
		return nil, err
	}
	dst = append(dst, '[')
	for i := 0; i < n; i++ {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst, err = appendJSONValue(dst, base, elemAt(i))
		if err != nil {
			return nil, err
		}
	}
	dst = append(dst, ']')
	return dst, nil
}
