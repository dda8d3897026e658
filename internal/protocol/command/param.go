package command

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// Type is the wire representation of one command parameter. Multi-byte
// values are big-endian.
type Type int

// Parameter types. Bytes, CString and F32List consume the rest of the
// payload and may only appear last.
const (
	U8 Type = iota + 1
	U16
	U32
	I16
	Bool
	F32
	Bytes
	CString
	F32List
)

var typeNames = map[Type]string{
	U8: "u8", U16: "u16", U32: "u32", I16: "i16", Bool: "bool",
	F32: "f32", Bytes: "bytes", CString: "string", F32List: "[]f32",
}

// String returns the short type name used in listings.
func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", int(t))
}

func (t Type) variable() bool {
	return t == Bytes || t == CString || t == F32List
}

// Param describes one positional argument.
type Param struct {
	Name string
	Type Type
}

func (p Param) String() string {
	return p.Name + ":" + p.Type.String()
}

// appendValue validates v against the parameter type and appends its wire
// bytes to dst.
func (p Param) appendValue(dst []byte, v any) ([]byte, error) {
	switch p.Type {
	case U8, U16, U32, I16:
		n, err := toInt(v)
		if err != nil {
			return nil, p.fail(v, err.Error())
		}
		lo, hi := intRange(p.Type)
		if n < lo || n > hi {
			return nil, p.fail(v, fmt.Sprintf("out of range %d..%d", lo, hi))
		}
		switch p.Type {
		case U8:
			return append(dst, byte(n)), nil
		case U16:
			return binary.BigEndian.AppendUint16(dst, uint16(n)), nil
		case I16:
			return binary.BigEndian.AppendUint16(dst, uint16(int16(n))), nil
		default:
			return binary.BigEndian.AppendUint32(dst, uint32(n)), nil
		}

	case Bool:
		b, err := toBool(v)
		if err != nil {
			return nil, p.fail(v, err.Error())
		}
		if b {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil

	case F32:
		f, err := toFloat(v)
		if err != nil {
			return nil, p.fail(v, err.Error())
		}
		if !fitsFloat32(f) {
			return nil, p.fail(v, "not representable as float32")
		}
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(f))), nil

	case F32List:
		fs, err := toFloatList(v)
		if err != nil {
			return nil, p.fail(v, err.Error())
		}
		for i, f := range fs {
			if !fitsFloat32(f) {
				return nil, p.fail(v, fmt.Sprintf("element %d not representable as float32", i))
			}
			dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(f)))
		}
		return dst, nil

	case Bytes:
		b, err := toBytes(v)
		if err != nil {
			return nil, p.fail(v, err.Error())
		}
		return append(dst, b...), nil

	case CString:
		var s []byte
		switch x := v.(type) {
		case string:
			s = []byte(x)
		case []byte:
			s = x
		default:
			return nil, p.fail(v, "want a string")
		}
		if bytes.IndexByte(s, 0) >= 0 {
			return nil, p.fail(v, "contains a NUL byte")
		}
		dst = append(dst, s...)
		return append(dst, 0), nil
	}
	return nil, fmt.Errorf("%w: parameter %s has unsupported type %v", packet.ErrEncoding, p.Name, p.Type)
}

func (p Param) fail(v any, why string) error {
	return fmt.Errorf("%w: %s=%v: %s", packet.ErrEncoding, p.Name, v, why)
}

func intRange(t Type) (int64, int64) {
	switch t {
	case U8:
		return 0, math.MaxUint8
	case U16:
		return 0, math.MaxUint16
	case I16:
		return math.MinInt16, math.MaxInt16
	default:
		return 0, math.MaxUint32
	}
}

// toInt accepts Go integers, integral floats (JSON numbers), json.Number and
// decimal or 0x-prefixed strings (command-line arguments).
func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintToInt(uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return uintToInt(n)
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 0, 64)
	default:
		return 0, fmt.Errorf("want an integer, got %T", v)
	}
}

func uintToInt(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("integer overflow")
	}
	return int64(n), nil
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("want an integer, got %v", f)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("integer overflow")
	}
	return int64(f), nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	}
	n, err := toInt(v)
	if err != nil {
		return false, fmt.Errorf("want a boolean, got %T", v)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("want a boolean, got %d", n)
}

func toFloat(v any) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case json.Number:
		return f.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(f), 64)
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("want a number, got %T", v)
	}
	return float64(n), nil
}

func toFloatList(v any) ([]float64, error) {
	switch l := v.(type) {
	case []float64:
		return l, nil
	case []float32:
		out := make([]float64, len(l))
		for i, f := range l {
			out[i] = float64(f)
		}
		return out, nil
	case []any:
		out := make([]float64, len(l))
		for i, e := range l {
			f, err := toFloat(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	case string:
		var out []float64
		for _, part := range strings.Split(l, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			f, err := toFloat(part)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("want a list of numbers, got %T", v)
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case []int:
		out := make([]byte, len(b))
		for i, n := range b {
			if n < 0 || n > math.MaxUint8 {
				return nil, fmt.Errorf("element %d out of range 0..255", i)
			}
			out[i] = byte(n)
		}
		return out, nil
	case []any:
		out := make([]byte, len(b))
		for i, e := range b {
			n, err := toInt(e)
			if err != nil || n < 0 || n > math.MaxUint8 {
				return nil, fmt.Errorf("element %d is not a byte", i)
			}
			out[i] = byte(n)
		}
		return out, nil
	}
	return nil, fmt.Errorf("want bytes, got %T", v)
}

func fitsFloat32(f float64) bool {
	return f <= math.MaxFloat32 && f >= -math.MaxFloat32 && !math.IsNaN(f)
}
