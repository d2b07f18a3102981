package schema

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// encodeValue writes value's fixed-width encoding for field f into dst,
// which must already be sized to f.width(). Unlike a variable-length coder,
// every field here has a byte width fixed by the Schema, which is what lets
// MetaHeap address records at o, o+R, o+2R, ... without a length prefix.
func encodeValue(f Field, dst []byte, value any) error {
	switch f.Type {
	case TypeInt:
		v, err := toInt64(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		binary.LittleEndian.PutUint64(dst, uint64(v))
		return nil

	case TypeFloat:
		v, err := toFloat64(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
		return nil

	case TypeBool:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("field %q: expected bool, got %#v", f.Name, value)
		}
		if v {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
		return nil

	case TypeString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q: expected string, got %#v", f.Name, value)
		}
		return encodeFixedString(f, dst, s)

	default:
		return fmt.Errorf("field %q: unknown field type", f.Name)
	}
}

// decodeValue is the inverse of encodeValue.
func decodeValue(f Field, src []byte) (any, error) {
	switch f.Type {
	case TypeInt:
		return int64(binary.LittleEndian.Uint64(src)), nil
	case TypeFloat:
		return math.Float64frombits(binary.LittleEndian.Uint64(src)), nil
	case TypeBool:
		return src[0] != 0, nil
	case TypeString:
		return decodeFixedString(src), nil
	default:
		return nil, fmt.Errorf("field %q: unknown field type", f.Name)
	}
}

// encodeFixedString validates s is valid UTF-8, fits within f.StringMaxLen
// bytes, and zero-pads the remainder, mirroring the rune-counting validation
// dca's coderString performs before writing.
func encodeFixedString(f Field, dst []byte, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("field %q: value is not valid utf8", f.Name)
	}
	if len(s) > len(dst) {
		return fmt.Errorf("field %q: value is %d bytes, max allowed is %d", f.Name, len(s), len(dst))
	}
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func decodeFixedString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("expected int, got %#v", value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("expected float, got %#v", value)
	}
}
