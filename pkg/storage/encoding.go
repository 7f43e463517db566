// ABOUTME: Order-preserving encoding for composite keys
// ABOUTME: Byte strings are escaped and NUL-terminated, uint64s are big-endian

package storage

import (
	"encoding/binary"
	"fmt"
)

// Value types for composite keys
const (
	TYPE_BYTES  = 1
	TYPE_UINT64 = 3
)

// Value represents a single column of a composite key
type Value struct {
	Type uint8
	Str  []byte
	U64  uint64
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return NewBytesValue([]byte(s))
}

// NewUint64Value creates a uint64 value
func NewUint64Value(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

// EncodeValues encodes values so that byte order matches column order.
// A string column never is a prefix of a longer string column.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, v.Type)
		switch v.Type {
		case TYPE_UINT64:
			out = binary.BigEndian.AppendUint64(out, v.U64)
		case TYPE_BYTES:
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)
		default:
			panic(fmt.Sprintf("unknown type: %d", v.Type))
		}
	}
	return out
}

// escapeString keeps 0x00 out of the payload: 0x00 -> 0x01 0x01, 0x01 -> 0x01 0x02
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b <= 1 {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}
	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		if b <= 1 {
			out = append(out, 0x01, b+1)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x01 && i+1 < len(s) {
			i++
			out = append(out, s[i]-1)
			continue
		}
		out = append(out, s[i])
	}
	return out
}

// DecodeValues reverses EncodeValues
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	for pos := 0; pos < len(data); {
		typ := data[pos]
		pos++
		switch typ {
		case TYPE_UINT64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete uint64 at pos %d", pos)
			}
			vals = append(vals, NewUint64Value(binary.BigEndian.Uint64(data[pos:pos+8])))
			pos += 8
		case TYPE_BYTES:
			end := pos
			for end < len(data) && data[end] != 0 {
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("unterminated string at pos %d", pos)
			}
			vals = append(vals, NewBytesValue(unescapeString(data[pos:end])))
			pos = end + 1
		default:
			return nil, fmt.Errorf("unknown type: %d at pos %d", typ, pos-1)
		}
	}
	return vals, nil
}

// EncodeKey prepends a 4-byte table prefix to the encoded values
func EncodeKey(prefix uint32, vals []Value) []byte {
	out := binary.BigEndian.AppendUint32(make([]byte, 0, 64), prefix)
	return append(out, EncodeValues(vals)...)
}

// ExtractValues decodes the values of an encoded key
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("key too short")
	}
	return DecodeValues(key[4:])
}
