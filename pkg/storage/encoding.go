// ABOUTME: Order-preserving encoding for composite index keys
// ABOUTME: Byte strings are escaped and null-terminated so prefixes scan correctly

package storage

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Value types for composite keys
const (
	TYPE_BYTES  = 1
	TYPE_INT64  = 2
	TYPE_UINT64 = 3
	TYPE_TIME   = 4 // Stored as int64 Unix nanoseconds
)

// Value represents a single column in a composite key
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
	Time time.Time
}

// String creates a bytes value from a string
func String(s string) Value {
	return Value{Type: TYPE_BYTES, Str: []byte(s)}
}

// Int64 creates an int64 value
func Int64(i int64) Value {
	return Value{Type: TYPE_INT64, I64: i}
}

// Uint64 creates a uint64 value
func Uint64(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

// Time creates a time value
func Time(t time.Time) Value {
	return Value{Type: TYPE_TIME, Time: t}
}

// Key encodes the values into a single sortable key.
// A key built from a leading subset of columns is a byte prefix of the full key.
func Key(vals ...Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, v.Type)

		switch v.Type {
		case TYPE_INT64:
			out = appendSigned(out, v.I64)
		case TYPE_UINT64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], v.U64)
			out = append(out, buf[:]...)
		case TYPE_TIME:
			out = appendSigned(out, v.Time.UnixNano())
		case TYPE_BYTES:
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)
		default:
			panic(fmt.Sprintf("unknown key type: %d", v.Type))
		}
	}
	return out
}

// appendSigned flips the sign bit so negative values sort first
func appendSigned(out []byte, i int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i)+(1<<63))
	return append(out, buf[:]...)
}

// escapeString escapes null bytes and 0xFF for embedding in keys
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFE || b == 0xFF {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		switch b {
		case 0:
			out = append(out, 0xFE, 0x01)
		case 0xFE:
			out = append(out, 0xFE, 0xFE)
		case 0xFF:
			out = append(out, 0xFE, 0xFF)
		default:
			out = append(out, b)
		}
	}
	return out
}

// unescapeString reverses escapeString
func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0xFE && i+1 < len(s) {
			if s[i+1] == 0x01 {
				out = append(out, 0)
			} else {
				out = append(out, s[i+1])
			}
			i++
			continue
		}
		out = append(out, s[i])
	}
	return out
}

// DecodeKey decodes the columns of a key produced by Key
func DecodeKey(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_INT64, TYPE_TIME:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete int64 at pos %d", pos)
			}
			i := int64(binary.BigEndian.Uint64(data[pos:pos+8]) - (1 << 63))
			if typ == TYPE_TIME {
				vals = append(vals, Time(time.Unix(0, i).UTC()))
			} else {
				vals = append(vals, Int64(i))
			}
			pos += 8

		case TYPE_UINT64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete uint64 at pos %d", pos)
			}
			vals = append(vals, Uint64(binary.BigEndian.Uint64(data[pos:pos+8])))
			pos += 8

		case TYPE_BYTES:
			end := pos
			for end < len(data) && data[end] != 0 {
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("unterminated string at pos %d", pos)
			}
			vals = append(vals, Value{Type: TYPE_BYTES, Str: unescapeString(data[pos:end])})
			pos = end + 1

		default:
			return nil, fmt.Errorf("unknown type: %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}
