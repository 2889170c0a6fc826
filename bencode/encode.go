package bencode

import (
	"bytes"
	"maps"
	"slices"
	"strconv"
)

// NewInteger builds an integer value
func NewInteger(n int64) Value { return Value{kind: Integer, num: n} }

// NewBytes builds a byte string value
func NewBytes(b []byte) Value { return Value{kind: Bytes, str: b} }

// NewString builds a byte string value from a Go string
func NewString(s string) Value { return Value{kind: Bytes, str: []byte(s)} }

// NewList builds a list value
func NewList(elems ...Value) Value { return Value{kind: List, list: elems} }

// NewDict builds a dictionary value
func NewDict(entries map[string]Value) Value { return Value{kind: Dict, dict: entries} }

// Encode encodes a value to its canonical byte representation.
// Dictionary keys are emitted in lexicographic byte order, so for any
// canonically ordered input encode(decode(x)) == x byte for byte.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeTo(&buf, v)
	return buf.Bytes()
}

// encodeTo writes the bencoded representation to a buffer
func encodeTo(buf *bytes.Buffer, v Value) {
	switch v.kind {
	case Integer:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.num, 10))
		buf.WriteByte('e')
	case Bytes:
		buf.WriteString(strconv.Itoa(len(v.str)))
		buf.WriteByte(':')
		buf.Write(v.str)
	case List:
		buf.WriteByte('l')
		for _, elem := range v.list {
			encodeTo(buf, elem)
		}
		buf.WriteByte('e')
	case Dict:
		buf.WriteByte('d')
		for _, k := range slices.Sorted(maps.Keys(v.dict)) {
			buf.WriteString(strconv.Itoa(len(k)))
			buf.WriteByte(':')
			buf.WriteString(k)
			encodeTo(buf, v.dict[k])
		}
		buf.WriteByte('e')
	}
}
