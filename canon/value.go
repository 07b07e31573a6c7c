// Package canon implements the canonical, order-preserving value encoding
// consumed by blocks, transactions and store state. It is a small Bencodex-
// style codec: integers, byte strings, unicode text, lists and dictionaries
// each have one canonical byte representation, so two logically equal values
// always encode identically.
//
// No off-the-shelf bencode library (including the ecosystem's torrent-wire
// bencode codecs) distinguishes byte strings from unicode text the way this
// format requires, so the codec is hand rolled here; see DESIGN.md.
package canon

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
)

// Value is any value expressible in the canonical encoding.
type Value interface {
	Encode() []byte
}

// Integer is an arbitrary-precision signed integer value.
type Integer struct{ V *big.Int }

func Int(i int64) Integer { return Integer{V: big.NewInt(i)} }

func (n Integer) Encode() []byte {
	return []byte(fmt.Sprintf("i%se", n.V.String()))
}

// Bytes is an opaque byte string value.
type Bytes []byte

func (b Bytes) Encode() []byte {
	return []byte(fmt.Sprintf("%d:", len(b)) + string(b))
}

// Text is a unicode text value, distinct from an opaque byte string.
type Text string

func (t Text) Encode() []byte {
	b := []byte(t)
	return []byte(fmt.Sprintf("u%d:", len(b)) + string(b))
}

// List is an ordered sequence of values.
type List []Value

func (l List) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte('l')
	for _, v := range l {
		buf.Write(v.Encode())
	}
	buf.WriteByte('e')
	return buf.Bytes()
}

// Dict is a mapping keyed by ASCII text, always encoded with sorted keys.
type Dict map[string]Value

func (d Dict) Encode() []byte {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.WriteByte('d')
	for _, k := range keys {
		buf.Write(Text(k).Encode())
		buf.Write(d[k].Encode())
	}
	buf.WriteByte('e')
	return buf.Bytes()
}

// Encode returns the canonical byte representation of v.
func Encode(v Value) []byte { return v.Encode() }

// Null encodes as an empty byte string; used for optional fields that are
// present-but-empty rather than omitted entirely.
var Null Value = Bytes(nil)
