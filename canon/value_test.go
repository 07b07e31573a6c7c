package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		Int(0),
		Int(-42),
		Int(1_000_000_000_000),
		Bytes("hello"),
		Text("héllo"),
		List{Int(1), Bytes("a"), Text("b")},
		Dict{"z": Int(1), "a": Int(2), "m": Bytes("x")},
	}
	for _, v := range cases {
		enc := Encode(v)
		got, err := DecodeFull(enc)
		require.NoError(t, err)
		require.Equal(t, enc, Encode(got))
	}
}

func TestDictKeysSortedAscii(t *testing.T) {
	d := Dict{"zebra": Int(1), "apple": Int(2), "mango": Int(3)}
	enc := string(Encode(d))
	require.True(t, indexOf(enc, "apple") < indexOf(enc, "mango"))
	require.True(t, indexOf(enc, "mango") < indexOf(enc, "zebra"))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestEqualValuesEncodeIdentically(t *testing.T) {
	a := Dict{"x": Int(1), "y": List{Bytes("a"), Bytes("b")}}
	b := Dict{"y": List{Bytes("a"), Bytes("b")}, "x": Int(1)}
	require.Equal(t, Encode(a), Encode(b))
}
