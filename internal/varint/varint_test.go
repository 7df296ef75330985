package varint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUvarint7RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 300, 16384, 1 << 20, 1 << 31}
	for _, v := range cases {
		buf := make([]byte, MaxLen)
		n := PutUvarint7(buf, v)
		require.Equal(t, Len7(v), n)

		got, consumed, err := Uvarint7(buf[:n])
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, n, consumed)
	}
}

func TestUvarint7Truncated(t *testing.T) {
	buf := make([]byte, MaxLen)
	n := PutUvarint7(buf, 1<<20)
	_, _, err := Uvarint7(buf[:n-1])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "text/plain", string(make([]byte, 200))} {
		buf := make([]byte, Len(s))
		n := PutString(buf, s)
		require.Equal(t, len(buf), n)

		got, consumed, err := GetString(buf)
		require.NoError(t, err)
		require.Equal(t, s, got)
		require.Equal(t, n, consumed)
	}
}
