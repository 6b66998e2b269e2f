package node

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathPackUnpackRoundTrip(t *testing.T) {
	cases := []Path{
		{},
		{1},
		{1, 2, 3},
		{0xF, 0x0, 0xA, 0xB, 0x1},
	}
	for _, p := range cases {
		packed := p.Pack()
		got, rest, err := UnpackPath(packed)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.True(t, p.Equal(got))
	}
}

func TestPathFromKeyAndBack(t *testing.T) {
	key := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	p := NewPathFromKey(key)
	require.Len(t, p, 8)
	require.Equal(t, key, p.Bytes())
}

func TestCommonPrefixLen(t *testing.T) {
	a := Path{1, 2, 3, 4}
	b := Path{1, 2, 9, 9}
	require.Equal(t, 2, CommonPrefixLen(a, b))
	require.Equal(t, len(a), CommonPrefixLen(a, a))
}

func TestConcat(t *testing.T) {
	p := Concat(Path{1, 2}, 3, Path{4, 5})
	require.True(t, p.Equal(Path{1, 2, 3, 4, 5}))
}
