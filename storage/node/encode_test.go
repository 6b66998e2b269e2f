package node

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeLeafRoundTrip(t *testing.T) {
	l := &Leaf{Path: Path{1, 2, 3}, Val: []byte("hello")}
	buf, err := Encode(l)
	require.NoError(t, err)
	got, err := Decode(buf)
	require.NoError(t, err)
	gl, ok := got.(*Leaf)
	require.True(t, ok)
	require.True(t, gl.Path.Equal(l.Path))
	require.Equal(t, l.Val, gl.Val)
}

func TestEncodeDecodeBranchRoundTrip(t *testing.T) {
	b := &Branch{Path: Path{9}, Val: []byte("v"), HasValue: true}
	b.UpdateChild(3, &Child{Addr: 128, Hash: TrieHash{1, 2, 3}})
	b.UpdateChild(10, &Child{Addr: 256, Hash: TrieHash{4, 5, 6}})

	buf, err := Encode(b)
	require.NoError(t, err)
	got, err := Decode(buf)
	require.NoError(t, err)
	gb, ok := got.(*Branch)
	require.True(t, ok)
	require.True(t, gb.Path.Equal(b.Path))
	require.Equal(t, b.Val, gb.Val)
	require.Equal(t, b.HasValue, gb.HasValue)
	require.Equal(t, b.Children[3].Addr, gb.Children[3].Addr)
	require.Equal(t, b.Children[3].Hash, gb.Children[3].Hash)
	require.Equal(t, b.Children[10].Addr, gb.Children[10].Addr)
	require.Nil(t, gb.Children[0])
}

func TestEncodeBranchWithNoValue(t *testing.T) {
	b := &Branch{Path: Path{}, HasValue: false}
	b.UpdateChild(0, &Child{Addr: 64, Hash: TrieHash{7}})
	buf, err := Encode(b)
	require.NoError(t, err)
	got, err := Decode(buf)
	require.NoError(t, err)
	gb := got.(*Branch)
	require.False(t, gb.HasValue)
}

func TestEncodeRejectsResolvedChild(t *testing.T) {
	b := &Branch{Path: Path{}}
	b.UpdateChild(0, &Child{InMemory: &Leaf{Path: Path{1}, Val: []byte("x")}})
	_, err := Encode(b)
	require.ErrorIs(t, err, ErrInvariant)
}
