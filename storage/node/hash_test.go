package node

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashLeafDeterministic(t *testing.T) {
	h1 := HashLeaf(Path{1, 2, 3}, []byte("v"))
	h2 := HashLeaf(Path{1, 2, 3}, []byte("v"))
	require.Equal(t, h1, h2)
	require.False(t, h1.IsZero())
}

func TestHashLeafDiffersOnValue(t *testing.T) {
	h1 := HashLeaf(Path{1}, []byte("a"))
	h2 := HashLeaf(Path{1}, []byte("b"))
	require.NotEqual(t, h1, h2)
}

func TestHashOfBranchIsPureFunctionOfChildren(t *testing.T) {
	ch0 := TrieHash{1}
	ch1 := TrieHash{2}
	var children [ChildCount]*TrieHash
	children[0] = &ch0
	children[5] = &ch1
	h1 := HashBranch(Path{}, nil, false, children)
	h2 := HashBranch(Path{}, nil, false, children)
	require.Equal(t, h1, h2)

	children[5] = &ch0
	h3 := HashBranch(Path{}, nil, false, children)
	require.NotEqual(t, h1, h3)
}

func TestHashOfRejectsResolvedChild(t *testing.T) {
	b := &Branch{Path: Path{}}
	b.UpdateChild(2, &Child{InMemory: &Leaf{Path: Path{1}, Val: []byte("x")}})
	_, err := HashOf(b)
	require.ErrorIs(t, err, ErrInvariant)
}

func TestHashOfLeafMatchesHashLeaf(t *testing.T) {
	l := &Leaf{Path: Path{3, 4}, Val: []byte("abc")}
	h, err := HashOf(l)
	require.NoError(t, err)
	require.Equal(t, HashLeaf(l.Path, l.Val), h)
}
