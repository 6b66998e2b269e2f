package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodekit-io/triedb/storage/node"
)

func TestDeleteListRoundTrip(t *testing.T) {
	fb := openTemp(t)
	addrs := []node.LinearAddress{64, 128, 256}
	hash := node.TrieHash{1, 2, 3}
	listAddr, err := fb.WriteDeleteList(512, hash, true, addrs)
	require.NoError(t, err)

	rec, err := fb.ReadDeleteList(listAddr)
	require.NoError(t, err)
	require.Equal(t, node.LinearAddress(512), rec.RootAddr)
	require.True(t, rec.HasRootHash)
	require.Equal(t, hash, rec.RootHash)
	require.Equal(t, addrs, rec.Addrs)
}

func TestDeleteListRoundTripNoHash(t *testing.T) {
	fb := openTemp(t)
	listAddr, err := fb.WriteDeleteList(0, node.TrieHash{}, false, nil)
	require.NoError(t, err)
	rec, err := fb.ReadDeleteList(listAddr)
	require.NoError(t, err)
	require.False(t, rec.HasRootHash)
	require.Empty(t, rec.Addrs)
}
