package storage

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nodekit-io/triedb/storage/node"
)

// NodeCache is a bounded LRU mapping LinearAddress to a decoded node.
// It is shared across every revision and proposal that holds the same
// FileBacked store; eviction is driven purely by capacity, never by
// revision age, since a node may be live in several revisions at once.
type NodeCache struct {
	inner *lru.Cache[node.LinearAddress, node.Node]
}

// NewNodeCache builds a node cache with the given entry capacity.
func NewNodeCache(size int) (*NodeCache, error) {
	c, err := lru.New[node.LinearAddress, node.Node](size)
	if err != nil {
		return nil, err
	}
	return &NodeCache{inner: c}, nil
}

func (c *NodeCache) Get(addr node.LinearAddress) (node.Node, bool) {
	return c.inner.Get(addr)
}

func (c *NodeCache) Put(addr node.LinearAddress, n node.Node) {
	c.inner.Add(addr, n)
}

// Invalidate drops addr from the cache. Called when addr is freed, so a
// stale decoded node is never handed back after its storage is reused.
func (c *NodeCache) Invalidate(addr node.LinearAddress) {
	c.inner.Remove(addr)
}

// freeListCacheKey is the size-class index.
type freeListCacheKey = int

// FreeListCache is a bounded LRU mapping size-class to the head address
// of its free chain, so the allocator does not have to re-read the
// header's chain-head array on every allocation under contention with
// in-flight commit bookkeeping. The header remains the source of truth;
// on a miss the allocator reads the header, and every change to a chain
// head writes the new head to both the header and this cache.
type FreeListCache struct {
	inner *lru.Cache[freeListCacheKey, node.LinearAddress]
}

func NewFreeListCache(size int) (*FreeListCache, error) {
	c, err := lru.New[freeListCacheKey, node.LinearAddress](size)
	if err != nil {
		return nil, err
	}
	return &FreeListCache{inner: c}, nil
}

func (c *FreeListCache) Get(class int) (node.LinearAddress, bool) {
	return c.inner.Get(class)
}

func (c *FreeListCache) Put(class int, head node.LinearAddress) {
	c.inner.Add(class, head)
}

func (c *FreeListCache) Invalidate(class int) {
	c.inner.Remove(class)
}
