// Package firewood implements the revision manager and node-store
// proposal lifecycle on top of the storage package's file-backed trie:
// committed revisions, mutable/immutable proposals, commit and reap.
package firewood

import (
	"fmt"

	"github.com/nodekit-io/triedb/storage"
	"github.com/nodekit-io/triedb/storage/node"
)

// Kind distinguishes the three typed views over a NodeStore: Committed,
// MutableProposal and ImmutableProposal. It exists so the manager can
// treat all three uniformly for root-hash lookups while still
// dispatching (via a type switch) to kind-specific behavior for
// mutation, freeze and commit.
type Kind interface {
	RootHash() (node.TrieHash, bool)
}

// Committed is a read-only view of a revision that has been durably
// written: a root address in the file and (for a non-empty trie) a root
// hash.
type Committed struct {
	rootAddr node.LinearAddress
	rootHash node.TrieHash
	hasHash  bool
}

func (c *Committed) RootHash() (node.TrieHash, bool) { return c.rootHash, c.hasHash }

// RootAddress returns the on-disk root address, or (0, false) for an
// empty trie.
func (c *Committed) RootAddress() (node.LinearAddress, bool) {
	return c.rootAddr, c.rootAddr.Valid()
}

// MutableProposal is a proposal under construction: a pure in-memory
// node tree layered over a base revision, plus the delete list of
// on-disk addresses it has superseded so far. It has no root hash
// until frozen.
type MutableProposal struct {
	parentHash    node.TrieHash
	hasParentHash bool
	baseRootAddr  node.LinearAddress
	basePending   map[node.LinearAddress]node.Node

	root       node.Node
	deleteList []node.LinearAddress
}

func (m *MutableProposal) RootHash() (node.TrieHash, bool) { return node.TrieHash{}, false }

// ImmutableProposal is a frozen proposal: its root hash is computed, its
// new nodes have addresses reserved from the allocator but not yet
// flushed, and its delete list is fixed.
type ImmutableProposal struct {
	parentHash    node.TrieHash
	hasParentHash bool
	rootHash      node.TrieHash
	hasRootHash   bool
	rootAddr      node.LinearAddress

	newNodes   map[node.LinearAddress]node.Node
	newOrder   []node.LinearAddress // preserves allocation order for deterministic flush
	deleteList []node.LinearAddress
}

func (p *ImmutableProposal) RootHash() (node.TrieHash, bool) { return p.rootHash, p.hasRootHash }

// ParentHashIs reports whether p's recorded parent matches hash/hasHash,
// the pure equality test the commit lineage check runs.
func (p *ImmutableProposal) ParentHashIs(hash node.TrieHash, hasHash bool) bool {
	if p.hasParentHash != hasHash {
		return false
	}
	if !hasHash {
		return true
	}
	return p.parentHash == hash
}

// NodeStore is a typed view over a FileBacked store tagged by Kind.
type NodeStore struct {
	Storage *storage.FileBacked
	Kind    Kind
}

// newEmptyCommitted builds the Committed view for a freshly truncated
// (empty) database.
func newEmptyCommitted() *Committed {
	return &Committed{}
}

// openCommitted reconstructs the Committed view from the file's
// header, used when opening an existing database.
func openCommitted(h *storage.Header) *Committed {
	return &Committed{rootAddr: h.RootAddr, rootHash: h.RootHash, hasHash: h.HasRootHash}
}

// NewMutableProposal begins building a proposal over base, which may be
// a committed revision or another (already-frozen) proposal.
func NewMutableProposal(fb *storage.FileBacked, base *NodeStore) (*NodeStore, error) {
	var rootAddr node.LinearAddress
	var pending map[node.LinearAddress]node.Node
	var parentHash node.TrieHash
	var hasParentHash bool

	switch k := base.Kind.(type) {
	case *Committed:
		rootAddr, _ = k.RootAddress()
		parentHash, hasParentHash = k.RootHash()
	case *ImmutableProposal:
		rootAddr = k.rootAddr
		pending = k.newNodes
		parentHash, hasParentHash = k.RootHash()
	default:
		return nil, fmt.Errorf("firewood: %w: cannot propose against a %T", storage.ErrInvariant, base.Kind)
	}

	var root node.Node
	if rootAddr.Valid() {
		var err error
		if pending != nil {
			if n, ok := pending[rootAddr]; ok {
				root = n
			}
		}
		if root == nil {
			root, err = fb.ReadNode(rootAddr)
			if err != nil {
				return nil, err
			}
		}
	}

	m := &MutableProposal{
		parentHash:    parentHash,
		hasParentHash: hasParentHash,
		baseRootAddr:  rootAddr,
		basePending:   pending,
		root:          root,
	}
	return &NodeStore{Storage: fb, Kind: m}, nil
}

// Apply runs batch against the mutable proposal's working trie.
func (ns *NodeStore) Apply(batch Batch) error {
	m, ok := ns.Kind.(*MutableProposal)
	if !ok {
		return fmt.Errorf("firewood: %w: Apply called on a %T", storage.ErrInvariant, ns.Kind)
	}
	w := &workingTrie{storage: ns.Storage, pending: m.basePending, root: m.root, deleteList: m.deleteList}
	if err := w.applyBatch(batch, m.baseRootAddr); err != nil {
		return err
	}
	m.root = w.root
	m.deleteList = w.deleteList
	return nil
}

// Freeze computes the root hash bottom-up over every resolved subtree,
// allocating a disk address for each node it touches, and returns the
// resulting ImmutableProposal.
func (ns *NodeStore) Freeze() (*NodeStore, error) {
	m, ok := ns.Kind.(*MutableProposal)
	if !ok {
		return nil, fmt.Errorf("firewood: %w: Freeze called on a %T", storage.ErrInvariant, ns.Kind)
	}

	p := &ImmutableProposal{
		parentHash:    m.parentHash,
		hasParentHash: m.hasParentHash,
		newNodes:      make(map[node.LinearAddress]node.Node),
		deleteList:    m.deleteList,
	}

	if m.root == nil {
		return &NodeStore{Storage: ns.Storage, Kind: p}, nil
	}

	addr, hash, err := freezeNode(ns.Storage, p, m.root)
	if err != nil {
		return nil, err
	}
	p.rootAddr = addr
	p.rootHash = hash
	p.hasRootHash = true
	return &NodeStore{Storage: ns.Storage, Kind: p}, nil
}

// freezeNode recursively resolves n's in-memory children (computing
// their hash and reserving their address first), computes n's own hash,
// reserves its address, and records it on p's new-node list.
func freezeNode(fb *storage.FileBacked, p *ImmutableProposal, n node.Node) (node.LinearAddress, node.TrieHash, error) {
	if b, ok := n.(*node.Branch); ok {
		for i, c := range b.Children {
			if c == nil || !c.Resolved() {
				continue
			}
			addr, hash, err := freezeNode(fb, p, c.InMemory)
			if err != nil {
				return 0, node.TrieHash{}, err
			}
			b.UpdateChild(i, &node.Child{Addr: addr, Hash: hash})
		}
	}

	hash, err := node.HashOf(n)
	if err != nil {
		return 0, node.TrieHash{}, err
	}

	encoded, err := node.Encode(n)
	if err != nil {
		return 0, node.TrieHash{}, err
	}
	addr, _, err := fb.Allocate(len(encoded))
	if err != nil {
		return 0, node.TrieHash{}, err
	}

	p.newNodes[addr] = n
	p.newOrder = append(p.newOrder, addr)
	return addr, hash, nil
}

// FlushNodes writes every node on p's new-node list to its
// pre-allocated address and fsyncs the store.
func (p *ImmutableProposal) FlushNodes(fb *storage.FileBacked) error {
	for _, addr := range p.newOrder {
		if err := fb.WriteNode(addr, p.newNodes[addr]); err != nil {
			return err
		}
	}
	return fb.Fsync()
}

// AsCommitted converts a successfully committed proposal into the
// Committed view the manager installs as the new tip.
func (p *ImmutableProposal) AsCommitted() *Committed {
	return &Committed{rootAddr: p.rootAddr, rootHash: p.rootHash, hasHash: p.hasRootHash}
}

// ReleaseReservation frees an abandoned proposal's reserved addresses
// back to the free lists without touching its delete list (those
// addresses were never actually superseded, since the proposal never
// committed). Nothing was written at a reserved address, so each size
// class is recomputed from the node's encoding rather than read back.
func (p *ImmutableProposal) ReleaseReservation(fb *storage.FileBacked) error {
	for _, addr := range p.newOrder {
		encoded, err := node.Encode(p.newNodes[addr])
		if err != nil {
			return err
		}
		if err := fb.Free(addr, storage.ClassFor(len(encoded))); err != nil {
			return err
		}
	}
	return nil
}

// CommitReparent updates a still-live proposal whose parent was p (now
// committed) so its parent hash refers to the freshly committed
// revision instead.
func (p *ImmutableProposal) CommitReparent(other *NodeStore, committedHash node.TrieHash, hasHash bool) {
	isChildOfP := func(parentHash node.TrieHash, hasParentHash bool) bool {
		if hasParentHash != p.hasRootHash {
			return false
		}
		return !hasParentHash || parentHash == p.rootHash
	}
	switch v := other.Kind.(type) {
	case *ImmutableProposal:
		if isChildOfP(v.parentHash, v.hasParentHash) {
			v.parentHash, v.hasParentHash = committedHash, hasHash
		}
	case *MutableProposal:
		if isChildOfP(v.parentHash, v.hasParentHash) {
			v.parentHash, v.hasParentHash = committedHash, hasHash
		}
	}
}

// Get looks up key in ns, reading through on-disk nodes and, for an
// unflushed proposal, through its pending new-node list.
func (ns *NodeStore) Get(key []byte) ([]byte, bool, error) {
	root, pending, err := rootAndPending(ns)
	if err != nil {
		return nil, false, err
	}
	return lookup(ns.Storage, pending, root, node.NewPathFromKey(key))
}

func rootAndPending(ns *NodeStore) (node.Node, map[node.LinearAddress]node.Node, error) {
	switch k := ns.Kind.(type) {
	case *Committed:
		if !k.rootAddr.Valid() {
			return nil, nil, nil
		}
		n, err := ns.Storage.ReadNode(k.rootAddr)
		return n, nil, err
	case *MutableProposal:
		return k.root, k.basePending, nil
	case *ImmutableProposal:
		if !k.rootAddr.Valid() {
			return nil, nil, nil
		}
		if n, ok := k.newNodes[k.rootAddr]; ok {
			return n, k.newNodes, nil
		}
		n, err := ns.Storage.ReadNode(k.rootAddr)
		return n, k.newNodes, err
	default:
		return nil, nil, fmt.Errorf("firewood: %w: unknown kind %T", storage.ErrInvariant, ns.Kind)
	}
}

func lookup(fb *storage.FileBacked, pending map[node.LinearAddress]node.Node, n node.Node, path node.Path) ([]byte, bool, error) {
	if n == nil {
		return nil, false, nil
	}
	common := node.CommonPrefixLen(n.PartialPath(), path)
	if common < len(n.PartialPath()) {
		return nil, false, nil
	}
	if common == len(path) {
		v, ok := n.Value()
		return v, ok, nil
	}
	branch, ok := n.(*node.Branch)
	if !ok {
		return nil, false, nil
	}
	tail := path[common:]
	child := branch.Child(int(tail[0]))
	if child == nil {
		return nil, false, nil
	}
	var childNode node.Node
	var err error
	if child.Resolved() {
		childNode = child.InMemory
	} else if pending != nil {
		if pn, ok := pending[child.Addr]; ok {
			childNode = pn
		}
	}
	if childNode == nil {
		childNode, err = fb.ReadNode(child.Addr)
		if err != nil {
			return nil, false, err
		}
	}
	return lookup(fb, pending, childNode, tail[1:])
}
