package node

// ChildCount is the branching factor of the trie: one slot per hex nibble.
const ChildCount = 16

// Node is the tagged variant stored at a LinearAddress: either a Leaf or
// a Branch. Both shapes carry a partial path; a Leaf is logically the
// terminal form of a Branch with no children.
type Node interface {
	// PartialPath returns the nibble sequence compressed into this node.
	PartialPath() Path
	// SetPartialPath replaces the partial path (used when a branch is
	// collapsed into its surviving child and the child's path must absorb
	// the removed prefix).
	SetPartialPath(Path)
	// Value returns the node's value and whether it is present. A Branch
	// may have no value; a Leaf always does.
	Value() ([]byte, bool)
	// Clone returns a deep copy safe to mutate independently.
	Clone() Node
}

// Leaf is a terminal node: a partial path plus a value, no children.
type Leaf struct {
	Path Path
	Val  []byte
}

var _ Node = (*Leaf)(nil)

func (l *Leaf) PartialPath() Path     { return l.Path }
func (l *Leaf) SetPartialPath(p Path) { l.Path = p }
func (l *Leaf) Value() ([]byte, bool) { return l.Val, true }

func (l *Leaf) Clone() Node {
	v := make([]byte, len(l.Val))
	copy(v, l.Val)
	p := make(Path, len(l.Path))
	copy(p, l.Path)
	return &Leaf{Path: p, Val: v}
}

// Child is the tagged union for a branch slot: either a resolved
// in-memory subtree (only ever present while a mutable proposal is being
// built) or the on-disk (address, hash) pair it will freeze into.
//
// Exactly one of the two alternatives is non-zero at a time; Resolved
// reports which. Grounded on storage/src/node/branch.rs's Child enum
// (Node(Node) vs AddressWithHash(LinearAddress, TrieHash)).
type Child struct {
	// InMemory holds the resolved subtree. Nil when the slot instead
	// refers to an on-disk child.
	InMemory Node
	// Addr and Hash hold the on-disk reference. Addr is zero/invalid when
	// InMemory is set.
	Addr LinearAddress
	Hash TrieHash
}

// Resolved reports whether this slot still carries a live in-memory
// subtree rather than a hashed on-disk reference.
func (c *Child) Resolved() bool {
	return c != nil && c.InMemory != nil
}

// Branch is an internal node with up to ChildCount children, an optional
// value and a partial path.
type Branch struct {
	Path     Path
	Val      []byte
	HasValue bool
	Children [ChildCount]*Child
}

var _ Node = (*Branch)(nil)

func (b *Branch) PartialPath() Path     { return b.Path }
func (b *Branch) SetPartialPath(p Path) { b.Path = p }

func (b *Branch) Value() ([]byte, bool) {
	return b.Val, b.HasValue
}

// Child returns the slot view at index i, or nil if empty.
func (b *Branch) Child(i int) *Child {
	return b.Children[i]
}

// UpdateChild replaces (or clears, if c is nil) the slot at index i.
func (b *Branch) UpdateChild(i int, c *Child) {
	b.Children[i] = c
}

// ChildEntry is one (index, hash) pair yielded by ChildrenIter.
type ChildEntry struct {
	Index int
	Hash  TrieHash
}

// ChildrenIter returns the non-empty slots in ascending index order as
// (index, hash) pairs. It is the shared iteration path used for both
// root-hash recomputation and on-disk serialization, so both walks see
// children in the same order. It fails if any slot is still resolved
// in-memory: callers must only use it on frozen (on-disk-ready) nodes.
func (b *Branch) ChildrenIter() ([]ChildEntry, error) {
	out := make([]ChildEntry, 0, ChildCount)
	for i, c := range b.Children {
		if c == nil {
			continue
		}
		if c.Resolved() {
			return nil, ErrInvariant
		}
		out = append(out, ChildEntry{Index: i, Hash: c.Hash})
	}
	return out, nil
}

// NonEmptyChildren counts the slots that are occupied, resolved or not.
func (b *Branch) NonEmptyChildren() int {
	n := 0
	for _, c := range b.Children {
		if c != nil {
			n++
		}
	}
	return n
}

func (b *Branch) Clone() Node {
	nb := &Branch{Path: append(Path(nil), b.Path...), HasValue: b.HasValue}
	if b.Val != nil {
		nb.Val = append([]byte(nil), b.Val...)
	}
	for i, c := range b.Children {
		if c == nil {
			continue
		}
		cc := *c
		if c.InMemory != nil {
			cc.InMemory = c.InMemory.Clone()
		}
		nb.Children[i] = &cc
	}
	return nb
}

// IsCollapsible reports whether a branch with no value and fewer than
// two non-empty children must not appear in a committed trie — it has
// to be collapsed into its sole child (or removed entirely, if it has
// none).
func (b *Branch) IsCollapsible() bool {
	return !b.HasValue && b.NonEmptyChildren() < 2
}
