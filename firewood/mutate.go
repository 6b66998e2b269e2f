package firewood

import (
	"fmt"

	"github.com/nodekit-io/triedb/storage"
	"github.com/nodekit-io/triedb/storage/node"
)

// Op is one operation in a batch: either Put(key, value) or Delete(key).
// Order within a batch matters — later operations on the same key
// override earlier ones.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Put returns a Put operation.
func Put(key, value []byte) Op { return Op{Key: key, Value: value} }

// Delete returns a Delete operation.
func Delete(key []byte) Op { return Op{Key: key, Delete: true} }

// Batch is an ordered sequence of operations applied atomically to a
// base revision to produce a proposal.
type Batch []Op

// workingTrie accumulates the result of applying a batch against a base
// root, before Freeze turns it into an immutable proposal. Each
// insert or delete walk produces a new node value and marks any
// superseded on-disk node for deletion, never mutating a node fetched
// from the shared node cache in place.
type workingTrie struct {
	storage    *storage.FileBacked
	pending    map[node.LinearAddress]node.Node // from the parent proposal, not yet flushed
	root       node.Node
	deleteList []node.LinearAddress
}

func (w *workingTrie) resolve(addr node.LinearAddress) (node.Node, error) {
	if n, ok := w.pending[addr]; ok {
		return n, nil
	}
	return w.storage.ReadNode(addr)
}

// applyBatch runs every operation in order against w.root.
func (w *workingTrie) applyBatch(batch Batch, rootAddr node.LinearAddress) error {
	hasRootAddr := rootAddr.Valid()
	for _, op := range batch {
		path := node.NewPathFromKey(op.Key)
		if op.Delete {
			newRoot, changed, err := w.delete(w.root, rootAddr, hasRootAddr, path)
			if err != nil {
				return err
			}
			if changed {
				w.root = newRoot
				hasRootAddr = false // root, if any, is now an in-memory node we own
			}
		} else {
			newRoot, err := w.insert(w.root, rootAddr, hasRootAddr, path, op.Value)
			if err != nil {
				return err
			}
			w.root = newRoot
			hasRootAddr = false
		}
	}
	return nil
}

// insert walks n, producing the replacement node for the subtree rooted
// there. Every node on the path is touched (at minimum a child pointer
// changes), so insert always clones an on-disk node before mutating it
// and marks its original address superseded.
func (w *workingTrie) insert(n node.Node, addr node.LinearAddress, fromDisk bool, path node.Path, value []byte) (node.Node, error) {
	if n == nil {
		return &node.Leaf{Path: path, Val: value}, nil
	}
	n, err := w.own(n, addr, fromDisk)
	if err != nil {
		return nil, err
	}

	common := node.CommonPrefixLen(n.PartialPath(), path)
	switch {
	case common == len(n.PartialPath()) && common == len(path):
		// Exact match: overwrite the value in place.
		switch v := n.(type) {
		case *node.Leaf:
			v.Val = value
		case *node.Branch:
			v.Val = value
			v.HasValue = true
		}
		return n, nil

	case common == len(n.PartialPath()):
		// n's partial path is a strict prefix of path: descend (or, for a
		// leaf, convert it into a branch first, since a leaf has no
		// children to descend into).
		tail := path[common:]
		nibble := int(tail[0])
		rest := tail[1:]

		branch, ok := n.(*node.Branch)
		if !ok {
			leaf := n.(*node.Leaf)
			branch = &node.Branch{Path: leaf.Path, Val: leaf.Val, HasValue: true}
		}

		child := branch.Child(nibble)
		var childNode node.Node
		var childAddr node.LinearAddress
		var childFromDisk bool
		if child != nil {
			if child.Resolved() {
				childNode = child.InMemory
			} else {
				cn, err := w.resolve(child.Addr)
				if err != nil {
					return nil, err
				}
				childNode, childAddr, childFromDisk = cn, child.Addr, true
			}
		}
		newChild, err := w.insert(childNode, childAddr, childFromDisk, rest, value)
		if err != nil {
			return nil, err
		}
		branch.UpdateChild(nibble, &node.Child{InMemory: newChild})
		return branch, nil

	default:
		// n's partial path diverges from path at `common`: split n into a
		// new branch at that point.
		orig := n.PartialPath()
		prefix := append(node.Path(nil), orig[:common]...)
		branchNibble := int(orig[common])
		suffix := append(node.Path(nil), orig[common+1:]...)
		n.SetPartialPath(suffix)

		newBranch := &node.Branch{Path: prefix}
		newBranch.UpdateChild(branchNibble, &node.Child{InMemory: n})

		if common == len(path) {
			newBranch.Val = value
			newBranch.HasValue = true
		} else {
			keyNibble := int(path[common])
			keyTail := append(node.Path(nil), path[common+1:]...)
			newBranch.UpdateChild(keyNibble, &node.Child{InMemory: &node.Leaf{Path: keyTail, Val: value}})
		}
		return newBranch, nil
	}
}

// delete walks n looking for path. It returns (replacement, changed).
// When changed is false, n is returned completely untouched — no clone,
// no delete-list entry — since nothing on that path actually changed.
func (w *workingTrie) delete(n node.Node, addr node.LinearAddress, fromDisk bool, path node.Path) (node.Node, bool, error) {
	if n == nil {
		return nil, false, nil
	}
	common := node.CommonPrefixLen(n.PartialPath(), path)
	if common < len(n.PartialPath()) {
		return n, false, nil // diverges: key not present
	}

	if common == len(path) {
		// Exact match at this node.
		switch v := n.(type) {
		case *node.Leaf:
			if fromDisk {
				w.deleteList = append(w.deleteList, addr)
			}
			return nil, true, nil
		case *node.Branch:
			if !v.HasValue {
				return n, false, nil
			}
			owned, err := w.own(n, addr, fromDisk)
			if err != nil {
				return nil, false, err
			}
			b := owned.(*node.Branch)
			b.HasValue = false
			b.Val = nil
			collapsed, err := w.collapse(b)
			if err != nil {
				return nil, false, err
			}
			return collapsed, true, nil
		}
	}

	// Path continues past this node: only a branch can have children.
	branch, ok := n.(*node.Branch)
	if !ok {
		return n, false, nil
	}
	tail := path[common:]
	nibble := int(tail[0])
	rest := tail[1:]

	child := branch.Child(nibble)
	if child == nil {
		return n, false, nil
	}
	var childNode node.Node
	var childAddr node.LinearAddress
	var childFromDisk bool
	if child.Resolved() {
		childNode = child.InMemory
	} else {
		cn, err := w.resolve(child.Addr)
		if err != nil {
			return nil, false, err
		}
		childNode, childAddr, childFromDisk = cn, child.Addr, true
	}

	newChild, changed, err := w.delete(childNode, childAddr, childFromDisk, rest)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return n, false, nil
	}

	owned, err := w.own(n, addr, fromDisk)
	if err != nil {
		return nil, false, err
	}
	b := owned.(*node.Branch)
	if newChild == nil {
		b.UpdateChild(nibble, nil)
	} else {
		b.UpdateChild(nibble, &node.Child{InMemory: newChild})
	}
	collapsed, err := w.collapse(b)
	if err != nil {
		return nil, false, err
	}
	return collapsed, true, nil
}

// own returns a mutable copy of n, cloning it and marking addr
// superseded the first time an on-disk node is touched. A node that is
// already ours (fromDisk == false, e.g. created earlier in this batch)
// is returned as-is.
func (w *workingTrie) own(n node.Node, addr node.LinearAddress, fromDisk bool) (node.Node, error) {
	if !fromDisk {
		return n, nil
	}
	w.deleteList = append(w.deleteList, addr)
	return n.Clone(), nil
}

// collapse enforces the invariant that a branch with no value and
// fewer than two children must not survive in the committed trie. With
// zero children it vanishes entirely; with exactly one, it merges into
// that child by concatenating paths.
func (w *workingTrie) collapse(b *node.Branch) (node.Node, error) {
	if !b.IsCollapsible() {
		return b, nil
	}
	if b.NonEmptyChildren() == 0 {
		return nil, nil
	}
	for i, c := range b.Children {
		if c == nil {
			continue
		}
		var childNode node.Node
		if c.Resolved() {
			childNode = c.InMemory
		} else {
			cn, err := w.resolve(c.Addr)
			if err != nil {
				return nil, err
			}
			childNode = cn.Clone()
			w.deleteList = append(w.deleteList, c.Addr)
		}
		merged := node.Concat(b.Path, byte(i), childNode.PartialPath())
		childNode.SetPartialPath(merged)
		return childNode, nil
	}
	return nil, fmt.Errorf("firewood: %w: collapsible branch reported a child but none found", storage.ErrInvariant)
}
