package node

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the fixed digest size used to authenticate every node in
// the trie. The teacher's trie_blake2b model supports several sizes
// (160/192/256); this store always uses the 256-bit one since the
// storage layout has no per-trie negotiation of hash size.
const HashSize = 32

// TrieHash is the content hash of a trie node (or, for the root, of the
// whole trie). Two nodes with equal TrieHash are guaranteed to have
// identical partial path, value and subtree content.
type TrieHash [HashSize]byte

// IsZero reports whether h is the zero hash, used as the sentinel for
// "no hash computed" (e.g. the root hash of an empty trie).
func (h TrieHash) IsZero() bool {
	return h == TrieHash{}
}

func (h TrieHash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the digest as a byte slice.
func (h TrieHash) Bytes() []byte {
	return h[:]
}

// HashFromBytes copies b (which must be HashSize long) into a TrieHash.
func HashFromBytes(b []byte) (TrieHash, bool) {
	var h TrieHash
	if len(b) != HashSize {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

// hasher accumulates the pieces of a node (path, value, child hashes)
// into a single digest. Node content is hashed as a simple concatenation
// of length-prefixed fields; see encode.go for the on-disk record format,
// which is distinct from this hashing format.
type hasher struct {
	buf []byte
}

func newHasher() *hasher {
	return &hasher{buf: make([]byte, 0, 128)}
}

func (h *hasher) writeBytes(b []byte) {
	var lenBuf [4]byte
	putUint32(lenBuf[:], uint32(len(b)))
	h.buf = append(h.buf, lenBuf[:]...)
	h.buf = append(h.buf, b...)
}

func (h *hasher) writeByte(b byte) {
	h.buf = append(h.buf, b)
}

func (h *hasher) sum() TrieHash {
	return blake2b.Sum256(h.buf)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// HashLeaf computes the content hash of a leaf with the given partial
// path and value.
func HashLeaf(partialPath Path, value []byte) TrieHash {
	h := newHasher()
	h.writeByte(tagLeaf)
	h.writeBytes(partialPath.Pack())
	h.writeBytes(value)
	return h.sum()
}

// HashBranch computes the content hash of a branch from its partial
// path, optional value and the (already computed) hashes of its
// children, indexed 0-15 with nil meaning "no child at this index".
func HashBranch(partialPath Path, value []byte, hasValue bool, children [ChildCount]*TrieHash) TrieHash {
	h := newHasher()
	h.writeByte(tagBranch)
	h.writeBytes(partialPath.Pack())
	if hasValue {
		h.writeByte(1)
		h.writeBytes(value)
	} else {
		h.writeByte(0)
	}
	for i, c := range children {
		if c == nil {
			continue
		}
		h.writeByte(byte(i))
		h.writeBytes(c[:])
	}
	return h.sum()
}

const (
	tagLeaf   = 1
	tagBranch = 2
)

// HashOf computes the content hash of n, a pure function of its partial
// path, value and child hashes. Every branch child must already be an
// on-disk (Addr, Hash) slot or empty; a still-in-memory child means
// the caller has not hashed bottom-up yet, which is a programming
// error in the freeze walk, not a recoverable one.
func HashOf(n Node) (TrieHash, error) {
	switch v := n.(type) {
	case *Leaf:
		return HashLeaf(v.Path, v.Val), nil
	case *Branch:
		entries, err := v.ChildrenIter()
		if err != nil {
			return TrieHash{}, err
		}
		var hashes [ChildCount]*TrieHash
		for _, e := range entries {
			h := e.Hash
			hashes[e.Index] = &h
		}
		return HashBranch(v.Path, v.Val, v.HasValue, hashes), nil
	default:
		return TrieHash{}, ErrInvariant
	}
}
