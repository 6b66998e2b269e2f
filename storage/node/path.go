package node

import (
	"encoding/hex"
	"fmt"
)

// Path is a sequence of 4-bit nibbles, one per byte (values 0-15), the
// unpacked in-memory representation of a partial path compressed into a
// single trie node. Unpacking to one nibble per byte keeps the mutation
// walk logic simple; Pack/Unpack convert to/from the compact wire form.
//
// Grounded on trie256p/hexpath.go's key16/encodedPath split, specialized
// to the fixed arity-16 case this store always uses.
type Path []byte

// NewPathFromKey unpacks a byte-string key into its nibble sequence.
func NewPathFromKey(key []byte) Path {
	p := make(Path, len(key)*2)
	for i, b := range key {
		p[2*i] = b >> 4
		p[2*i+1] = b & 0x0F
	}
	return p
}

// Bytes packs a full (even-length) nibble path back into a byte-string
// key. Callers must only call this on paths known to represent whole
// keys (i.e. root-to-leaf concatenations), never partial paths.
func (p Path) Bytes() []byte {
	if len(p)%2 != 0 {
		panic("node: Bytes called on odd-length path")
	}
	out := make([]byte, len(p)/2)
	for i := range out {
		out[i] = p[2*i]<<4 | p[2*i+1]
	}
	return out
}

// Pack encodes the path into its length-prefixed wire form: one byte
// for the nibble count, then ceil(n/2) bytes holding two nibbles each
// (the last nibble of an odd-length path occupies the high bits of the
// final byte and the low bits are zero-padded).
func (p Path) Pack() []byte {
	out := make([]byte, 1+(len(p)+1)/2)
	if len(p) > 0xFF {
		panic("node: path too long to pack")
	}
	out[0] = byte(len(p))
	for i, nib := range p {
		if nib > 0x0F {
			panic("node: invalid nibble in path")
		}
		pos := 1 + i/2
		if i%2 == 0 {
			out[pos] = nib << 4
		} else {
			out[pos] |= nib
		}
	}
	return out
}

// UnpackPath decodes a path previously produced by Pack, returning the
// remaining bytes after it.
func UnpackPath(b []byte) (Path, []byte, error) {
	if len(b) < 1 {
		return nil, nil, fmt.Errorf("node: short buffer for path length")
	}
	n := int(b[0])
	need := (n + 1) / 2
	if len(b) < 1+need {
		return nil, nil, fmt.Errorf("node: short buffer for path body")
	}
	body := b[1 : 1+need]
	p := make(Path, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			p[i] = body[i/2] >> 4
		} else {
			p[i] = body[i/2] & 0x0F
		}
	}
	return p, b[1+need:], nil
}

// Equal reports whether two paths hold the same nibbles.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// CommonPrefixLen returns the length of the shared nibble prefix of p and o.
func CommonPrefixLen(p, o Path) int {
	n := len(p)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		if p[i] != o[i] {
			return i
		}
	}
	return n
}

// Concat appends a single child index nibble and a trailing path to p,
// returning a new Path. Used when a collapsed branch merges into its
// sole child during a mutation walk.
func Concat(p Path, index byte, tail Path) Path {
	out := make(Path, 0, len(p)+1+len(tail))
	out = append(out, p...)
	out = append(out, index)
	out = append(out, tail...)
	return out
}

func (p Path) String() string {
	return hex.EncodeToString(p.packedForDisplay())
}

func (p Path) packedForDisplay() []byte {
	// Display-only packing; does not need to round-trip.
	out := make([]byte, (len(p)+1)/2)
	for i, nib := range p {
		if i%2 == 0 {
			out[i/2] = nib << 4
		} else {
			out[i/2] |= nib
		}
	}
	return out
}
