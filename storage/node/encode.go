package node

import (
	"encoding/binary"
	"fmt"
)

// noValueSentinel marks "no value" in the wire format, distinct from a
// present-but-empty value (length 0): a sentinel length that can never
// be produced by a real length prefix.
const noValueSentinel = 0xFFFFFFFF

// Encode serializes n into its on-disk record format: tag byte, packed
// partial path, length-prefixed optional value, then a length-prefixed
// list of (index, address, hash) child tuples sorted by index
// ascending. Encoding a branch that still holds a resolved in-memory
// child is an invariant violation, not a recoverable error: it means
// the caller tried to flush an unfrozen proposal node.
func Encode(n Node) ([]byte, error) {
	switch v := n.(type) {
	case *Leaf:
		buf := make([]byte, 0, 64)
		buf = append(buf, tagLeaf)
		buf = append(buf, v.Path.Pack()...)
		buf = appendValue(buf, v.Val, true)
		return buf, nil
	case *Branch:
		buf := make([]byte, 0, 128)
		buf = append(buf, tagBranch)
		buf = append(buf, v.Path.Pack()...)
		buf = appendValue(buf, v.Val, v.HasValue)

		entries, err := v.ChildrenIter()
		if err != nil {
			return nil, fmt.Errorf("node: %w: branch has resolved in-memory child", err)
		}
		var countBuf [2]byte
		binary.LittleEndian.PutUint16(countBuf[:], uint16(len(entries)))
		buf = append(buf, countBuf[:]...)
		for _, e := range entries {
			buf = append(buf, uint8(e.Index))
			addr := v.Children[e.Index].Addr
			var addrBuf [8]byte
			binary.LittleEndian.PutUint64(addrBuf[:], uint64(addr))
			buf = append(buf, addrBuf[:]...)
			buf = append(buf, e.Hash[:]...)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("node: %w: unknown node type %T", ErrInvariant, n)
	}
}

func appendValue(buf []byte, value []byte, present bool) []byte {
	var lenBuf [4]byte
	if !present {
		binary.LittleEndian.PutUint32(lenBuf[:], noValueSentinel)
		return append(buf, lenBuf[:]...)
	}
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(value)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, value...)
}

// Decode parses a record previously produced by Encode.
func Decode(b []byte) (Node, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("node: empty record")
	}
	tag := b[0]
	rest := b[1:]

	path, rest, err := UnpackPath(rest)
	if err != nil {
		return nil, fmt.Errorf("node: decoding path: %w", err)
	}

	value, present, rest, err := readValue(rest)
	if err != nil {
		return nil, fmt.Errorf("node: decoding value: %w", err)
	}

	switch tag {
	case tagLeaf:
		if !present {
			return nil, fmt.Errorf("node: %w: leaf record with no value", ErrInvariant)
		}
		return &Leaf{Path: path, Val: value}, nil
	case tagBranch:
		if len(rest) < 2 {
			return nil, fmt.Errorf("node: short buffer for child count")
		}
		count := binary.LittleEndian.Uint16(rest)
		rest = rest[2:]
		br := &Branch{Path: path, Val: value, HasValue: present}
		const recSize = 1 + 8 + HashSize
		for i := 0; i < int(count); i++ {
			if len(rest) < recSize {
				return nil, fmt.Errorf("node: short buffer for child record %d", i)
			}
			idx := rest[0]
			addr := LinearAddress(binary.LittleEndian.Uint64(rest[1:9]))
			hash, _ := HashFromBytes(rest[9 : 9+HashSize])
			if int(idx) >= ChildCount {
				return nil, fmt.Errorf("node: %w: child index %d out of range", ErrInvariant, idx)
			}
			br.Children[idx] = &Child{Addr: addr, Hash: hash}
			rest = rest[recSize:]
		}
		return br, nil
	default:
		return nil, fmt.Errorf("node: %w: unknown tag %d", ErrInvariant, tag)
	}
}

func readValue(b []byte) (value []byte, present bool, rest []byte, err error) {
	if len(b) < 4 {
		return nil, false, nil, fmt.Errorf("short buffer for value length")
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	if n == noValueSentinel {
		return nil, false, b, nil
	}
	if uint32(len(b)) < n {
		return nil, false, nil, fmt.Errorf("short buffer for value body")
	}
	v := make([]byte, n)
	copy(v, b[:n])
	return v, true, b[n:], nil
}
