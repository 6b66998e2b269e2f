package storage

import (
	"encoding/binary"

	"github.com/nodekit-io/triedb/storage/node"
)

// magic identifies a triedb file; version gates format changes.
var magicBytes = [8]byte{'t', 'r', 'i', 'e', 'd', 'b', '0', '1'}

const headerVersion uint32 = 1

// NumSizeClasses is the number of free-list size buckets the allocator
// maintains. Each class doubles the previous one's capacity, starting
// at minClassSize, which comfortably holds the smallest leaf encoding
// (tag + short path + short value).
const NumSizeClasses = 10

const minClassSize = 64

// HeaderSize is the fixed width of the reserved header region at
// offset 0. Everything after it is densely packed node records
// addressable by LinearAddress.
const HeaderSize = 8 + 4 + 8 + 1 + node.HashSize + 8*NumSizeClasses + 8 + 8

// Header is the decoded form of the fixed header region: magic/version,
// the current committed root, the free-list chain heads and the
// bump-allocator high-water mark, plus a pointer to the persisted
// delete list used for crash recovery.
type Header struct {
	RootAddr      node.LinearAddress
	RootHash      node.TrieHash
	HasRootHash   bool
	FreeListHeads [NumSizeClasses]node.LinearAddress
	NextFree      node.LinearAddress
	DeleteListPtr node.LinearAddress
}

// classSize returns the usable record size of size class i.
func classSize(i int) int {
	return minClassSize << uint(i)
}

// sizeClassFor returns the smallest class whose size covers n bytes, or
// -1 if n exceeds the largest class (callers fall back to a direct,
// unrecycled bump allocation for oversized records).
func sizeClassFor(n int) int {
	for i := 0; i < NumSizeClasses; i++ {
		if classSize(i) >= n {
			return i
		}
	}
	return -1
}

func newEmptyHeader() *Header {
	h := &Header{NextFree: node.LinearAddress(HeaderSize)}
	return h
}

func encodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	off := 0
	copy(buf[off:], magicBytes[:])
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], headerVersion)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.RootAddr))
	off += 8
	if h.HasRootHash {
		buf[off] = 1
	}
	off++
	copy(buf[off:], h.RootHash[:])
	off += node.HashSize
	for i := 0; i < NumSizeClasses; i++ {
		binary.LittleEndian.PutUint64(buf[off:], uint64(h.FreeListHeads[i]))
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.NextFree))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.DeleteListPtr))
	off += 8
	return buf
}

func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, ErrCorruptHeader
	}
	if string(buf[:8]) != string(magicBytes[:]) {
		return nil, ErrCorruptHeader
	}
	off := 8
	version := binary.LittleEndian.Uint32(buf[off:])
	if version != headerVersion {
		return nil, ErrCorruptHeader
	}
	off += 4
	h := &Header{}
	h.RootAddr = node.LinearAddress(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.HasRootHash = buf[off] == 1
	off++
	copy(h.RootHash[:], buf[off:off+node.HashSize])
	off += node.HashSize
	for i := 0; i < NumSizeClasses; i++ {
		h.FreeListHeads[i] = node.LinearAddress(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
	}
	h.NextFree = node.LinearAddress(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.DeleteListPtr = node.LinearAddress(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	return h, nil
}

// Clone returns a deep copy of the header, used so in-flight mutation of
// free-list heads during a commit never aliases the last flushed header.
func (h *Header) Clone() *Header {
	cp := *h
	return &cp
}
