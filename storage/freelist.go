package storage

import (
	"encoding/binary"

	"github.com/nodekit-io/triedb/storage/node"
)

// Allocate reserves space for a node-of-size bytes, rounding up to the
// smallest size class that covers it. It first tries the class's free
// chain; if empty, it bumps the end-of-file pointer. The free-list
// cache is consulted first to avoid re-reading a chain head that is
// already known, then kept in sync with the change.
//
// Allocation mutates the in-memory header immediately so two
// allocations in flight (e.g. two proposals under construction against
// different parents) never hand out the same address; the header is
// not fsynced here, only at commit time, which is why a crash before a
// proposal commits simply loses the advance.
func (fb *FileBacked) Allocate(size int) (node.LinearAddress, int, error) {
	record := size + recordHeaderSize
	class := sizeClassFor(record)

	fb.mu.Lock()
	defer fb.mu.Unlock()

	if class >= 0 {
		head, ok := fb.freeListCache.Get(class)
		if !ok {
			head = fb.header.FreeListHeads[class]
		}
		if head.Valid() {
			next, err := fb.readFreeChainNextLocked(head)
			if err != nil {
				return 0, 0, err
			}
			fb.header.FreeListHeads[class] = next
			fb.freeListCache.Put(class, next)
			fb.nodeCache.Invalidate(head)
			return head, class, nil
		}
	}

	addr := fb.header.NextFree
	reserve := record
	if class >= 0 {
		reserve = classSize(class) + recordHeaderSize
	}
	fb.header.NextFree = addr + node.LinearAddress(reserve)
	return addr, class, nil
}

// Free pushes addr (whose record belongs to size class class, or -1
// for an oversized, non-recycled record) onto its free chain. This is
// the only path through which a deleted address becomes available for
// reuse; it is called from commit's reap step and from
// proposal-abandon, never directly by trie mutation code.
func (fb *FileBacked) Free(addr node.LinearAddress, class int) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.nodeCache.Invalidate(addr)
	if class < 0 {
		// Oversized records are never recycled; they are simply
		// abandoned: the address is no longer reachable and no longer
		// "owned" by any live proposal, it is just not reusable.
		return nil
	}
	head, ok := fb.freeListCache.Get(class)
	if !ok {
		head = fb.header.FreeListHeads[class]
	}
	var nextBuf [8]byte
	binary.LittleEndian.PutUint64(nextBuf[:], uint64(head))
	if err := fb.writeRawAt(addr, nextBuf[:]); err != nil {
		return err
	}
	fb.header.FreeListHeads[class] = addr
	fb.freeListCache.Put(class, addr)
	return nil
}

func (fb *FileBacked) readFreeChainNextLocked(addr node.LinearAddress) (node.LinearAddress, error) {
	buf, err := fb.readRawAt(addr, 8)
	if err != nil {
		return 0, err
	}
	return node.LinearAddress(binary.LittleEndian.Uint64(buf)), nil
}

// ClassFor reports the size class a record of n bytes (payload, not
// counting the record length prefix) would be allocated into, for
// callers that need to recompute it when freeing (e.g. after decoding a
// node back out to know how large its original record was).
func ClassFor(payloadLen int) int {
	return sizeClassFor(payloadLen + recordHeaderSize)
}

// CurrentFreeListHeads exposes the in-memory free-chain heads, mostly
// for tests asserting free-list invariants.
func (fb *FileBacked) CurrentFreeListHeads() [NumSizeClasses]node.LinearAddress {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.header.FreeListHeads
}

// FreeRecorded reclaims the record at addr, reading its stored length
// prefix to determine which size class it belongs to. Used for
// commit's deferred-free list and for crash recovery, where the record
// was written and its length prefix is on disk; callers never need to
// track a node's size class themselves.
func (fb *FileBacked) FreeRecorded(addr node.LinearAddress) error {
	lenBuf, err := fb.readRawAt(addr, recordHeaderSize)
	if err != nil {
		return err
	}
	payloadLen := int(le32(lenBuf))
	return fb.Free(addr, ClassFor(payloadLen))
}
