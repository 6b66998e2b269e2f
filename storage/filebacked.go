package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/nodekit-io/triedb/storage/node"
)

// FileBacked is the random-access byte file behind every revision and
// proposal. It owns the node cache and the free-list cache; every
// revision/proposal sharing this struct sees the same caches under a
// shared-ownership model.
//
// Grounded on the teacher's file-header pattern (fixed header page,
// ReadAt/WriteAt, decode-on-miss cache population), generalized to
// variable-length node records plus a free-list-aware header.
type FileBacked struct {
	file *os.File

	mu     sync.Mutex // serializes header read-modify-write; data writes don't need it
	header *Header

	nodeCache     *NodeCache
	freeListCache *FreeListCache
}

// Open opens (or, if truncate, creates/zeroes) the file at path and
// validates or initializes its header.
func Open(path string, nodeCacheSize, freeListCacheSize int, truncate bool) (*FileBacked, error) {
	flags := os.O_RDWR | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}

	nc, err := NewNodeCache(nodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("storage: building node cache: %w", err)
	}
	flc, err := NewFreeListCache(freeListCacheSize)
	if err != nil {
		return nil, fmt.Errorf("storage: building free-list cache: %w", err)
	}

	fb := &FileBacked{file: f, nodeCache: nc, freeListCache: flc}

	if truncate {
		fb.header = newEmptyHeader()
		if err := fb.FlushHeader(fb.header); err != nil {
			return nil, err
		}
		return fb, nil
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}
	if info.Size() == 0 {
		// Newly created empty file opened without truncate: treat as fresh.
		fb.header = newEmptyHeader()
		if err := fb.FlushHeader(fb.header); err != nil {
			return nil, err
		}
		return fb, nil
	}

	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrIO, err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	fb.header = h
	return fb, nil
}

// Header returns the current in-memory header. Callers must not mutate
// it in place; use FlushHeader with a modified clone.
func (fb *FileBacked) Header() *Header {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.header.Clone()
}

// FlushHeader writes the fixed-size header region and fsyncs it. This
// is the call whose completion is the commit linearization point: once
// it returns, the new root is durable and visible to any reopen.
func (fb *FileBacked) FlushHeader(h *Header) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	buf := encodeHeader(h)
	if _, err := fb.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: writing header: %v", ErrIO, err)
	}
	if err := fb.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync header: %v", ErrIO, err)
	}
	fb.header = h.Clone()
	return nil
}

// ReadNode returns the decoded node at addr, consulting (and on miss,
// populating) the node cache.
func (fb *FileBacked) ReadNode(addr node.LinearAddress) (node.Node, error) {
	if n, ok := fb.nodeCache.Get(addr); ok {
		return n, nil
	}
	raw, err := fb.readRecord(addr)
	if err != nil {
		return nil, err
	}
	n, err := node.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("storage: decoding node at %s: %w", addr, err)
	}
	fb.nodeCache.Put(addr, n)
	return n, nil
}

// WriteNode encodes and writes n at its pre-allocated address addr. The
// caller is responsible for having reserved addr via the allocator.
func (fb *FileBacked) WriteNode(addr node.LinearAddress, n node.Node) error {
	raw, err := node.Encode(n)
	if err != nil {
		return err
	}
	if err := fb.writeRecord(addr, raw); err != nil {
		return err
	}
	fb.nodeCache.Put(addr, n)
	return nil
}

// InvalidateNode evicts addr from the node cache; called when addr is
// freed so a decoded node is never served after its storage is reused.
func (fb *FileBacked) InvalidateNode(addr node.LinearAddress) {
	fb.nodeCache.Invalidate(addr)
}

// Fsync guarantees all prior writes are durable before returning.
func (fb *FileBacked) Fsync() error {
	if err := fb.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %v", ErrIO, err)
	}
	return nil
}

// Close releases the underlying file handle.
func (fb *FileBacked) Close() error {
	return fb.file.Close()
}

// --- raw record I/O, used by ReadNode/WriteNode and by the free-list ---

// recordHeaderSize is the length prefix every stored record carries so
// it is self-delimiting on read.
const recordHeaderSize = 4

func (fb *FileBacked) readRecord(addr node.LinearAddress) ([]byte, error) {
	if !addr.Valid() {
		return nil, fmt.Errorf("%w: read at invalid address", ErrInvariant)
	}
	lenBuf := make([]byte, recordHeaderSize)
	if _, err := fb.file.ReadAt(lenBuf, int64(addr)); err != nil {
		return nil, fmt.Errorf("%w: reading record length at %s: %v", ErrIO, addr, err)
	}
	n := le32(lenBuf)
	body := make([]byte, n)
	if _, err := fb.file.ReadAt(body, int64(addr)+recordHeaderSize); err != nil {
		return nil, fmt.Errorf("%w: reading record body at %s: %v", ErrIO, addr, err)
	}
	return body, nil
}

func (fb *FileBacked) writeRecord(addr node.LinearAddress, body []byte) error {
	if !addr.Valid() {
		return fmt.Errorf("%w: write at invalid address", ErrInvariant)
	}
	buf := make([]byte, recordHeaderSize+len(body))
	putLE32(buf, uint32(len(body)))
	copy(buf[recordHeaderSize:], body)
	if _, err := fb.file.WriteAt(buf, int64(addr)); err != nil {
		return fmt.Errorf("%w: writing record at %s: %v", ErrIO, addr, err)
	}
	return nil
}

// readRawAt/writeRawAt give the free-list chain access to the first
// bytes of a freed record (used to store the next-pointer) without
// going through the node-record framing.
func (fb *FileBacked) readRawAt(addr node.LinearAddress, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := fb.file.ReadAt(buf, int64(addr)); err != nil {
		return nil, fmt.Errorf("%w: reading raw at %s: %v", ErrIO, addr, err)
	}
	return buf, nil
}

func (fb *FileBacked) writeRawAt(addr node.LinearAddress, buf []byte) error {
	if _, err := fb.file.WriteAt(buf, int64(addr)); err != nil {
		return fmt.Errorf("%w: writing raw at %s: %v", ErrIO, addr, err)
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
