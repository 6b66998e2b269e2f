package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/nodekit-io/triedb/storage/node"
)

// WriteDeleteList persists the set of addresses a commit is about to
// make reclaimable, tagged with the root (address + optional hash) the
// commit would install if it reaches the final root-move step.
// On open, firewood's recovery reads the record back with ReadDeleteList
// and compares that tagged root against the header's actual root to
// decide whether the commit completed before a crash.
func (fb *FileBacked) WriteDeleteList(rootAddr node.LinearAddress, rootHash node.TrieHash, hasRootHash bool, addrs []node.LinearAddress) (node.LinearAddress, error) {
	buf := make([]byte, 0, 8+1+node.HashSize+4+8*len(addrs))
	var a [8]byte
	binary.LittleEndian.PutUint64(a[:], uint64(rootAddr))
	buf = append(buf, a[:]...)
	if hasRootHash {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, rootHash[:]...)
	var c [4]byte
	binary.LittleEndian.PutUint32(c[:], uint32(len(addrs)))
	buf = append(buf, c[:]...)
	for _, addr := range addrs {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(addr))
		buf = append(buf, b[:]...)
	}

	listAddr, _, err := fb.Allocate(len(buf))
	if err != nil {
		return 0, err
	}
	if err := fb.writeRecord(listAddr, buf); err != nil {
		return 0, err
	}
	if err := fb.Fsync(); err != nil {
		return 0, err
	}
	return listAddr, nil
}

// DeleteListRecord is the decoded form of a WriteDeleteList record.
type DeleteListRecord struct {
	RootAddr    node.LinearAddress
	RootHash    node.TrieHash
	HasRootHash bool
	Addrs       []node.LinearAddress
}

// ReadDeleteList decodes the record written by WriteDeleteList.
func (fb *FileBacked) ReadDeleteList(addr node.LinearAddress) (*DeleteListRecord, error) {
	raw, err := fb.readRecord(addr)
	if err != nil {
		return nil, err
	}
	if len(raw) < 8+1+node.HashSize+4 {
		return nil, fmt.Errorf("%w: truncated delete-list record", ErrCorruptHeader)
	}
	r := &DeleteListRecord{}
	r.RootAddr = node.LinearAddress(binary.LittleEndian.Uint64(raw))
	raw = raw[8:]
	r.HasRootHash = raw[0] == 1
	raw = raw[1:]
	copy(r.RootHash[:], raw[:node.HashSize])
	raw = raw[node.HashSize:]
	count := binary.LittleEndian.Uint32(raw)
	raw = raw[4:]
	r.Addrs = make([]node.LinearAddress, count)
	for i := range r.Addrs {
		r.Addrs[i] = node.LinearAddress(binary.LittleEndian.Uint64(raw))
		raw = raw[8:]
	}
	return r, nil
}
