// Package node defines the on-disk trie node model: addresses, hashes,
// paths and the branch/leaf shapes described by the storage layout.
package node

import "fmt"

// LinearAddress is a byte offset into the backing file. Zero is reserved
// to mean "no address" so that a freshly zeroed struct is a valid "empty"
// value without a separate boolean flag.
type LinearAddress uint64

// Valid reports whether the address refers to an actual on-disk record.
func (a LinearAddress) Valid() bool {
	return a != 0
}

func (a LinearAddress) String() string {
	if !a.Valid() {
		return "<none>"
	}
	return fmt.Sprintf("0x%x", uint64(a))
}
