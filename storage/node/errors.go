package node

import "golang.org/x/xerrors"

// ErrInvariant marks a programming error rather than a recoverable
// condition: an encoding request that would silently corrupt the
// store. Callers should treat it as fatal to the operation in
// progress, not retry it.
var ErrInvariant = xerrors.New("node: invariant violation")
