package storage

import "golang.org/x/xerrors"

// ErrIO wraps any underlying read, write or fsync failure. Callers use
// fmt.Errorf("%w: ...: %v", ErrIO, err), so errors.Is(err, ErrIO) holds
// and the OS cause is kept in the message text; the cause itself is not
// reachable through errors.Unwrap.
var ErrIO = xerrors.New("storage: io error")

// ErrInvariant marks a programming error: an allocator handing out an
// address already in use, a free-list chain pointing at live data, and
// similar conditions that must abort loudly rather than be retried.
var ErrInvariant = xerrors.New("storage: invariant violation")

// ErrCorruptHeader means the file's header region failed magic/version
// validation on open, or a persisted delete-list record is truncated.
var ErrCorruptHeader = xerrors.New("storage: corrupt or foreign header")
