package firewood

import (
	"github.com/nodekit-io/triedb/storage/node"
)

// Db is the public surface consumed by the benchmark/CLI collaborator:
// open a file, propose batches against the current tip, commit one
// proposal at a time, and look up committed revisions by hash.
type Db struct {
	manager *RevisionManager
}

// Open opens (or, with WithTruncate(true), creates) the database at
// path.
func Open(path string, opts ...Option) (*Db, error) {
	cfg := NewConfig(opts...)
	m, err := OpenManager(path, cfg)
	if err != nil {
		return nil, err
	}
	return &Db{manager: m}, nil
}

// RootHash returns the hash of the current committed tip, or
// (zero, false) for an empty trie.
func (db *Db) RootHash() (node.TrieHash, bool) {
	return db.manager.RootHash()
}

// AllHashes returns every historical committed root hash plus every
// live proposal's root hash.
func (db *Db) AllHashes() []node.TrieHash {
	return db.manager.AllHashes()
}

// Revision returns the committed revision with the given root hash.
func (db *Db) Revision(hash node.TrieHash) (*CommittedRevision, error) {
	return db.manager.Revision(hash)
}

// CurrentRevision returns the current committed tip.
func (db *Db) CurrentRevision() *CommittedRevision {
	return db.manager.CurrentRevision()
}

// Get looks up key against the current committed tip.
func (db *Db) Get(key []byte) ([]byte, bool, error) {
	return db.manager.CurrentRevision().Get(key)
}

// Propose builds and freezes a proposal applying batch against the
// current committed tip.
func (db *Db) Propose(batch Batch) (*Proposal, error) {
	return proposeAgainst(db.manager, db.manager.CurrentRevision().ns, batch)
}

// Close releases the underlying file handle.
func (db *Db) Close() error {
	return db.manager.storage.Close()
}

// Proposal is a pending set of mutations layered over a parent
// revision. It becomes a CommittedRevision on a successful Commit.
type Proposal struct {
	manager *RevisionManager
	ns      *NodeStore // Kind == *ImmutableProposal
}

func proposeAgainst(m *RevisionManager, base *NodeStore, batch Batch) (*Proposal, error) {
	mutable, err := NewMutableProposal(m.storage, base)
	if err != nil {
		return nil, err
	}
	if err := mutable.Apply(batch); err != nil {
		return nil, err
	}
	frozen, err := mutable.Freeze()
	if err != nil {
		return nil, err
	}
	m.AddProposal(frozen)
	return &Proposal{manager: m, ns: frozen}, nil
}

// Propose builds a child proposal layered over p, without requiring p
// to have committed first: proposals chain against any committed
// revision or another live proposal.
func (p *Proposal) Propose(batch Batch) (*Proposal, error) {
	return proposeAgainst(p.manager, p.ns, batch)
}

// RootHash returns the proposal's root hash, or (zero, false) for a
// proposal that empties the trie.
func (p *Proposal) RootHash() (node.TrieHash, bool) {
	return p.ns.Kind.RootHash()
}

// Get looks up key against this proposal's (uncommitted) state.
func (p *Proposal) Get(key []byte) ([]byte, bool, error) {
	return p.ns.Get(key)
}

// Commit attempts to commit p. Returns a *ManagerError with Kind
// KindNotLatest if p's parent is no longer the current tip.
func (p *Proposal) Commit() error {
	return p.manager.Commit(p.ns)
}

// Abandon releases p without committing it, returning its reserved
// addresses to the free lists.
func (p *Proposal) Abandon() error {
	return p.manager.AbandonProposal(p.ns)
}
