package firewood

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nodekit-io/triedb/storage"
	"github.com/nodekit-io/triedb/storage/logger"
	"github.com/nodekit-io/triedb/storage/node"
)

// CommittedRevision is a committed, immutable snapshot of the trie. It
// shares ownership of the file-backed store with the manager and with
// every other live revision/proposal; external holders must call
// Acquire/Release around the window they need it pinned, so the
// manager's reaper can tell whether it is safe to reclaim.
type CommittedRevision struct {
	ns         *NodeStore // Kind == *Committed
	deleteList []node.LinearAddress
	extRefs    int32
}

// Acquire pins the revision so the manager's reaper defers reclaiming
// it. Pair with Release.
func (r *CommittedRevision) Acquire() { atomic.AddInt32(&r.extRefs, 1) }

// Release undoes a prior Acquire.
func (r *CommittedRevision) Release() { atomic.AddInt32(&r.extRefs, -1) }

func (r *CommittedRevision) soleOwner() bool { return atomic.LoadInt32(&r.extRefs) == 0 }

// RootHash returns the revision's root hash, or (zero, false) for an
// empty trie.
func (r *CommittedRevision) RootHash() (node.TrieHash, bool) {
	return r.ns.Kind.(*Committed).RootHash()
}

// Get looks up key in this revision.
func (r *CommittedRevision) Get(key []byte) ([]byte, bool, error) {
	return r.ns.Get(key)
}

// RevisionManager is the commit state machine: it owns the file-backed
// store, the bounded deque of committed revisions, the set of live
// proposals and the by-hash index, and serializes commits.
type RevisionManager struct {
	mu sync.Mutex

	maxRevisions uint
	storage      *storage.FileBacked

	historical []*CommittedRevision // oldest at index 0
	proposals  []*NodeStore         // Kind == *ImmutableProposal
	byHash     map[node.TrieHash]*CommittedRevision
}

// OpenManager builds (or opens) the database file at path per cfg and
// reconstructs the manager's initial state.
func OpenManager(path string, cfg Config) (*RevisionManager, error) {
	fb, err := storage.Open(path, int(cfg.nodeCacheSize), int(cfg.freeListCacheSize), cfg.truncate)
	if err != nil {
		return nil, newError(KindIO, err)
	}

	var committed *Committed
	if cfg.truncate {
		committed = newEmptyCommitted()
	} else {
		h := fb.Header()
		committed = openCommitted(h)
		if err := recoverDeleteList(fb, h); err != nil {
			return nil, newError(KindIO, err)
		}
	}

	rev := &CommittedRevision{ns: &NodeStore{Storage: fb, Kind: committed}}
	m := &RevisionManager{
		maxRevisions: cfg.maxRevisions,
		storage:      fb,
		historical:   []*CommittedRevision{rev},
		byHash:       make(map[node.TrieHash]*CommittedRevision),
	}
	if hash, ok := committed.RootHash(); ok {
		m.byHash[hash] = rev
	}
	return m, nil
}

// recoverDeleteList applies the crash-recovery rule: the delete list
// persisted by the last commit is only applied if its tagged root
// matches the root the header actually recovered to (i.e. the root
// move completed before the crash, if any).
func recoverDeleteList(fb *storage.FileBacked, h *storage.Header) error {
	if !h.DeleteListPtr.Valid() {
		return nil
	}
	rec, err := fb.ReadDeleteList(h.DeleteListPtr)
	if err != nil {
		return err
	}
	if rec.RootAddr != h.RootAddr || rec.HasRootHash != h.HasRootHash {
		return nil
	}
	if rec.HasRootHash && rec.RootHash != h.RootHash {
		return nil
	}
	for _, addr := range rec.Addrs {
		if err := fb.FreeRecorded(addr); err != nil {
			return err
		}
	}
	return nil
}

// AddProposal registers a frozen proposal as live, so the manager can
// reparent it if its parent commits. A live proposal does not keep its
// parent revision from being reaped; only Acquire does.
func (m *RevisionManager) AddProposal(p *NodeStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals = append(m.proposals, p)
}

// AllHashes returns every historical committed root hash, oldest first,
// followed by every live proposal's root hash.
func (m *RevisionManager) AllHashes() []node.TrieHash {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]node.TrieHash, 0, len(m.historical)+len(m.proposals))
	for _, r := range m.historical {
		if h, ok := r.RootHash(); ok {
			out = append(out, h)
		}
	}
	for _, p := range m.proposals {
		if h, ok := p.Kind.RootHash(); ok {
			out = append(out, h)
		}
	}
	return out
}

// Revision looks up a committed revision by root hash.
func (m *RevisionManager) Revision(hash node.TrieHash) (*CommittedRevision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byHash[hash]
	if !ok {
		return nil, newError(KindNotFound, errors.New("revision not found"))
	}
	return r, nil
}

// RootHash returns the current tip's root hash.
func (m *RevisionManager) RootHash() (node.TrieHash, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRevisionLocked().RootHash()
}

// CurrentRevision returns the most recently committed revision. There
// is always at least one, even immediately after a truncating open.
func (m *RevisionManager) CurrentRevision() *CommittedRevision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRevisionLocked()
}

func (m *RevisionManager) currentRevisionLocked() *CommittedRevision {
	return m.historical[len(m.historical)-1]
}

// Storage exposes the shared file-backed store, e.g. so NewMutableProposal
// can be built directly against the manager's current tip.
func (m *RevisionManager) Storage() *storage.FileBacked { return m.storage }

// Commit runs the ordered commit sequence: lineage check, persist
// delete list, reap aged revisions, install the new revision, flush
// free-list headers, flush new nodes, move the root, and reparent any
// proposals that were waiting on p.
func (m *RevisionManager) Commit(p *NodeStore) error {
	pp, ok := p.Kind.(*ImmutableProposal)
	if !ok {
		return newError(KindIO, errors.New("commit called on a non-frozen proposal"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. Lineage check.
	current := m.currentRevisionLocked()
	currentHash, hasHash := current.RootHash()
	if !pp.ParentHashIs(currentHash, hasHash) {
		return newError(KindNotLatest, nil)
	}

	// 2. Persist delete list for crash recovery.
	listAddr, err := m.storage.WriteDeleteList(pp.rootAddr, pp.rootHash, pp.hasRootHash, pp.deleteList)
	if err != nil {
		return newError(KindIO, err)
	}

	// 3. Reap aged revisions.
	for uint(len(m.historical)) >= m.maxRevisions {
		oldest := m.historical[0]
		if hash, ok := oldest.RootHash(); ok {
			delete(m.byHash, hash)
		}
		if !oldest.soleOwner() {
			logger.Warn("deferring reap of aged revision: external reference outstanding", logrus.Fields{
				"historical_len": len(m.historical),
			})
			break
		}
		for _, addr := range oldest.deleteList {
			if err := m.storage.FreeRecorded(addr); err != nil {
				return newError(KindIO, err)
			}
		}
		m.historical = m.historical[1:]
	}

	// 4. Install the new committed revision.
	committedRev := &CommittedRevision{
		ns:         &NodeStore{Storage: m.storage, Kind: pp.AsCommitted()},
		deleteList: pp.deleteList,
	}
	m.historical = append(m.historical, committedRev)
	if hash, ok := committedRev.RootHash(); ok {
		m.byHash[hash] = committedRev
	}

	// 5. Flush free-list headers (root not yet moved).
	h5 := m.storage.Header()
	h5.DeleteListPtr = listAddr
	if err := m.storage.FlushHeader(h5); err != nil {
		return newError(KindIO, err)
	}

	// 6. Flush new nodes.
	if err := pp.FlushNodes(m.storage); err != nil {
		return newError(KindIO, err)
	}

	// 7. Root move: the linearization point.
	h7 := m.storage.Header()
	h7.RootAddr = pp.rootAddr
	h7.RootHash = pp.rootHash
	h7.HasRootHash = pp.hasRootHash
	h7.DeleteListPtr = listAddr
	if err := m.storage.FlushHeader(h7); err != nil {
		return newError(KindIO, err)
	}

	// 8. Proposal cleanup: drop p, reparent anything waiting on it.
	m.proposals = removeProposal(m.proposals, p)
	for _, other := range m.proposals {
		pp.CommitReparent(other, committedRev.ns.Kind.(*Committed).rootHash, committedRev.ns.Kind.(*Committed).hasHash)
	}
	return nil
}

func removeProposal(proposals []*NodeStore, target *NodeStore) []*NodeStore {
	out := proposals[:0]
	for _, p := range proposals {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

// AbandonProposal releases a frozen proposal that will never commit,
// returning its reserved addresses to the free lists.
func (m *RevisionManager) AbandonProposal(p *NodeStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals = removeProposal(m.proposals, p)
	pp, ok := p.Kind.(*ImmutableProposal)
	if !ok {
		return nil
	}
	return pp.ReleaseReservation(m.storage)
}
