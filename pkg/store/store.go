// Package store holds the authoritative client-side view of a document's
// node collection. Local mutations land here only after the gateway has
// confirmed them; remote mutations arrive as channel events. Both paths
// funnel through the store's own methods under one lock, so the
// check-then-act de-duplication below is race-free no matter how a
// client's own HTTP acknowledgement interleaves with its echoed event.
package store

import (
	"errors"
	"sync"

	"github.com/mindweave/mindweave.go/pkg/channel"
	"github.com/mindweave/mindweave.go/pkg/nodes"
)

var (
	// ErrNodeNotFound reports an operation against a uid the store does
	// not hold.
	ErrNodeNotFound = errors.New("node not found")
	// ErrConflictingMove reports a move that would make a node an ancestor
	// of itself. Rejected locally, never sent to the backend.
	ErrConflictingMove = errors.New("move would create a cycle")
)

// Undelivered updates for a uid whose create has not arrived yet are
// buffered up to this many patches, then the oldest are shed.
const maxPendingPerNode = 32

// Kind classifies a change notification.
type Kind int

const (
	KindLoaded Kind = iota
	KindCreated
	KindUpdated
	KindDeleted
	KindMoved
)

// Change describes one effective store mutation, delivered to subscribers
// after the mutation has been applied.
type Change struct {
	Kind Kind
	UID  string
}

// Store is the in-memory node collection plus its bookkeeping: insertion
// order for the flat projection, tombstones for deleted uids, and a
// pending buffer for updates that outran their create.
//
// The node map is exclusively owned; projections hand out copies.
type Store struct {
	mu         sync.RWMutex
	nodes      map[string]*nodes.Node
	order      []string
	tombstones map[string]struct{}
	pending    map[string][]nodes.Patch

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		nodes:      make(map[string]*nodes.Node),
		tombstones: make(map[string]struct{}),
		pending:    make(map[string][]nodes.Patch),
		subs:       make(map[int]func(Change)),
	}
}

// Subscribe registers fn to be called after every effective mutation, in
// mutation order, outside the store lock. The returned function cancels
// the subscription.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, ch := range changes {
		for _, fn := range fns {
			fn(ch)
		}
	}
}

// Load replaces the whole collection from an authoritative flat list, as
// served by the initial fetch. Insertion order follows the given order.
// Tombstones and pending buffers are reset: the server list is the truth.
func (s *Store) Load(ns []nodes.Node) {
	s.mu.Lock()
	s.nodes = make(map[string]*nodes.Node, len(ns))
	s.order = s.order[:0]
	s.tombstones = make(map[string]struct{})
	s.pending = make(map[string][]nodes.Patch)
	for i := range ns {
		n := ns[i].Clone()
		if n.UID == "" {
			continue
		}
		if _, dup := s.nodes[n.UID]; dup {
			continue
		}
		s.nodes[n.UID] = &n
		s.order = append(s.order, n.UID)
	}
	s.recountChildrenLocked()
	s.mu.Unlock()

	s.notify([]Change{{Kind: KindLoaded}})
}

// ApplyLocalCreate records a node confirmed by the gateway. It is
// idempotent by uid: re-applying a create for an existing uid replaces
// fields rather than duplicating, so the echoed realtime event and the
// HTTP acknowledgement can land in either order and leave one node.
func (s *Store) ApplyLocalCreate(n nodes.Node) {
	if n.UID == "" {
		return
	}
	s.mu.Lock()
	changes := s.upsertLocked(n, true)
	s.mu.Unlock()
	s.notify(changes)
}

// ApplyLocalUpdate merges confirmed fields into an existing node. The node
// may have been deleted by a concurrent remote event in the meantime; that
// is reported as ErrNodeNotFound and the update is dropped, matching the
// fate of any other late write against a removed subtree.
func (s *Store) ApplyLocalUpdate(uid string, patch nodes.Patch) error {
	s.mu.Lock()
	n, ok := s.nodes[uid]
	if !ok {
		s.mu.Unlock()
		return ErrNodeNotFound
	}
	changes := s.patchLocked(n, patch)
	s.mu.Unlock()
	s.notify(changes)
	return nil
}

// ApplyLocalDelete removes a confirmed-deleted node and cascades to its
// descendants. Every removed uid is tombstoned so stragglers for the
// subtree become no-ops instead of resurrected ghosts.
func (s *Store) ApplyLocalDelete(uid string) {
	s.mu.Lock()
	changes := s.deleteLocked(uid)
	s.mu.Unlock()
	s.notify(changes)
}

// ValidateMove checks a re-parenting without mutating anything. It fails
// with ErrConflictingMove when newParentUID is the node itself or one of
// its descendants, and with ErrNodeNotFound for unknown uids. An empty
// newParentUID moves the node to the root.
func (s *Store) ValidateMove(uid, newParentUID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validateMoveLocked(uid, newParentUID)
}

// ApplyMove re-parents a node after gateway confirmation. The validation
// runs again under the write lock; the tree may have changed since the
// pre-flight check.
func (s *Store) ApplyMove(uid, newParentUID string) error {
	s.mu.Lock()
	if err := s.validateMoveLocked(uid, newParentUID); err != nil {
		s.mu.Unlock()
		return err
	}
	n := s.nodes[uid]
	s.adjustChildCountLocked(n.ParentUID, -1)
	n.ParentUID = newParentUID
	s.adjustChildCountLocked(newParentUID, +1)
	s.mu.Unlock()

	s.notify([]Change{{Kind: KindMoved, UID: uid}})
	return nil
}

// ApplyRemote applies one realtime event. Creation is de-duplicated by
// uid, not event identity: the same logical creation can arrive through
// both the HTTP acknowledgement and the echoed event. Updates for unknown
// uids are buffered until their create lands; anything addressed to a
// tombstoned uid is dropped. Non-node events are ignored here; presence is
// tracked elsewhere.
func (s *Store) ApplyRemote(ev channel.Event) {
	var changes []Change

	s.mu.Lock()
	switch e := ev.(type) {
	case channel.NodeCreated:
		changes = s.remoteCreateLocked(e.Node)
	case channel.NodeUpdated:
		changes = s.remoteUpdateLocked(e.UID, e.Fields)
	case channel.NodeDeleted:
		changes = s.remoteDeleteLocked(e.UID)
	}
	s.mu.Unlock()

	s.notify(changes)
}

// Get returns a copy of the node with the given uid.
func (s *Store) Get(uid string) (nodes.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[uid]
	if !ok {
		return nodes.Node{}, false
	}
	return n.Clone(), true
}

// Len returns the number of nodes currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// --------------------------------------------------
// locked internals
// --------------------------------------------------

func (s *Store) upsertLocked(n nodes.Node, replaceExisting bool) []Change {
	if _, dead := s.tombstones[n.UID]; dead {
		return nil
	}

	existing, ok := s.nodes[n.UID]
	if ok {
		if !replaceExisting {
			return nil
		}
		oldParent := existing.ParentUID
		childrenCount := existing.ChildrenCount
		clone := n.Clone()
		clone.ChildrenCount = childrenCount
		*existing = clone
		if oldParent != existing.ParentUID {
			s.adjustChildCountLocked(oldParent, -1)
			s.adjustChildCountLocked(existing.ParentUID, +1)
		}
		return []Change{{Kind: KindUpdated, UID: n.UID}}
	}

	clone := n.Clone()
	// Children whose create outran this one are already in the map.
	clone.ChildrenCount = 0
	for _, other := range s.nodes {
		if other.ParentUID == clone.UID {
			clone.ChildrenCount++
		}
	}
	s.nodes[n.UID] = &clone
	s.order = append(s.order, n.UID)
	s.adjustChildCountLocked(clone.ParentUID, +1)

	changes := []Change{{Kind: KindCreated, UID: n.UID}}
	changes = append(changes, s.replayPendingLocked(n.UID)...)
	return changes
}

func (s *Store) remoteCreateLocked(n nodes.Node) []Change {
	// Insert only if the uid is new; the originating client already holds
	// its own optimistic copy and must not end up with two.
	return s.upsertLocked(n, false)
}

func (s *Store) remoteUpdateLocked(uid string, patch nodes.Patch) []Change {
	if _, dead := s.tombstones[uid]; dead {
		return nil
	}
	n, ok := s.nodes[uid]
	if !ok {
		queue := s.pending[uid]
		if len(queue) >= maxPendingPerNode {
			queue = queue[1:]
		}
		s.pending[uid] = append(queue, patch)
		return nil
	}
	return s.patchLocked(n, patch)
}

func (s *Store) remoteDeleteLocked(uid string) []Change {
	if _, ok := s.nodes[uid]; ok {
		return s.deleteLocked(uid)
	}
	// Delete arrived before the create. Tombstone the uid so the eventual
	// create is dropped rather than resurrecting the node.
	s.tombstones[uid] = struct{}{}
	delete(s.pending, uid)
	return nil
}

func (s *Store) patchLocked(n *nodes.Node, patch nodes.Patch) []Change {
	oldParent := n.ParentUID
	patch.Apply(n)
	changes := []Change{{Kind: KindUpdated, UID: n.UID}}
	if n.ParentUID != oldParent {
		if s.wouldCycleLocked(n.UID, n.ParentUID) {
			// A re-parent that folds the tree into a cycle would leave the
			// projections without a root. Keep the old parent; the rest of
			// the patch stands.
			n.ParentUID = oldParent
			return changes
		}
		s.adjustChildCountLocked(oldParent, -1)
		s.adjustChildCountLocked(n.ParentUID, +1)
		changes = append(changes, Change{Kind: KindMoved, UID: n.UID})
	}
	return changes
}

func (s *Store) replayPendingLocked(uid string) []Change {
	queue, ok := s.pending[uid]
	if !ok {
		return nil
	}
	delete(s.pending, uid)

	n := s.nodes[uid]
	var changes []Change
	for _, patch := range queue {
		changes = append(changes, s.patchLocked(n, patch)...)
	}
	return changes
}

func (s *Store) deleteLocked(uid string) []Change {
	root, ok := s.nodes[uid]
	if !ok {
		return nil
	}

	doomed := s.subtreeLocked(uid)
	s.adjustChildCountLocked(root.ParentUID, -1)

	changes := make([]Change, 0, len(doomed))
	for _, id := range doomed {
		delete(s.nodes, id)
		s.tombstones[id] = struct{}{}
		delete(s.pending, id)
		changes = append(changes, Change{Kind: KindDeleted, UID: id})
	}
	s.pruneOrderLocked()
	return changes
}

// subtreeLocked returns uid plus every transitive descendant, parents
// before children.
func (s *Store) subtreeLocked(uid string) []string {
	children := make(map[string][]string, len(s.nodes))
	for id, n := range s.nodes {
		if n.ParentUID != "" {
			children[n.ParentUID] = append(children[n.ParentUID], id)
		}
	}

	out := []string{uid}
	seen := map[string]struct{}{uid: {}}
	for i := 0; i < len(out); i++ {
		for _, child := range children[out[i]] {
			if _, dup := seen[child]; dup {
				continue
			}
			seen[child] = struct{}{}
			out = append(out, child)
		}
	}
	return out
}

func (s *Store) validateMoveLocked(uid, newParentUID string) error {
	if _, ok := s.nodes[uid]; !ok {
		return ErrNodeNotFound
	}
	if newParentUID == "" {
		return nil
	}
	if _, ok := s.nodes[newParentUID]; !ok {
		return ErrNodeNotFound
	}
	if s.wouldCycleLocked(uid, newParentUID) {
		return ErrConflictingMove
	}
	return nil
}

// wouldCycleLocked walks the ancestor chain of parentUID. Finding uid there
// means parenting uid under parentUID would fold the tree into a cycle. The
// step bound guards against walking a corrupt parent chain forever.
func (s *Store) wouldCycleLocked(uid, parentUID string) bool {
	if parentUID == "" {
		return false
	}
	if parentUID == uid {
		return true
	}
	cursor, ok := s.nodes[parentUID]
	if !ok {
		return false
	}
	for steps := 0; steps <= len(s.nodes); steps++ {
		if cursor.UID == uid {
			return true
		}
		if cursor.ParentUID == "" {
			return false
		}
		next, ok := s.nodes[cursor.ParentUID]
		if !ok {
			return false
		}
		cursor = next
	}
	return true
}

func (s *Store) adjustChildCountLocked(parentUID string, delta int) {
	if parentUID == "" {
		return
	}
	if parent, ok := s.nodes[parentUID]; ok {
		parent.ChildrenCount += delta
		if parent.ChildrenCount < 0 {
			parent.ChildrenCount = 0
		}
	}
}

func (s *Store) recountChildrenLocked() {
	for _, n := range s.nodes {
		n.ChildrenCount = 0
	}
	for _, n := range s.nodes {
		if n.ParentUID == "" {
			continue
		}
		if parent, ok := s.nodes[n.ParentUID]; ok {
			parent.ChildrenCount++
		}
	}
}

func (s *Store) pruneOrderLocked() {
	kept := s.order[:0]
	for _, uid := range s.order {
		if _, ok := s.nodes[uid]; ok {
			kept = append(kept, uid)
		}
	}
	s.order = kept
}
