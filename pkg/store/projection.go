package store

import (
	"iter"
	"sort"

	"github.com/mindweave/mindweave.go/pkg/nodes"
)

// Flat returns copies of every node in insertion order: initial-load order
// first, then arrival order of later creations. Callers must not rely on
// any ordering beyond what Tree provides.
func (s *Store) Flat() []nodes.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]nodes.Node, 0, len(s.order))
	for _, uid := range s.order {
		if n, ok := s.nodes[uid]; ok {
			out = append(out, n.Clone())
		}
	}
	return out
}

// Tree returns a depth-first traversal from the roots, parent before
// children, siblings ordered by creation time then uid. The sequence is
// restartable: each range takes a fresh snapshot, so iterating twice
// yields consistent results even while mutations continue.
//
// A node whose parent has not arrived yet is treated as a root; it finds
// its place once the parent's create lands.
func (s *Store) Tree() iter.Seq[nodes.Node] {
	return func(yield func(nodes.Node) bool) {
		snapshot, roots, children := s.treeIndex()

		var walk func(uid string) bool
		walk = func(uid string) bool {
			if !yield(snapshot[uid]) {
				return false
			}
			for _, child := range children[uid] {
				if !walk(child) {
					return false
				}
			}
			return true
		}

		for _, root := range roots {
			if !walk(root) {
				return
			}
		}
	}
}

// MindMap exports the tree in the renderer's nested format. A single root
// becomes the top-level entry; zero or several roots are wrapped in a
// synthetic one so the output is always a single tree.
func (s *Store) MindMap() *nodes.MindMapNode {
	snapshot, roots, children := s.treeIndex()

	var build func(uid string) *nodes.MindMapNode
	build = func(uid string) *nodes.MindMapNode {
		n := snapshot[uid]
		out := n.Render()
		for _, child := range children[uid] {
			out.Children = append(out.Children, build(child))
		}
		return out
	}

	if len(roots) == 1 {
		return build(roots[0])
	}
	wrapper := &nodes.MindMapNode{
		Data:     map[string]any{"text": "", "uid": ""},
		Children: []*nodes.MindMapNode{},
	}
	for _, root := range roots {
		wrapper.Children = append(wrapper.Children, build(root))
	}
	return wrapper
}

// treeIndex snapshots the collection into value copies plus a sorted
// child index, so traversals run without holding the store lock.
func (s *Store) treeIndex() (map[string]nodes.Node, []string, map[string][]string) {
	s.mu.RLock()

	snapshot := make(map[string]nodes.Node, len(s.nodes))
	for uid, n := range s.nodes {
		snapshot[uid] = n.Clone()
	}
	s.mu.RUnlock()

	var roots []string
	children := make(map[string][]string)
	for uid, n := range snapshot {
		if n.ParentUID == "" {
			roots = append(roots, uid)
			continue
		}
		if _, ok := snapshot[n.ParentUID]; !ok {
			roots = append(roots, uid)
			continue
		}
		children[n.ParentUID] = append(children[n.ParentUID], uid)
	}

	byCreation := func(ids []string) {
		sort.Slice(ids, func(i, j int) bool {
			a, b := snapshot[ids[i]], snapshot[ids[j]]
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.UID < b.UID
		})
	}
	byCreation(roots)
	for _, ids := range children {
		byCreation(ids)
	}

	return snapshot, roots, children
}
