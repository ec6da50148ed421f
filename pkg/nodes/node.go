// Package nodes defines the data model shared by the store, the mutation
// gateway and the realtime channel: the mind-map node itself, partial field
// patches, and the read-only history/statistics records served by the
// backend.
package nodes

import (
	"time"
)

// Node is one element of the shared mind-map tree.
//
// UID is globally unique and stable across moves. ParentUID is empty only
// for a document root. The JSON keys match the backend serializer, so a
// Node round-trips unchanged through both the HTTP and the realtime
// surfaces.
type Node struct {
	UID       string  `json:"node_id"`
	ParentUID string  `json:"parent_uid,omitempty"`
	Text      string  `json:"text"`
	Image     string  `json:"image,omitempty"`
	Hyperlink string  `json:"hyperlink,omitempty"`
	Note      string  `json:"note,omitempty"`

	Style
	Position

	// ExtraData is carried through unchanged; the engine never interprets it.
	ExtraData map[string]any `json:"extra_data,omitempty"`

	// ChildrenCount is derived and cached for display only. The store keeps
	// it in sync with the parent index.
	ChildrenCount int  `json:"children_count,omitempty"`
	CanDelete     bool `json:"can_delete,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Style groups the display attributes of a node.
type Style struct {
	BackgroundColor string `json:"background_color,omitempty"`
	FontColor       string `json:"font_color,omitempty"`
	FontSize        int    `json:"font_size,omitempty"`
	FontWeight      string `json:"font_weight,omitempty"`
}

// Position is a freeform canvas coordinate, independent of tree order.
type Position struct {
	X float64 `json:"position_x"`
	Y float64 `json:"position_y"`
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool {
	return n.ParentUID == ""
}

// Clone returns a deep copy. ExtraData is copied one level deep, which is
// enough to keep callers from mutating the store's map through a projection.
func (n *Node) Clone() Node {
	out := *n
	if n.ExtraData != nil {
		out.ExtraData = make(map[string]any, len(n.ExtraData))
		for k, v := range n.ExtraData {
			out.ExtraData[k] = v
		}
	}
	return out
}
