package nodes

// MindMapNode is the renderer-facing export format: every node becomes a
// data object with its children nested below it, the shape the
// simple-mind-map family of renderers consumes directly.
type MindMapNode struct {
	Data     map[string]any `json:"data"`
	Children []*MindMapNode `json:"children"`
}

// Render converts a node into its export data object. Extra data keys are
// spread into the object next to the modeled fields, matching the backend's
// own export.
func (n *Node) Render() *MindMapNode {
	data := map[string]any{
		"uid":       n.UID,
		"text":      n.Text,
		"image":     n.Image,
		"hyperlink": n.Hyperlink,
		"note":      n.Note,
	}
	if n.BackgroundColor != "" {
		data["backgroundColor"] = n.BackgroundColor
	}
	if n.FontColor != "" {
		data["color"] = n.FontColor
	}
	if n.FontSize != 0 {
		data["fontSize"] = n.FontSize
	}
	if n.FontWeight != "" {
		data["fontWeight"] = n.FontWeight
	}
	if !n.CreatedAt.IsZero() {
		data["created_at"] = n.CreatedAt
	}
	for k, v := range n.ExtraData {
		data[k] = v
	}
	return &MindMapNode{Data: data, Children: []*MindMapNode{}}
}
