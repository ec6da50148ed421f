package nodes

import (
	"time"
)

// Patch is a partial node payload keyed by wire field name. It is the shape
// of both a local update request body and the node object carried by a
// node_updated event: only the keys present are merged, every other field
// of the target node is preserved.
type Patch map[string]any

// UID extracts the node identity from a patch, accepting the aliases the
// backend uses across its two surfaces (node_id on REST, id on realtime).
func (p Patch) UID() string {
	for _, key := range []string{"node_id", "uid", "id"} {
		if v, ok := p[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// identity and server-owned keys that Apply must never fold into ExtraData
var reservedPatchKeys = map[string]struct{}{
	"id":             {},
	"node_id":        {},
	"uid":            {},
	"creator":        {},
	"user":           {},
	"can_delete":     {},
	"children_count": {},
}

// Apply merges the patch into n, field by field, last write wins. Keys the
// engine does not model are preserved under ExtraData rather than dropped.
func (p Patch) Apply(n *Node) {
	for key, val := range p {
		switch key {
		case "text":
			setString(val, &n.Text)
		case "image":
			setString(val, &n.Image)
		case "hyperlink":
			setString(val, &n.Hyperlink)
		case "note":
			setString(val, &n.Note)
		case "background_color":
			setString(val, &n.BackgroundColor)
		case "font_color":
			setString(val, &n.FontColor)
		case "font_weight":
			setString(val, &n.FontWeight)
		case "font_size":
			if f, ok := asFloat(val); ok {
				n.FontSize = int(f)
			}
		case "position_x":
			if f, ok := asFloat(val); ok {
				n.Position.X = f
			}
		case "position_y":
			if f, ok := asFloat(val); ok {
				n.Position.Y = f
			}
		case "parent_uid", "parent":
			if val == nil {
				n.ParentUID = ""
			} else {
				setString(val, &n.ParentUID)
			}
		case "extra_data":
			if m, ok := val.(map[string]any); ok {
				if n.ExtraData == nil {
					n.ExtraData = make(map[string]any, len(m))
				}
				for k, v := range m {
					n.ExtraData[k] = v
				}
			}
		case "created_at":
			setTime(val, &n.CreatedAt)
		case "updated_at":
			setTime(val, &n.UpdatedAt)
		default:
			if _, reserved := reservedPatchKeys[key]; reserved {
				continue
			}
			if n.ExtraData == nil {
				n.ExtraData = make(map[string]any, 1)
			}
			n.ExtraData[key] = val
		}
	}
}

func setString(val any, dst *string) {
	if s, ok := val.(string); ok {
		*dst = s
	}
}

func asFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func setTime(val any, dst *time.Time) {
	s, ok := val.(string)
	if !ok {
		return
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		*dst = t
	}
}
