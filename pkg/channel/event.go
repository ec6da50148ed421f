package channel

import (
	"encoding/json"
	"fmt"

	"github.com/mindweave/mindweave.go/pkg/nodes"
)

// Event is the closed set of envelopes the realtime backend delivers on a
// document stream. Consumers switch over the concrete types; Unknown is the
// explicit fallback for types this client does not recognize.
type Event interface {
	eventType() string
}

// NodeCreated announces a node created by some collaborator, possibly this
// client itself (mutations are echoed back to their originator).
type NodeCreated struct {
	Node  nodes.Node
	Actor string
}

// NodeUpdated carries the changed fields of an existing node.
type NodeUpdated struct {
	UID    string
	Fields nodes.Patch
	Actor  string
}

// NodeDeleted announces the removal of a node and, by policy, its subtree.
type NodeDeleted struct {
	UID   string
	Actor string
}

// OnlineUsers is the full roster of currently connected collaborators.
// Each event replaces the previous roster entirely.
type OnlineUsers struct {
	Users []string
}

// CursorMoved reports another collaborator's canvas cursor.
type CursorMoved struct {
	User string
	X    float64
	Y    float64
}

// NodeSelected reports which node another collaborator has selected.
type NodeSelected struct {
	User string
	UID  string
}

// ServerError is an error the backend chose to report in-band. It is
// delivered to the handler rather than raised, per the wire contract.
type ServerError struct {
	Message string
}

// Unknown wraps an envelope with an unrecognized type tag. Unknown events
// are ignored, not fatal.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (NodeCreated) eventType() string  { return "node_created" }
func (NodeUpdated) eventType() string  { return "node_updated" }
func (NodeDeleted) eventType() string  { return "node_deleted" }
func (OnlineUsers) eventType() string  { return "online_users" }
func (CursorMoved) eventType() string  { return "cursor_moved" }
func (NodeSelected) eventType() string { return "user_selected" }
func (ServerError) eventType() string  { return "error" }
func (u Unknown) eventType() string    { return u.Type }

// DecodeEvent parses one inbound frame into its typed event. A frame that
// is not valid JSON, or is missing its discriminant, is an error; a valid
// envelope with an unrecognized type decodes to Unknown.
func DecodeEvent(data []byte) (Event, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed event frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("event frame without type discriminant")
	}

	switch env.Type {
	case "node_created":
		var p struct {
			Node nodes.Patch `json:"node"`
			User string      `json:"user"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("malformed node_created event: %w", err)
		}
		uid := p.Node.UID()
		if uid == "" {
			return nil, fmt.Errorf("node_created event without node uid")
		}
		n := nodes.Node{UID: uid}
		p.Node.Apply(&n)
		return NodeCreated{Node: n, Actor: p.User}, nil

	case "node_updated":
		var p struct {
			Node nodes.Patch `json:"node"`
			User string      `json:"user"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("malformed node_updated event: %w", err)
		}
		uid := p.Node.UID()
		if uid == "" {
			return nil, fmt.Errorf("node_updated event without node uid")
		}
		return NodeUpdated{UID: uid, Fields: p.Node, Actor: p.User}, nil

	case "node_deleted":
		var p struct {
			NodeID string `json:"node_id"`
			User   string `json:"user"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("malformed node_deleted event: %w", err)
		}
		if p.NodeID == "" {
			return nil, fmt.Errorf("node_deleted event without node uid")
		}
		return NodeDeleted{UID: p.NodeID, Actor: p.User}, nil

	case "online_users":
		var p struct {
			Users []string `json:"users"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("malformed online_users event: %w", err)
		}
		return OnlineUsers{Users: p.Users}, nil

	case "cursor_moved":
		var p struct {
			User string  `json:"user"`
			X    float64 `json:"x"`
			Y    float64 `json:"y"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("malformed cursor_moved event: %w", err)
		}
		return CursorMoved{User: p.User, X: p.X, Y: p.Y}, nil

	case "user_selected":
		var p struct {
			User   string `json:"user"`
			NodeID string `json:"node_id"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("malformed user_selected event: %w", err)
		}
		return NodeSelected{User: p.User, UID: p.NodeID}, nil

	case "error":
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("malformed error event: %w", err)
		}
		return ServerError{Message: p.Message}, nil

	default:
		return Unknown{Type: env.Type, Raw: json.RawMessage(data)}, nil
	}
}
