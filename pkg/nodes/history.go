package nodes

import (
	"time"
)

// Action is the kind of historical mutation recorded in the edit log.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionMove appears in batch change lists only; the edit log records
	// moves as updates.
	ActionMove Action = "move"
)

// Collaborator identifies another user of the shared document.
type Collaborator struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// EditLogEntry is one immutable record of the server-owned edit history.
// Entries are append-only; the client never mutates past entries.
type EditLogEntry struct {
	ID       int64          `json:"id"`
	User     Collaborator   `json:"user"`
	Action   Action         `json:"action"`
	NodeText string         `json:"node_text"`
	OldData  map[string]any `json:"old_data,omitempty"`
	NewData  map[string]any `json:"new_data,omitempty"`
	Time     time.Time      `json:"timestamp"`
}

// UserStats is the per-user contribution summary served by the backend.
type UserStats struct {
	TotalNodes        int     `json:"total_nodes"`
	RecentNodes       []Node  `json:"recent_nodes"`
	ProjectTotalNodes int     `json:"project_total_nodes"`
	UserPercentage    float64 `json:"user_percentage"`
}
