// Package presence tracks which collaborators are connected to a document
// right now, plus their live cursors and node selections. Everything here
// is derived from roster and presence events; the tracker owns nothing and
// is fully replaced or cleared as events dictate.
package presence

import (
	"sort"
	"sync"
)

// Cursor is a collaborator's last reported canvas position.
type Cursor struct {
	X float64
	Y float64
}

// Tracker is the live roster. Each online_users event replaces the roster
// wholesale; there is no incremental reconciliation and no staleness
// timeout. The last roster holds until the channel closes, at which point
// everything is cleared.
type Tracker struct {
	mu         sync.RWMutex
	online     map[string]struct{}
	cursors    map[string]Cursor
	selections map[string]string
}

// NewTracker returns an empty roster.
func NewTracker() *Tracker {
	return &Tracker{
		online:     make(map[string]struct{}),
		cursors:    make(map[string]Cursor),
		selections: make(map[string]string),
	}
}

// Replace installs a new roster. Cursors and selections of users no longer
// on the roster are dropped with them.
func (t *Tracker) Replace(users []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.online = make(map[string]struct{}, len(users))
	for _, u := range users {
		t.online[u] = struct{}{}
	}
	for u := range t.cursors {
		if _, ok := t.online[u]; !ok {
			delete(t.cursors, u)
		}
	}
	for u := range t.selections {
		if _, ok := t.online[u]; !ok {
			delete(t.selections, u)
		}
	}
}

// SetCursor records a collaborator's cursor position.
func (t *Tracker) SetCursor(user string, x, y float64) {
	t.mu.Lock()
	t.cursors[user] = Cursor{X: x, Y: y}
	t.mu.Unlock()
}

// SetSelection records which node a collaborator has selected. An empty
// uid clears the selection.
func (t *Tracker) SetSelection(user, nodeUID string) {
	t.mu.Lock()
	if nodeUID == "" {
		delete(t.selections, user)
	} else {
		t.selections[user] = nodeUID
	}
	t.mu.Unlock()
}

// Online returns the sorted roster.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.online))
	for u := range t.online {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// IsOnline reports whether the user is on the current roster.
func (t *Tracker) IsOnline(user string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[user]
	return ok
}

// CursorOf returns a collaborator's last cursor position.
func (t *Tracker) CursorOf(user string) (Cursor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.cursors[user]
	return c, ok
}

// SelectionOf returns the node a collaborator has selected.
func (t *Tracker) SelectionOf(user string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	uid, ok := t.selections[user]
	return uid, ok
}

// Clear wipes the roster, cursors and selections. Called when the channel
// closes; the absence of a connection means the roster is meaningless.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.online = make(map[string]struct{})
	t.cursors = make(map[string]Cursor)
	t.selections = make(map[string]string)
	t.mu.Unlock()
}
