package mindweave

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mindweave/mindweave.go/pkg/channel"
	"github.com/mindweave/mindweave.go/pkg/gateway"
	"github.com/mindweave/mindweave.go/pkg/logger"
	"github.com/mindweave/mindweave.go/pkg/nodes"
	"github.com/mindweave/mindweave.go/pkg/presence"
	"github.com/mindweave/mindweave.go/pkg/store"
)

// realtime is the subset of the channel the client drives. Both Channel
// and Reconnecting satisfy it.
type realtime interface {
	Connect(ctx context.Context, projectID string) error
	Close(ctx context.Context) error
	Send(ctx context.Context, v any) error
	State() channel.State
	IsDisconnected() bool
}

// Client is the synchronization engine for one open document. It owns the
// tree store and is the only writer to it: gateway confirmations and
// channel events both funnel through the client into store methods, never
// past them.
//
// A client is bound to a single project for its lifetime. Close it when
// the document closes; a new document gets a new client.
type Client struct {
	projectID string
	logger    logger.Logger

	gateway  *gateway.Client
	store    *store.Store
	presence *presence.Tracker
	channel  realtime

	closed atomic.Bool
}

// NewClient builds the engine for one project against the backend in conf.
func NewClient(conf *Config, projectID string) (*Client, error) {
	if conf == nil || conf.BaseURL == "" {
		return nil, errors.New("config with a base url is required")
	}
	if projectID == "" {
		return nil, errors.New("project id is required")
	}

	log := conf.Logger
	if log == nil {
		log = logger.Nop()
	}

	c := &Client{
		projectID: projectID,
		logger:    log,
		store:     store.New(),
		presence:  presence.NewTracker(),
		gateway:   gateway.New(conf.BaseURL, projectID, conf.HTTPClient, log),
	}

	wsBase := conf.WSBaseURL
	if wsBase == "" {
		wsBase = deriveWSBaseURL(conf.BaseURL)
	}
	ch := channel.New(wsBase, c.handleEvent, log)
	if conf.Dialer != nil {
		ch.Dialer = conf.Dialer
	}
	ch.OnDisconnect(func(err error) {
		// A dead connection makes the roster meaningless.
		c.presence.Clear()
		log.Warn("realtime channel lost", "project_id", projectID, "error", err)
	})

	if conf.ReconnectInterval > 0 {
		c.channel = channel.NewReconnecting(ch, conf.ReconnectInterval)
	} else {
		c.channel = ch
	}

	return c, nil
}

// Connect opens the realtime event stream for the document. It may be
// called again after a disconnect.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.channel.Connect(ctx, c.projectID)
}

// Disconnect closes the event stream and clears the presence roster. The
// client itself stays usable; mutations still work over HTTP and Connect
// may be called again.
func (c *Client) Disconnect(ctx context.Context) error {
	err := c.channel.Close(ctx)
	c.presence.Clear()
	return err
}

// Close tears the client down. In-flight gateway calls may still complete,
// but their results are no longer applied to the store.
func (c *Client) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	c.presence.Clear()
	if c.channel.IsDisconnected() {
		return nil
	}
	return c.channel.Close(ctx)
}

// Connected reports whether the realtime stream is open.
func (c *Client) Connected() bool {
	return c.channel.State() == channel.StateOpen
}

// --------------------------------------------------
// loading and mutations
// --------------------------------------------------

// Load fetches the authoritative node list and replaces the store's
// contents with it. Call it once after Connect so echoed events and the
// loaded snapshot de-duplicate against each other.
func (c *Client) Load(ctx context.Context) error {
	ns, err := c.gateway.ListNodes(ctx)
	if err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}
	c.store.Load(ns)
	return nil
}

// CreateNode persists a new node under parentUID (empty for a root) and,
// on success, inserts the confirmed node locally. The uid is minted
// client-side when the payload does not carry one, so the echoed realtime
// event de-duplicates against this insert by uid.
func (c *Client) CreateNode(ctx context.Context, parentUID string, payload nodes.Patch, uploads ...gateway.Upload) (nodes.Node, error) {
	if c.closed.Load() {
		return nodes.Node{}, ErrClosed
	}

	body := make(nodes.Patch, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	if body.UID() == "" {
		body["uid"] = uuid.NewString()
	}

	n, err := c.gateway.CreateNode(ctx, parentUID, body, uploads...)
	if err != nil {
		return nodes.Node{}, err
	}

	// Some deployments acknowledge with a partial body. The payload we
	// sent is authoritative enough to keep the local copy coherent until
	// the echoed event arrives.
	if n.UID == "" {
		n.UID = body.UID()
		body.Apply(&n)
	}
	if n.ParentUID == "" {
		n.ParentUID = parentUID
	}

	if c.closed.Load() {
		return n, ErrClosed
	}
	c.store.ApplyLocalCreate(n)
	return n, nil
}

// UpdateNode persists a partial update and merges it locally on success.
func (c *Client) UpdateNode(ctx context.Context, uid string, payload nodes.Patch) (nodes.Node, error) {
	if c.closed.Load() {
		return nodes.Node{}, ErrClosed
	}

	n, err := c.gateway.UpdateNode(ctx, uid, payload)
	if err != nil {
		return nodes.Node{}, err
	}
	if c.closed.Load() {
		return n, ErrClosed
	}

	if err := c.store.ApplyLocalUpdate(uid, payload); err != nil {
		// The node was deleted while the request was in flight; the late
		// update loses, same as it would against the backend's cascade.
		c.logger.Debug("dropping confirmed update for missing node", "node_uid", uid)
	}
	return n, nil
}

// DeleteNode persists the removal and cascades it locally on success.
func (c *Client) DeleteNode(ctx context.Context, uid string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.gateway.DeleteNode(ctx, uid); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}
	c.store.ApplyLocalDelete(uid)
	return nil
}

// MoveNode re-parents a node. A move that would make the node an ancestor
// of itself fails with ErrConflictingMove before any request is sent and
// leaves the tree unchanged.
func (c *Client) MoveNode(ctx context.Context, uid, newParentUID string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.store.ValidateMove(uid, newParentUID); err != nil {
		return err
	}

	current, ok := c.store.Get(uid)
	if !ok {
		return ErrNodeNotFound
	}

	if err := c.gateway.MoveNode(ctx, uid, newParentUID, current.ParentUID); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.store.ApplyMove(uid, newParentUID); err != nil {
		c.logger.Debug("dropping confirmed move", "node_uid", uid, "error", err)
	}
	return nil
}

// BatchApply sends an ordered change list in one round trip and, on
// success, replays it locally in the same order. Order matters: a move may
// target a node created earlier in the same batch.
func (c *Client) BatchApply(ctx context.Context, changes []gateway.Change) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.gateway.BatchApply(ctx, changes); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}

	for _, change := range changes {
		switch change.Action {
		case nodes.ActionCreate:
			uid := change.NodeData.UID()
			if uid == "" {
				c.logger.Warn("batch create without uid, skipping local apply")
				continue
			}
			n := nodes.Node{UID: uid, ParentUID: change.ParentUID}
			change.NodeData.Apply(&n)
			c.store.ApplyLocalCreate(n)
		case nodes.ActionUpdate:
			if err := c.store.ApplyLocalUpdate(change.NodeUID, change.NodeData); err != nil {
				c.logger.Debug("dropping batch update for missing node", "node_uid", change.NodeUID)
			}
		case nodes.ActionDelete:
			c.store.ApplyLocalDelete(change.NodeUID)
		case nodes.ActionMove:
			if err := c.store.ApplyMove(change.NodeUID, change.ParentUID); err != nil {
				c.logger.Debug("dropping batch move", "node_uid", change.NodeUID, "error", err)
			}
		default:
			c.logger.Warn("unknown batch action", "action", string(change.Action))
		}
	}
	return nil
}

// --------------------------------------------------
// presence
// --------------------------------------------------

// SendCursor broadcasts this user's canvas cursor to other collaborators.
func (c *Client) SendCursor(ctx context.Context, x, y float64) error {
	return c.channel.Send(ctx, map[string]any{"type": "cursor_move", "x": x, "y": y})
}

// SendSelection broadcasts which node this user has selected.
func (c *Client) SendSelection(ctx context.Context, nodeUID string) error {
	return c.channel.Send(ctx, map[string]any{"type": "user_selection", "node_id": nodeUID})
}

// SendPresence sends an arbitrary presence envelope. Mutations never go
// this way; they always go through the gateway.
func (c *Client) SendPresence(ctx context.Context, v any) error {
	return c.channel.Send(ctx, v)
}

// OnlineUsers returns the current collaborator roster.
func (c *Client) OnlineUsers() []string {
	return c.presence.Online()
}

// Presence exposes the full tracker for cursor and selection lookups.
func (c *Client) Presence() *presence.Tracker {
	return c.presence
}

// --------------------------------------------------
// projections and read views
// --------------------------------------------------

// Node returns a copy of one node by uid.
func (c *Client) Node(uid string) (nodes.Node, bool) {
	return c.store.Get(uid)
}

// Flat returns the node collection as an ordered sequence; see
// (*store.Store).Flat for the ordering contract.
func (c *Client) Flat() []nodes.Node {
	return c.store.Flat()
}

// Tree returns a restartable parent-before-children traversal for
// rendering.
func (c *Client) Tree() iter.Seq[nodes.Node] {
	return c.store.Tree()
}

// MindMap exports the tree in the renderer's nested format.
func (c *Client) MindMap() *nodes.MindMapNode {
	return c.store.MindMap()
}

// Subscribe registers fn for store change notifications. The rendering
// layer uses this instead of holding any reference into the store.
func (c *Client) Subscribe(fn func(store.Change)) (cancel func()) {
	return c.store.Subscribe(fn)
}

// EditLogs fetches the server-owned edit history, newest first.
func (c *Client) EditLogs(ctx context.Context) ([]nodes.EditLogEntry, error) {
	return c.gateway.EditLogs(ctx)
}

// UserStats fetches the calling user's contribution summary.
func (c *Client) UserStats(ctx context.Context) (nodes.UserStats, error) {
	return c.gateway.UserStats(ctx)
}

// --------------------------------------------------

// handleEvent is the single funnel for inbound realtime events. It runs on
// the channel's read loop, one event at a time, so store applications
// happen in arrival order.
func (c *Client) handleEvent(ev channel.Event) {
	if c.closed.Load() {
		return
	}

	switch e := ev.(type) {
	case channel.NodeCreated, channel.NodeUpdated, channel.NodeDeleted:
		c.store.ApplyRemote(ev)
	case channel.OnlineUsers:
		c.presence.Replace(e.Users)
	case channel.CursorMoved:
		c.presence.SetCursor(e.User, e.X, e.Y)
	case channel.NodeSelected:
		c.presence.SetSelection(e.User, e.UID)
	case channel.ServerError:
		c.logger.Warn("realtime backend reported an error", "message", e.Message)
	case channel.Unknown:
		c.logger.Debug("ignoring unknown event type", "type", e.Type)
	default:
		c.logger.Debug("ignoring unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}
