// Package channel maintains the persistent duplex connection to a
// document's realtime event stream. It decodes inbound frames into typed
// events, exposes a send primitive for outbound presence broadcasts, and
// owns the connection lifecycle. Mutations never travel through the
// channel; they go through the gateway and come back as echoed events.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/mindweave/mindweave.go/pkg/logger"
)

// DefaultDialer is the gorilla dialer used unless the caller supplies one.
// Compression is enabled; the backend speaks plain JSON text frames.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

const closeMessageCode = 1000

var (
	// ErrNotOpen is returned by Send when the channel is not open.
	ErrNotOpen = errors.New("channel is not open")
)

// Handler receives every decoded inbound event. It is invoked from the
// read loop, one event at a time, so handlers observe events in arrival
// order and need no ordering of their own.
type Handler func(Event)

// Channel is a single duplex connection to one document's event stream.
// Reconnection is caller-driven: after an unexpected disconnect the channel
// returns to StateDisconnected and Connect may be invoked again with the
// same document id. Wrap it in a Reconnecting for an automatic policy.
type Channel struct {
	// BaseURL is the websocket endpoint root, e.g. "ws://host:8000".
	BaseURL string
	// Dialer overrides DefaultDialer when set.
	Dialer *gorilla.Dialer
	// WriteTimeout bounds outbound frame writes. Zero disables it.
	WriteTimeout time.Duration

	handler      Handler
	onDisconnect func(error)
	logger       logger.Logger

	conn     *gorilla.Conn
	connLock sync.Mutex

	stateMu   sync.Mutex
	state     State
	closeChan chan struct{}
	closeErr  error
	projectID string
}

// New returns a disconnected channel for the given websocket endpoint root.
// The handler may be nil, in which case inbound events are discarded.
func New(baseURL string, handler Handler, log logger.Logger) *Channel {
	if log == nil {
		log = logger.Nop()
	}
	return &Channel{
		BaseURL: baseURL,
		handler: handler,
		logger:  log,
		state:   StateDisconnected,
	}
}

// OnDisconnect registers a callback invoked when the connection is lost
// without a local Close. Used by the client to clear the presence roster.
func (c *Channel) OnDisconnect(fn func(error)) {
	c.onDisconnect = fn
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// IsDisconnected reports whether a Connect call would be accepted.
func (c *Channel) IsDisconnected() bool {
	return c.State() == StateDisconnected
}

// ProjectID returns the document id of the current or last connection.
func (c *Channel) ProjectID() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.projectID
}

func (c *Channel) transitionTo(newState State) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	next, err := c.state.transitionTo(newState)
	if err != nil {
		return err
	}
	c.state = next
	c.logger.Debug("channel state transition", "state", next.String())
	return nil
}

func (c *Channel) mustTransitionTo(newState State) {
	if err := c.transitionTo(newState); err != nil {
		panic(fmt.Sprintf("BUG: %v", err))
	}
}

// Connect dials the event stream of the given document. Connecting is
// asynchronous past the handshake: inbound events are delivered on a
// background read loop, never blocking the caller.
func (c *Channel) Connect(ctx context.Context, projectID string) error {
	if c.BaseURL == "" {
		return errors.New("channel base url not set")
	}
	if err := c.transitionTo(StateConnecting); err != nil {
		return err
	}

	dialer := c.Dialer
	if dialer == nil {
		dialer = DefaultDialer
	}
	endpoint := fmt.Sprintf("%s/ws/mindmap/%s/", strings.TrimSuffix(c.BaseURL, "/"), projectID)

	conn, res, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.mustTransitionTo(StateDisconnected)
		return fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	defer res.Body.Close()

	closeCh := make(chan struct{})

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	c.stateMu.Lock()
	c.closeChan = closeCh
	c.closeErr = nil
	c.projectID = projectID
	c.stateMu.Unlock()

	c.mustTransitionTo(StateOpen)

	go c.readLoop(conn, closeCh)
	return nil
}

// Send marshals v as a JSON text frame and writes it to the stream. It is
// the outbound primitive for presence and cursor broadcasts.
func (c *Channel) Send(ctx context.Context, v any) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding outbound frame: %w", err)
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	deadline := time.Time{}
	if c.WriteTimeout > 0 {
		deadline = time.Now().Add(c.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(gorilla.TextMessage, data)
}

// Close shuts the connection down deliberately. The context bounds the
// close-message handshake; the underlying connection is torn down locally
// regardless, so resources are not leaked on a slow or dead peer.
func (c *Channel) Close(ctx context.Context) error {
	if err := c.transitionTo(StateClosing); err != nil {
		return err
	}
	defer c.mustTransitionTo(StateDisconnected)

	c.stateMu.Lock()
	close(c.closeChan)
	c.stateMu.Unlock()

	c.connLock.Lock()
	defer c.connLock.Unlock()

	// Phase 1: tell the peer we are leaving. Best effort; a failed or slow
	// write must not keep us from releasing the connection locally.
	writeErr := make(chan error, 1)
	go func() {
		msg := gorilla.FormatCloseMessage(closeMessageCode, "")
		writeErr <- c.conn.WriteMessage(gorilla.CloseMessage, msg)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	// Phase 2: release the local side.
	return c.conn.Close()
}

func (c *Channel) readLoop(conn *gorilla.Conn, closeCh chan struct{}) {
	for {
		select {
		case <-closeCh:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-closeCh:
				// Deliberate local close; the state machine is already
				// being driven by Close.
				return
			default:
			}
			c.handleDisconnect(err)
			return
		}

		ev, decErr := DecodeEvent(data)
		if decErr != nil {
			c.logger.Warn("dropping malformed event", "error", decErr)
			continue
		}
		if c.handler != nil {
			c.handler(ev)
		}
	}
}

// handleDisconnect records an unexpected closure and transitions back to
// disconnected so the caller can re-invoke Connect.
func (c *Channel) handleDisconnect(err error) {
	c.stateMu.Lock()
	c.state = StateDisconnected
	c.closeErr = err
	c.stateMu.Unlock()

	if gorilla.IsUnexpectedCloseError(err) {
		c.logger.Warn("channel closed unexpectedly", "error", err)
	} else {
		c.logger.Warn("channel read failed", "error", err)
	}

	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// CloseError returns the error recorded by the last unexpected disconnect,
// if any.
func (c *Channel) CloseError() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closeErr
}
