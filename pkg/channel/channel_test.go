package channel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindweave/mindweave.go/pkg/channel"
	"github.com/mindweave/mindweave.go/pkg/logger"
)

var upgrader = gorilla.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsServer is a minimal realtime backend: it records the request path and
// hands the upgraded connection to the test over a channel.
type wsServer struct {
	*httptest.Server
	conns chan *gorilla.Conn
	paths chan string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		conns: make(chan *gorilla.Conn, 4),
		paths: make(chan string, 4),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) accept(t *testing.T) *gorilla.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectDialsDocumentEndpoint(t *testing.T) {
	srv := newWSServer(t)

	ch := channel.New(srv.wsURL(), nil, logger.Nop())
	require.NoError(t, ch.Connect(context.Background(), "proj-42"))
	defer ch.Close(context.Background())

	assert.Equal(t, "/ws/mindmap/proj-42/", <-srv.paths)
	assert.Equal(t, channel.StateOpen, ch.State())
	assert.Equal(t, "proj-42", ch.ProjectID())
}

func TestConnectRejectedWhileOpen(t *testing.T) {
	srv := newWSServer(t)

	ch := channel.New(srv.wsURL(), nil, logger.Nop())
	require.NoError(t, ch.Connect(context.Background(), "proj-1"))
	defer ch.Close(context.Background())

	assert.Error(t, ch.Connect(context.Background(), "proj-1"))
}

func TestConnectWithoutBaseURL(t *testing.T) {
	ch := channel.New("", nil, logger.Nop())
	assert.Error(t, ch.Connect(context.Background(), "proj-1"))
}

func TestFailedDialReturnsToDisconnected(t *testing.T) {
	ch := channel.New("ws://127.0.0.1:1", nil, logger.Nop())
	ch.Dialer = &gorilla.Dialer{HandshakeTimeout: 200 * time.Millisecond}

	assert.Error(t, ch.Connect(context.Background(), "proj-1"))
	assert.True(t, ch.IsDisconnected())

	// the channel must be reusable after a failed dial
	srv := newWSServer(t)
	ch.BaseURL = srv.wsURL()
	require.NoError(t, ch.Connect(context.Background(), "proj-1"))
	ch.Close(context.Background())
}

func TestInboundEventsReachHandler(t *testing.T) {
	srv := newWSServer(t)

	events := make(chan channel.Event, 8)
	ch := channel.New(srv.wsURL(), func(ev channel.Event) { events <- ev }, logger.Nop())
	require.NoError(t, ch.Connect(context.Background(), "proj-1"))
	defer ch.Close(context.Background())

	peer := srv.accept(t)
	frames := []string{
		`{"type":"online_users","users":["alice"]}`,
		`this is not json`,
		`{"type":"node_deleted","node_id":"n-1","user":"alice"}`,
	}
	for _, f := range frames {
		require.NoError(t, peer.WriteMessage(gorilla.TextMessage, []byte(f)))
	}

	// the malformed frame is dropped, the two valid ones arrive in order
	ev := <-events
	assert.Equal(t, channel.OnlineUsers{Users: []string{"alice"}}, ev)
	ev = <-events
	assert.Equal(t, channel.NodeDeleted{UID: "n-1", Actor: "alice"}, ev)
}

func TestSendWritesJSONTextFrame(t *testing.T) {
	srv := newWSServer(t)

	ch := channel.New(srv.wsURL(), nil, logger.Nop())
	require.NoError(t, ch.Connect(context.Background(), "proj-1"))
	defer ch.Close(context.Background())

	peer := srv.accept(t)
	require.NoError(t, ch.Send(context.Background(), map[string]any{
		"type": "cursor_move",
		"x":    12.5,
		"y":    40,
	}))

	kind, data, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, gorilla.TextMessage, kind)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(data, &sent))
	assert.Equal(t, "cursor_move", sent["type"])
	assert.Equal(t, 12.5, sent["x"])
}

func TestSendWhenNotOpen(t *testing.T) {
	ch := channel.New("ws://example.invalid", nil, logger.Nop())
	err := ch.Send(context.Background(), map[string]string{"type": "cursor_move"})
	assert.ErrorIs(t, err, channel.ErrNotOpen)
}

func TestCloseIsDeliberate(t *testing.T) {
	srv := newWSServer(t)

	disconnects := make(chan error, 1)
	ch := channel.New(srv.wsURL(), nil, logger.Nop())
	ch.OnDisconnect(func(err error) { disconnects <- err })

	require.NoError(t, ch.Connect(context.Background(), "proj-1"))
	require.NoError(t, ch.Close(context.Background()))

	assert.True(t, ch.IsDisconnected())
	assert.ErrorIs(t, ch.Send(context.Background(), struct{}{}), channel.ErrNotOpen)

	// a deliberate close must not fire the disconnect callback
	select {
	case err := <-disconnects:
		t.Fatalf("unexpected disconnect callback: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeerCloseFiresDisconnect(t *testing.T) {
	srv := newWSServer(t)

	disconnects := make(chan error, 1)
	ch := channel.New(srv.wsURL(), nil, logger.Nop())
	ch.OnDisconnect(func(err error) { disconnects <- err })

	require.NoError(t, ch.Connect(context.Background(), "proj-1"))

	peer := srv.accept(t)
	peer.Close()

	select {
	case err := <-disconnects:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}
	assert.True(t, ch.IsDisconnected())
	assert.Error(t, ch.CloseError())
}

func TestReconnectingRedialsAfterDrop(t *testing.T) {
	srv := newWSServer(t)

	base := channel.New(srv.wsURL(), nil, logger.Nop())
	ch := channel.NewReconnecting(base, 20*time.Millisecond)

	require.NoError(t, ch.Connect(context.Background(), "proj-1"))
	defer ch.Close(context.Background())

	first := srv.accept(t)
	first.Close()

	// the loop must bring a second connection up on its own
	srv.accept(t)
	waitFor(t, func() bool { return ch.State() == channel.StateOpen },
		"channel never reconnected")
	assert.Equal(t, "proj-1", ch.ProjectID())
}

func TestManualRedialReplacesLoop(t *testing.T) {
	srv := newWSServer(t)

	base := channel.New(srv.wsURL(), nil, logger.Nop())
	ch := channel.NewReconnecting(base, 300*time.Millisecond)

	require.NoError(t, ch.Connect(context.Background(), "proj-1"))
	first := srv.accept(t)
	first.Close()
	waitFor(t, ch.IsDisconnected, "drop never observed")

	// caller-driven redial while the previous loop is still installed
	require.NoError(t, ch.Connect(context.Background(), "proj-1"))
	srv.accept(t)

	require.NoError(t, ch.Close(context.Background()))

	// a loop surviving the redial or the close would dial again here
	select {
	case <-srv.conns:
		t.Fatal("a stale redial loop dialed after close")
	case <-time.After(800 * time.Millisecond):
	}
	assert.True(t, ch.IsDisconnected())
}
