package mindweave_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindweave/mindweave.go"
	"github.com/mindweave/mindweave.go/pkg/logger"
	"github.com/mindweave/mindweave.go/pkg/nodes"
)

// backend simulates one deployment: the REST surface and the realtime
// stream on a single listener, the way the real server exposes them.
type backend struct {
	*httptest.Server

	listBody  string
	moveCalls atomic.Int64

	peers chan *gorilla.Conn
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		listBody: `[]`,
		peers:    make(chan *gorilla.Conn, 4),
	}

	upgrader := gorilla.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/mindmap/proj-1/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.peers <- conn
	})
	mux.HandleFunc("/api/csrf/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok", Path: "/"})
	})
	mux.HandleFunc("/api/projects/proj-1/nodes/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, b.listBody)
	})
	mux.HandleFunc("/api/mindmaps/nodes/create/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		var data map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("data")), &data))
		data["parent_uid"] = r.FormValue("parent_uid")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(data)
	})
	mux.HandleFunc("/api/mindmaps/nodes/update/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/mindmaps/nodes/move/", func(w http.ResponseWriter, r *http.Request) {
		b.moveCalls.Add(1)
	})
	mux.HandleFunc("/api/mindmaps/nodes/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/mindmaps/batch-update/", func(w http.ResponseWriter, r *http.Request) {})

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func (b *backend) config() *mindweave.Config {
	conf := mindweave.NewConfig(b.URL)
	conf.WSBaseURL = "ws" + strings.TrimPrefix(b.URL, "http")
	conf.Logger = logger.Nop()
	return conf
}

func (b *backend) peer(t *testing.T) *gorilla.Conn {
	t.Helper()
	select {
	case conn := <-b.peers:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected the realtime stream")
		return nil
	}
}

// push writes one event frame on the stream.
func push(t *testing.T, peer *gorilla.Conn, frame string) {
	t.Helper()
	require.NoError(t, peer.WriteMessage(gorilla.TextMessage, []byte(frame)))
}

// barrier pushes a roster event and waits until the client has seen it.
// The read loop delivers events in order, so everything pushed before the
// barrier has been applied once it returns.
func barrier(t *testing.T, c *mindweave.Client, peer *gorilla.Conn, users ...string) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": "online_users", "users": users})
	require.NoError(t, err)
	push(t, peer, string(data))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.OnlineUsers()) == len(users) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("roster event never arrived")
}

func connect(t *testing.T, b *backend) (*mindweave.Client, *gorilla.Conn) {
	t.Helper()
	c, err := mindweave.NewClient(b.config(), "proj-1")
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, b.peer(t)
}

func TestNewClientValidation(t *testing.T) {
	_, err := mindweave.NewClient(nil, "proj-1")
	assert.Error(t, err)

	_, err = mindweave.NewClient(&mindweave.Config{}, "proj-1")
	assert.Error(t, err)

	_, err = mindweave.NewClient(mindweave.NewConfig("http://example.invalid"), "")
	assert.Error(t, err)
}

func TestLoadReplacesStore(t *testing.T) {
	b := newBackend(t)
	b.listBody = `[
		{"node_id":"root","text":"R"},
		{"node_id":"child","parent_uid":"root","text":"C"}
	]`

	c, _ := connect(t, b)
	require.NoError(t, c.Load(context.Background()))

	flat := c.Flat()
	require.Len(t, flat, 2)
	assert.Equal(t, "root", flat[0].UID)
	assert.Equal(t, 1, flat[0].ChildrenCount)
}

func TestCreateAndEchoLeaveOneNode(t *testing.T) {
	b := newBackend(t)
	c, peer := connect(t, b)
	require.NoError(t, c.Load(context.Background()))

	created, err := c.CreateNode(context.Background(), "", nodes.Patch{"text": "my node"})
	require.NoError(t, err)
	require.NotEmpty(t, created.UID)
	assert.Equal(t, "my node", created.Text)

	// the backend echoes the creation back to its originator
	echo, err := json.Marshal(map[string]any{
		"type": "node_created",
		"user": "me",
		"node": map[string]any{"node_id": created.UID, "text": "my node"},
	})
	require.NoError(t, err)
	push(t, peer, string(echo))
	barrier(t, c, peer, "me")

	assert.Len(t, c.Flat(), 1)
	n, ok := c.Node(created.UID)
	require.True(t, ok)
	assert.Equal(t, "my node", n.Text)
}

func TestRemoteEventsBuildTheTree(t *testing.T) {
	b := newBackend(t)
	c, peer := connect(t, b)

	push(t, peer, `{"type":"node_created","user":"alice","node":{"node_id":"r","text":"root","created_at":"2024-05-01T10:00:00Z"}}`)
	push(t, peer, `{"type":"node_created","user":"alice","node":{"node_id":"k","parent_uid":"r","text":"kid","created_at":"2024-05-01T10:00:01Z"}}`)
	push(t, peer, `{"type":"node_updated","user":"alice","node":{"node_id":"k","text":"kid renamed"}}`)
	barrier(t, c, peer, "alice")

	order := make([]string, 0, 2)
	for n := range c.Tree() {
		order = append(order, n.Text)
	}
	assert.Equal(t, []string{"root", "kid renamed"}, order)
}

func TestDeleteThenLateDescendantUpdateIsNoOp(t *testing.T) {
	b := newBackend(t)
	b.listBody = `[
		{"node_id":"a","text":"A"},
		{"node_id":"b","parent_uid":"a","text":"B"}
	]`
	c, peer := connect(t, b)
	require.NoError(t, c.Load(context.Background()))

	require.NoError(t, c.DeleteNode(context.Background(), "a"))
	assert.Empty(t, c.Flat())

	// a straggler update for the cascaded child must not resurrect it
	push(t, peer, `{"type":"node_updated","user":"bob","node":{"node_id":"b","text":"too late"}}`)
	barrier(t, c, peer, "bob")

	assert.Empty(t, c.Flat())
}

func TestMoveCycleNeverReachesBackend(t *testing.T) {
	b := newBackend(t)
	b.listBody = `[
		{"node_id":"a","text":"A"},
		{"node_id":"b","parent_uid":"a","text":"B"}
	]`
	c, _ := connect(t, b)
	require.NoError(t, c.Load(context.Background()))

	err := c.MoveNode(context.Background(), "a", "b")
	assert.ErrorIs(t, err, mindweave.ErrConflictingMove)
	assert.Zero(t, b.moveCalls.Load())

	require.NoError(t, c.MoveNode(context.Background(), "b", ""))
	assert.Equal(t, int64(1), b.moveCalls.Load())
}

func TestPresenceRoundTrip(t *testing.T) {
	b := newBackend(t)
	c, peer := connect(t, b)

	push(t, peer, `{"type":"cursor_moved","user":"alice","x":40,"y":80}`)
	push(t, peer, `{"type":"user_selected","user":"alice","node_id":"n-1"}`)
	barrier(t, c, peer, "alice", "me")

	cur, ok := c.Presence().CursorOf("alice")
	require.True(t, ok)
	assert.Equal(t, 40.0, cur.X)

	sel, ok := c.Presence().SelectionOf("alice")
	require.True(t, ok)
	assert.Equal(t, "n-1", sel)

	// outbound: our own cursor reaches the stream
	require.NoError(t, c.SendCursor(context.Background(), 1, 2))
	_, data, err := peer.ReadMessage()
	require.NoError(t, err)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(data, &sent))
	assert.Equal(t, "cursor_move", sent["type"])
	assert.Equal(t, 1.0, sent["x"])
}

func TestCloseStopsApplyingResults(t *testing.T) {
	b := newBackend(t)
	c, _ := connect(t, b)

	require.NoError(t, c.Close(context.Background()))

	_, err := c.CreateNode(context.Background(), "", nodes.Patch{"text": "x"})
	assert.ErrorIs(t, err, mindweave.ErrClosed)
	assert.ErrorIs(t, c.Connect(context.Background()), mindweave.ErrClosed)
	assert.Empty(t, c.OnlineUsers())
}

func TestDisconnectClearsRoster(t *testing.T) {
	b := newBackend(t)
	c, peer := connect(t, b)
	barrier(t, c, peer, "alice", "me")
	require.Len(t, c.OnlineUsers(), 2)

	require.NoError(t, c.Disconnect(context.Background()))
	assert.Empty(t, c.OnlineUsers())
	assert.False(t, c.Connected())
}
