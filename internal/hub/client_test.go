package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFixture struct {
	hub     *Hub
	server  *httptest.Server
	clients chan *Client
}

func newWSFixture(t *testing.T, ch Channel, cfg ClientConfig) *wsFixture {
	t.Helper()
	f := &wsFixture{hub: New(nil), clients: make(chan *Client, 4)}
	upgrader := websocket.Upgrader{}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(f.hub, conn, ch, r.URL.Query().Get("camera_id"), cfg, nil)
		if err := c.Start(); err != nil {
			_ = conn.Close()
			return
		}
		f.clients <- c
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T, query string) (*websocket.Conn, *Client) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case c := <-f.clients:
		return conn, c
	case <-time.After(2 * time.Second):
		t.Fatal("client was not registered")
	}
	return nil, nil
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestClient_ReceivesBroadcast(t *testing.T) {
	f := newWSFixture(t, ChannelAlerts, DefaultClientConfig())
	conn, _ := f.dial(t, "")

	payload := `{"type":"alert","data":{"id":"a1","priority":8}}`
	assert.Equal(t, 1, f.hub.Broadcast(ChannelAlerts, []byte(payload)))
	assert.Equal(t, payload, readText(t, conn))
}

func TestClient_PingPong(t *testing.T) {
	f := newWSFixture(t, ChannelAlerts, DefaultClientConfig())
	conn, _ := f.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "pong", readText(t, conn))
}

func TestClient_CameraAck(t *testing.T) {
	f := newWSFixture(t, ChannelCameras, DefaultClientConfig())
	conn, _ := f.dial(t, "?camera_id=cam-7")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"focus"}`)))

	var ack struct {
		Type string `json:"type"`
		Data struct {
			CameraID string `json:"camera_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(readText(t, conn)), &ack))
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, "cam-7", ack.Data.CameraID)
}

func TestClient_DetectionCameraFilter(t *testing.T) {
	f := newWSFixture(t, ChannelDetections, DefaultClientConfig())
	conn, _ := f.dial(t, "?camera_id=cam-1")

	other := `{"type":"detection","data":{"camera_id":"cam-2"}}`
	mine := `{"type":"detection","data":{"camera_id":"cam-1"}}`
	f.hub.Broadcast(ChannelDetections, []byte(other))
	f.hub.Broadcast(ChannelDetections, []byte(mine))

	assert.Equal(t, mine, readText(t, conn))
}

func TestClient_DisconnectUnsubscribes(t *testing.T) {
	f := newWSFixture(t, ChannelAlerts, DefaultClientConfig())
	conn, _ := f.dial(t, "")
	require.Equal(t, 1, f.hub.Count(ChannelAlerts))

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return f.hub.Count(ChannelAlerts) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SendAfterClose(t *testing.T) {
	f := newWSFixture(t, ChannelAlerts, DefaultClientConfig())
	_, c := f.dial(t, "")

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send([]byte(`{}`)), ErrClientClosed)
	assert.Equal(t, 0, f.hub.Count(ChannelAlerts))
	// Second close is a no-op.
	assert.NoError(t, c.Close())
}

func TestClient_DropOldest(t *testing.T) {
	h := New(nil)
	c := &Client{
		hub:     h,
		channel: ChannelAlerts,
		send:    make(chan []byte, 2),
		done:    make(chan struct{}),
	}

	require.NoError(t, c.Send([]byte("1")))
	require.NoError(t, c.Send([]byte("2")))
	require.NoError(t, c.Send([]byte("3")))

	assert.Equal(t, int64(1), c.Dropped())
	assert.Equal(t, "2", string(<-c.send))
	assert.Equal(t, "3", string(<-c.send))
}

func TestHealthTicker_Tick(t *testing.T) {
	h := New(nil)
	sys := newFakeConn("sys")
	require.NoError(t, h.Subscribe(sys, ChannelSystem))

	ticker := NewHealthTicker(h, time.Second, nil)
	ticker.started = time.Now().Add(-90 * time.Second)

	assert.Equal(t, 1, ticker.Tick(context.Background()))

	var msg struct {
		Type string       `json:"type"`
		Data HealthStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(sys.msgs[0], &msg))
	assert.Equal(t, "health", msg.Type)
	assert.Equal(t, "ok", msg.Data.Status)
	assert.Equal(t, 1, msg.Data.Connections)
	assert.GreaterOrEqual(t, msg.Data.UptimeSeconds, int64(90))
}

func TestClient_CloseDiscardsQueuedBeforeUnsubscribe(t *testing.T) {
	h := New(nil)
	clients := make(chan *Client, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Subscribed but no pumps, so broadcasts stay queued.
		c := NewClient(h, conn, ChannelAlerts, "", DefaultClientConfig(), nil)
		if err := h.Subscribe(c, ChannelAlerts); err != nil {
			_ = conn.Close()
			return
		}
		clients <- c
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var c *Client
	select {
	case c = <-clients:
	case <-time.After(2 * time.Second):
		t.Fatal("client was not registered")
	}

	require.Equal(t, 1, h.Broadcast(ChannelAlerts, []byte(`{"type":"alert","data":{"id":"a1"}}`)))
	require.Equal(t, 1, h.Broadcast(ChannelAlerts, []byte(`{"type":"alert","data":{"id":"a2"}}`)))

	require.NoError(t, c.Close())
	assert.Equal(t, 0, h.Count(ChannelAlerts))
	assert.Empty(t, c.send)

	// A writer that wakes after Close must not flush anything.
	go c.writePump()
	assert.ErrorIs(t, c.writeText([]byte(`{"type":"alert"}`)), ErrClientClosed)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr, "first frame after close must be the close frame")
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}
