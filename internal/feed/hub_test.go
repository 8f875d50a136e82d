package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func newServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHubBroadcasts(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := newServer(t, hub)

	a, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer a.Close()
	b, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "connected", readMessage(t, a).Type)
	assert.Equal(t, "connected", readMessage(t, b).Type)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 10*time.Millisecond)

	hub.Publish("order.created", map[string]string{"reference": "ref-1"})
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, "order.created", msg.Type)
		assert.Equal(t, map[string]any{"reference": "ref-1"}, msg.Data)
	}
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := newServer(t, hub)

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish("order.created", nil)
}

func TestHubChecksOrigin(t *testing.T) {
	hub := NewHub([]string{"https://shop.example"}, nil)
	srv := newServer(t, hub)

	_, resp, err := dial(t, srv, "https://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dial(t, srv, "https://shop.example")
	require.NoError(t, err)
	conn.Close()
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := newServer(t, hub)

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()
	readMessage(t, conn)

	hub.Close()
	assert.Zero(t, hub.Clients())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
