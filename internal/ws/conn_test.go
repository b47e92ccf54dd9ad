package ws

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

// dialTestConn upgrades an httptest server connection and returns the
// client-side Conn plus a channel of frames the server received.
func dialTestConn(t *testing.T) (*Conn, <-chan []byte) {
	t.Helper()

	received := make(chan []byte, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer serverConn.Close()
		// Keep reading so data and control frames are both processed.
		for {
			_, data, err := serverConn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialed, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	conn := NewConn(dialed)
	t.Cleanup(func() { conn.Close() })
	return conn, received
}

func TestConn_SendAndProbe(t *testing.T) {
	conn, received := dialTestConn(t)

	require.NoError(t, conn.Send([]byte(`{"type":"message"}`)))
	select {
	case data := <-received:
		assert.JSONEq(t, `{"type":"message"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}

	assert.NoError(t, conn.Probe(), "ping against a live peer succeeds")
}

func TestConn_SendAfterCloseFails(t *testing.T) {
	conn, _ := dialTestConn(t)
	require.NoError(t, conn.Close())

	assert.Error(t, conn.Send([]byte("late")), "hub relies on the error to drop the subscriber")
}

func TestConn_CarriesHubBroadcast(t *testing.T) {
	conn, received := dialTestConn(t)

	hub := NewHub(testLogger(t))
	defer hub.Close()
	hub.Subscribe("p1", conn)

	hub.Publish("p1", "preview_success", map[string]any{"message": "✓ Ready in 300ms"})

	select {
	case data := <-received:
		assert.Contains(t, string(data), "preview_success")
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never reached the websocket peer")
	}
}
