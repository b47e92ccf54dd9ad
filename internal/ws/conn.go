package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingTimeout  = 5 * time.Second
)

// Conn adapts a gorilla websocket connection to the Subscriber interface.
// gorilla connections allow one concurrent writer, so all writes go through
// one mutex.
type Conn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConn wraps an upgraded websocket connection.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// Send writes one text frame with a bounded deadline.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Probe sends a ping control frame to check the peer is still there.
func (c *Conn) Probe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingTimeout))
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

var _ Subscriber = (*Conn)(nil)
