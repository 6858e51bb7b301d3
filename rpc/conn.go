package rpc

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is one duplex channel carrying whole messages. Both peer roles speak
// through it; the websocket adapter below is the production implementation.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebsocketConn adapts a gorilla websocket connection. Writes are
// serialized; gorilla connections support one concurrent writer only.
func NewWebsocketConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
