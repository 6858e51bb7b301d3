package room

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"uno/rpc"
)

// Session maps one live socket to a player identity. The identity rides on
// the session itself so it survives coordinator restarts; the coordinator's
// session table is rebuilt from sessions like this one and is never the
// source of truth.
type Session struct {
	ID       string
	PlayerID string
	Peer     *rpc.Peer

	conn *websocket.Conn
	send chan []byte
}

func newSession(playerID string, conn *websocket.Conn) *Session {
	return &Session{
		ID:       uuid.NewString(),
		PlayerID: playerID,
		conn:     conn,
		send:     make(chan []byte, 256),
	}
}

// enqueue hands data to the write pump. Sends to a saturated session buffer
// are dropped; the next broadcast reconciles the client. The send channel is
// never closed, the write pump exits on socket failure instead.
func (s *Session) enqueue(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) sendJSON(msg interface{}) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return s.enqueue(data)
}

// sessionConn routes the session's RPC peer writes through the session's
// write pump so the socket only ever has one writer.
type sessionConn struct {
	s *Session
}

func (c sessionConn) WriteMessage(data []byte) error {
	if !c.s.enqueue(data) {
		return errors.New("session send buffer full")
	}
	return nil
}

func (c sessionConn) ReadMessage() ([]byte, error) {
	// Inbound frames reach the peer through the manager's read pump.
	return nil, errors.New("session conn is write-only")
}

func (c sessionConn) Close() error {
	return c.s.conn.Close()
}
