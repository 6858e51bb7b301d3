package room

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"uno/rpc"
	"uno/store"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	heartbeatInterval = 30 * time.Second
	maxMessageSize    = 4096
)

// Manager owns the coordinator table. Coordinators are created lazily per
// room id and refcounted by live socket: a room is only torn down when the
// last socket that resolved it has released it, so a coordinator handed to
// a new connection can never be stopped underneath it. State always comes
// back from the store, never from the table itself.
type Manager struct {
	store       store.Store
	logger      *zap.Logger
	callTimeout time.Duration

	mu    sync.Mutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	coordinator *Coordinator
	refs        int
}

func NewManager(st store.Store, callTimeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		store:       st,
		logger:      logger,
		callTimeout: callTimeout,
		rooms:       make(map[string]*roomEntry),
	}
}

// acquire resolves the live coordinator for roomID and takes a reference on
// it, reconstructing one from persisted state when none is resident.
func (m *Manager) acquire(roomID string) *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rooms[roomID]
	if !ok {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		e = &roomEntry{coordinator: NewCoordinator(roomID, m.store, rng, m.logger)}
		m.rooms[roomID] = e
		go e.coordinator.Run()
	}
	e.refs++
	return e.coordinator
}

// release drops one reference. The last release evicts the room and stops
// its coordinator; ops enqueued before the stop are still drained by Run.
// The next connection rebuilds the room from the store.
func (m *Manager) release(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rooms[roomID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(m.rooms, roomID)
		e.coordinator.Stop()
	}
}

// HandleConnection takes ownership of an upgraded socket. playerID may be
// empty for first-time connections; reconnecting sockets present the
// identity they were assigned before.
func (m *Manager) HandleConnection(conn *websocket.Conn, roomID, playerID string) {
	sess := newSession(playerID, conn)
	sess.Peer = rpc.NewPeer(sessionConn{sess}, m.callTimeout, m.logger.With(zap.String("roomId", roomID)))

	c := m.acquire(roomID)
	c.registerRPC(sess)
	c.Do(func() { c.attachSession(sess) })

	go m.writePump(sess)
	go m.readPump(sess, c, roomID)
	go sess.Peer.Heartbeat(context.Background(), heartbeatInterval)
}

func (m *Manager) readPump(sess *Session, c *Coordinator, roomID string) {
	defer func() {
		c.Do(func() { c.detachSession(sess) })
		sess.Peer.Close()
		sess.conn.Close()
		m.release(roomID)
	}()

	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("websocket error", zap.Error(err))
			}
			break
		}

		var frame rpc.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		raw := json.RawMessage(message)
		if frame.Type == rpc.FrameTypeRPC {
			payload := frame.Payload
			c.Do(func() { c.dispatchRPC(sess, payload) })
			continue
		}
		eventType := frame.Type
		c.Do(func() { c.dispatch(sess, eventType, raw) })
	}
}

func (m *Manager) writePump(sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case message, ok := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
