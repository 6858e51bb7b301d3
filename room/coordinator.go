package room

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"uno/engine"
	"uno/events"
	"uno/rpc"
	"uno/store"
)

// Coordinator is the single authoritative actor for one room. Every
// mutation of the room's game state runs on its op loop, so no two handlers
// for the same room ever execute concurrently. Game and player records in
// the store are the only durable truth; the session table is an in-memory
// cache answering "who is reachable right now".
type Coordinator struct {
	roomID string
	store  store.Store
	router *events.Router
	logger *zap.Logger
	rng    *rand.Rand

	sessions map[string]*Session

	ops  chan func()
	quit chan struct{}
}

func NewCoordinator(roomID string, st store.Store, rng *rand.Rand, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		roomID:   roomID,
		store:    st,
		logger:   logger.With(zap.String("roomId", roomID)),
		rng:      rng,
		sessions: make(map[string]*Session),
		ops:      make(chan func(), 64),
		quit:     make(chan struct{}),
	}
	c.router = events.NewRouter(c.logger)
	c.registerHandlers()
	return c
}

// Run processes the op queue until Stop, then drains whatever was enqueued
// before the stop won the race. One goroutine per room; this is the room's
// single logical thread of control.
func (c *Coordinator) Run() {
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.quit:
			for {
				select {
				case fn := <-c.ops:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Do schedules fn on the room's op loop.
func (c *Coordinator) Do(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.quit:
	}
}

func (c *Coordinator) Stop() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

// Rehydrate rebuilds the session table from whatever live sockets the host
// reports, using the identity attached to each. Called when a coordinator
// is reconstructed between messages; the persisted game is untouched.
func (c *Coordinator) Rehydrate(sessions ...*Session) {
	c.Do(func() {
		c.sessions = make(map[string]*Session)
		for _, s := range sessions {
			c.sessions[s.ID] = s
		}
		c.logger.Info("session table rehydrated", zap.Int("sessions", len(sessions)))
	})
}

// loadGame fetches the room's persisted game, lazily creating a fresh
// waiting game on the room's first-ever access.
func (c *Coordinator) loadGame() (*engine.Game, error) {
	g, err := c.store.GetGame(c.roomID)
	if err != nil {
		return nil, err
	}
	if g != nil {
		return g, nil
	}
	if err := c.store.CreateGame(c.roomID); err != nil {
		// A concurrent creator beat us; re-read rather than overwrite.
		if errors.Is(err, store.ErrGameExists) {
			return c.store.GetGame(c.roomID)
		}
		return nil, err
	}
	c.logger.Info("game created")
	return c.store.GetGame(c.roomID)
}

// attachSession runs on the op loop: assigns identity if the socket carries
// none, seats new players, and registers the session in the live table.
func (c *Coordinator) attachSession(sess *Session) {
	g, err := c.loadGame()
	if err != nil {
		c.logger.Error("failed to load game", zap.Error(err))
		sess.sendJSON(errorMessage{Type: EventError, Message: "room unavailable"})
		return
	}

	if sess.PlayerID == "" {
		sess.PlayerID = uuid.NewString()
	}

	if p := g.Player(sess.PlayerID); p == nil {
		if _, err := g.AddPlayer(sess.PlayerID); err != nil {
			// Running game; the socket stays open as an observer until it
			// presents a seated identity.
			c.logger.Warn("connection could not be seated",
				zap.String("playerId", sess.PlayerID), zap.Error(err))
		}
	} else {
		p.ConnectionState = engine.StateConnected
		if p.Name != "" {
			p.ConnectionState = engine.StateJoined
		}
	}

	if err := c.store.SaveGame(c.roomID, g); err != nil {
		c.logger.Error("failed to save game", zap.Error(err))
		sess.sendJSON(errorMessage{Type: EventError, Message: "room unavailable"})
		return
	}

	c.sessions[sess.ID] = sess
	sess.sendJSON(yourIDMessage{Type: EventYourID, PlayerID: sess.PlayerID})
	c.broadcast(updatePlayersMessage{Type: EventUpdatePlayers, Players: playerViews(g)})
	c.logger.Info("session attached",
		zap.String("sessionId", sess.ID),
		zap.String("playerId", sess.PlayerID))
}

// detachSession runs on the op loop when a socket closes: the player leaves
// the turn order entirely, their cards go to the discard pile, and the
// index is clamped. Applied uniformly whether the game is waiting or
// running.
func (c *Coordinator) detachSession(sess *Session) {
	delete(c.sessions, sess.ID)

	for _, other := range c.sessions {
		if other.PlayerID == sess.PlayerID {
			// The player reconnected and the replacement socket attached
			// before this one finished closing; they stay seated.
			c.logger.Info("stale session closed", zap.String("playerId", sess.PlayerID))
			return
		}
	}

	g, err := c.store.GetGame(c.roomID)
	if err != nil {
		c.logger.Error("failed to load game on close", zap.Error(err))
		return
	}
	if g == nil || g.Player(sess.PlayerID) == nil {
		return
	}

	if err := g.RemovePlayer(sess.PlayerID); err != nil {
		c.logger.Error("failed to remove player", zap.String("playerId", sess.PlayerID), zap.Error(err))
		return
	}
	if err := c.store.SaveGame(c.roomID, g); err != nil {
		c.logger.Error("failed to save game", zap.Error(err))
		return
	}

	c.broadcast(updatePlayersMessage{Type: EventUpdatePlayers, Players: playerViews(g)})
	if g.Status == engine.StatusFinished && g.Winner != "" {
		c.broadcast(gameFinishedMessage{Type: EventGameFinished, Winner: g.Winner})
	} else if g.Status == engine.StatusRunning {
		c.broadcast(nextTurnMessage{Type: EventNextTurn, PlayerID: g.CurrentPlayer().ID})
	}
	c.logger.Info("session detached", zap.String("playerId", sess.PlayerID))
}

// dispatch runs on the op loop for every inbound game-event frame.
func (c *Coordinator) dispatch(sess *Session, eventType string, raw json.RawMessage) {
	res := c.router.Run(events.Event{Type: eventType, PlayerID: sess.PlayerID, Raw: raw})
	switch res.Status {
	case events.StatusOK:
	case events.StatusUnknownType:
		c.logger.Warn("unknown event type", zap.String("type", eventType))
		sess.sendJSON(errorMessage{Type: EventError, Message: res.Err.Error()})
	case events.StatusInvalidPayload:
		c.logger.Warn("invalid event payload", zap.String("type", eventType), zap.Error(res.Err))
		sess.sendJSON(errorMessage{Type: EventError, Message: res.Err.Error()})
	case events.StatusHandlerError:
		// Handlers report rule violations to the offender themselves;
		// anything surfacing here is unexpected.
		c.logger.Error("event handler failed", zap.String("type", eventType), zap.Error(res.Err))
	}
}

// dispatchRPC runs on the op loop for every inbound rpc frame on sess.
func (c *Coordinator) dispatchRPC(sess *Session, payload json.RawMessage) {
	sess.Peer.HandleMessage(context.Background(), payload)
}

// broadcast fans msg out to every open session. Fire-and-forget: a send to
// a closed or saturated session is swallowed.
func (c *Coordinator) broadcast(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal broadcast", zap.Error(err))
		return
	}
	for _, sess := range c.sessions {
		if !sess.enqueue(data) {
			c.logger.Warn("session send buffer full", zap.String("playerId", sess.PlayerID))
		}
	}
}

// sendTo delivers msg to every session attached to one player id.
func (c *Coordinator) sendTo(playerID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	for _, sess := range c.sessions {
		if sess.PlayerID == playerID {
			sess.enqueue(data)
		}
	}
}

// registerRPC exposes the room's RPC surface on a session peer.
func (c *Coordinator) registerRPC(sess *Session) {
	sess.Peer.Register("room.state", rpc.Procedure{
		Handle: func(_ context.Context, _ json.RawMessage) (interface{}, error) {
			g, err := c.store.GetGame(c.roomID)
			if err != nil {
				return nil, errors.New("room unavailable")
			}
			if g == nil {
				return nil, errors.New("room has no game yet")
			}
			return map[string]interface{}{
				"status":  g.Status,
				"players": playerViews(g),
				"winner":  g.Winner,
			}, nil
		},
	})
	sess.Peer.Register("room.hand", rpc.Procedure{
		Handle: func(_ context.Context, _ json.RawMessage) (interface{}, error) {
			g, err := c.store.GetGame(c.roomID)
			if err != nil || g == nil {
				return nil, errors.New("room unavailable")
			}
			p := g.Player(sess.PlayerID)
			if p == nil {
				return nil, errors.New("not seated")
			}
			return p.Cards, nil
		},
	})
}
