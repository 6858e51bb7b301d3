package room

import (
	"encoding/json"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"uno/engine"
	"uno/events"
)

var namePolicy = bluemonday.StrictPolicy()

// sanitizeName strips HTML and surrounding whitespace from a display name.
func sanitizeName(name string) string {
	return strings.TrimSpace(namePolicy.Sanitize(name))
}

// outbox stages outbound messages produced while mutating a game. Nothing is
// delivered until the mutation has been saved, so clients never observe
// state that did not reach the store.
type outbox struct {
	items []outboundItem
}

type outboundItem struct {
	playerID string // empty means broadcast
	msg      interface{}
}

func (o *outbox) broadcast(msg interface{}) {
	o.items = append(o.items, outboundItem{msg: msg})
}

func (o *outbox) sendTo(playerID string, msg interface{}) {
	o.items = append(o.items, outboundItem{playerID: playerID, msg: msg})
}

func (o *outbox) flush(c *Coordinator) {
	for _, item := range o.items {
		if item.playerID == "" {
			c.broadcast(item.msg)
		} else {
			c.sendTo(item.playerID, item.msg)
		}
	}
}

// registerHandlers wires the room's event surface. Each handler runs on the
// op loop, loads the persisted game, applies engine mutations and stages its
// fan-out; messages only go out once the save succeeds. Rule violations go
// back to the offender only; state is untouched on any failure.
func (c *Coordinator) registerHandlers() {
	c.router.Register(EventJoin, events.Schema{Fields: []events.Field{
		{Name: "name", Kind: events.KindString, Required: true},
	}}, c.handleJoin)

	c.router.Register(EventStartGame, events.Schema{}, c.handleStartGame)

	c.router.Register(EventDrawCard, events.Schema{}, c.handleDrawCard)

	c.router.Register(EventLayDown, events.Schema{Fields: []events.Field{
		{Name: "cardId", Kind: events.KindString, Required: true},
		{Name: "wildColor", Kind: events.KindString},
		{Name: "sayUno", Kind: events.KindBool},
	}}, c.handleLayDown)

	c.router.Register(EventLeave, events.Schema{}, c.handleLeave)

	c.router.Register(EventCallOutMissingUno, events.Schema{Fields: []events.Field{
		{Name: "targetPlayerId", Kind: events.KindString, Required: true},
	}}, c.handleCallOut)
}

func (c *Coordinator) withGame(ev events.Event, fn func(g *engine.Game, out *outbox) error) error {
	g, err := c.store.GetGame(c.roomID)
	if err != nil {
		return err
	}
	if g == nil {
		c.sendTo(ev.PlayerID, errorMessage{Type: EventError, Message: "room has no game"})
		return nil
	}
	out := &outbox{}
	if err := fn(g, out); err != nil {
		// Engine rejections leave the game unchanged; report and drop.
		c.logger.Info("action rejected",
			zap.String("type", ev.Type),
			zap.String("playerId", ev.PlayerID),
			zap.Error(err))
		c.sendTo(ev.PlayerID, errorMessage{Type: EventError, Message: err.Error()})
		return nil
	}
	if err := c.store.SaveGame(c.roomID, g); err != nil {
		c.sendTo(ev.PlayerID, errorMessage{Type: EventError, Message: "room unavailable"})
		return err
	}
	out.flush(c)
	return nil
}

func (c *Coordinator) handleJoin(ev events.Event) error {
	var payload joinEvent
	if err := json.Unmarshal(ev.Raw, &payload); err != nil {
		return err
	}
	return c.withGame(ev, func(g *engine.Game, out *outbox) error {
		name := sanitizeName(payload.Name)
		if err := g.SetPlayerName(ev.PlayerID, name); err != nil {
			return err
		}
		out.broadcast(updatePlayersMessage{Type: EventUpdatePlayers, Players: playerViews(g)})
		return nil
	})
}

func (c *Coordinator) handleStartGame(ev events.Event) error {
	return c.withGame(ev, func(g *engine.Game, out *outbox) error {
		if err := g.Start(c.rng); err != nil {
			return err
		}
		out.broadcast(gameStartedMessage{Type: EventGameStarted})
		out.broadcast(updatePlayersMessage{Type: EventUpdatePlayers, Players: playerViews(g)})
		out.broadcast(nextTurnMessage{Type: EventNextTurn, PlayerID: g.CurrentPlayer().ID})
		return nil
	})
}

func (c *Coordinator) handleDrawCard(ev events.Event) error {
	return c.withGame(ev, func(g *engine.Game, out *outbox) error {
		card, err := g.DrawCard(ev.PlayerID, c.rng)
		if err != nil {
			return err
		}
		// The drawn card is private to the drawer.
		out.sendTo(ev.PlayerID, cardDrawnMessage{Type: EventCardDrawn, Card: card})
		out.broadcast(updateCardCountMessage{
			Type:          EventUpdateCardCount,
			PlayerID:      ev.PlayerID,
			NumberOfCards: len(g.Player(ev.PlayerID).Cards),
		})
		out.broadcast(nextTurnMessage{Type: EventNextTurn, PlayerID: g.CurrentPlayer().ID})
		return nil
	})
}

func (c *Coordinator) handleLayDown(ev events.Event) error {
	var payload layDownEvent
	if err := json.Unmarshal(ev.Raw, &payload); err != nil {
		return err
	}
	return c.withGame(ev, func(g *engine.Game, out *outbox) error {
		res, err := g.PlayCard(ev.PlayerID, payload.CardID, engine.Color(payload.WildColor), payload.SayUno, c.rng)
		if err != nil {
			return err
		}

		out.broadcast(cardLaidDownMessage{Type: EventCardLaidDown, PlayerID: ev.PlayerID, Card: res.Card})
		out.broadcast(updateCardCountMessage{
			Type:          EventUpdateCardCount,
			PlayerID:      ev.PlayerID,
			NumberOfCards: len(g.Player(ev.PlayerID).Cards),
		})

		if res.PenalizedID != "" {
			for _, card := range res.PenaltyCards {
				out.sendTo(res.PenalizedID, cardDrawnMessage{Type: EventCardDrawn, Card: card})
			}
			out.broadcast(updateCardCountMessage{
				Type:          EventUpdateCardCount,
				PlayerID:      res.PenalizedID,
				NumberOfCards: len(g.Player(res.PenalizedID).Cards),
			})
		}

		if res.Winner != "" {
			// The winning play ends the transaction here: no NextTurn.
			out.broadcast(gameFinishedMessage{Type: EventGameFinished, Winner: res.Winner})
			return nil
		}
		out.broadcast(nextTurnMessage{Type: EventNextTurn, PlayerID: res.NextPlayerID})
		return nil
	})
}

func (c *Coordinator) handleLeave(ev events.Event) error {
	return c.withGame(ev, func(g *engine.Game, out *outbox) error {
		if err := g.RemovePlayer(ev.PlayerID); err != nil {
			return err
		}
		out.broadcast(updatePlayersMessage{Type: EventUpdatePlayers, Players: playerViews(g)})
		if g.Status == engine.StatusFinished && g.Winner != "" {
			out.broadcast(gameFinishedMessage{Type: EventGameFinished, Winner: g.Winner})
		} else if g.Status == engine.StatusRunning {
			out.broadcast(nextTurnMessage{Type: EventNextTurn, PlayerID: g.CurrentPlayer().ID})
		}
		return nil
	})
}

func (c *Coordinator) handleCallOut(ev events.Event) error {
	var payload callOutEvent
	if err := json.Unmarshal(ev.Raw, &payload); err != nil {
		return err
	}
	return c.withGame(ev, func(g *engine.Game, out *outbox) error {
		res, err := g.CallOutUno(ev.PlayerID, payload.TargetPlayerID, c.rng)
		if err != nil {
			return err
		}

		out.sendTo(ev.PlayerID, callOutResultMessage{
			Type:           EventCallOutResult,
			TargetPlayerID: payload.TargetPlayerID,
			Applied:        res.Applied,
		})
		if !res.Applied {
			return nil
		}

		for _, card := range res.PenaltyCards {
			out.sendTo(payload.TargetPlayerID, cardDrawnMessage{Type: EventCardDrawn, Card: card})
		}
		out.broadcast(updateCardCountMessage{
			Type:          EventUpdateCardCount,
			PlayerID:      payload.TargetPlayerID,
			NumberOfCards: len(g.Player(payload.TargetPlayerID).Cards),
		})
		return nil
	})
}
