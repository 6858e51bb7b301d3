package room

import "uno/engine"

// Inbound event types.
const (
	EventJoin              = "Join"
	EventDrawCard          = "DrawCard"
	EventLayDown           = "LayDown"
	EventStartGame         = "StartGame"
	EventLeave             = "Leave"
	EventCallOutMissingUno = "CallOutMissingUno"
)

// Outbound event types.
const (
	EventYourID          = "YourID"
	EventUpdatePlayers   = "UpdatePlayers"
	EventGameStarted     = "GameStarted"
	EventGameFinished    = "GameFinished"
	EventCardDrawn       = "CardDrawn"
	EventCardLaidDown    = "CardLaidDown"
	EventUpdateCardCount = "UpdateCardCount"
	EventNextTurn        = "NextTurn"
	EventCallOutResult   = "CallOutResult"
	EventError           = "Error"
)

type joinEvent struct {
	Name string `json:"name"`
}

type layDownEvent struct {
	CardID    string `json:"cardId"`
	WildColor string `json:"wildColor,omitempty"`
	SayUno    bool   `json:"sayUno,omitempty"`
}

type callOutEvent struct {
	TargetPlayerID string `json:"targetPlayerId"`
}

// PlayerView is the public projection of a player: hand size only, never
// the cards themselves.
type PlayerView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	NumberOfCards   int    `json:"numberOfCards"`
	ConnectionState string `json:"connectionState"`
}

type yourIDMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

type updatePlayersMessage struct {
	Type    string       `json:"type"`
	Players []PlayerView `json:"players"`
}

type gameStartedMessage struct {
	Type string `json:"type"`
}

type gameFinishedMessage struct {
	Type   string `json:"type"`
	Winner string `json:"winner"`
}

type cardDrawnMessage struct {
	Type string      `json:"type"`
	Card engine.Card `json:"card"`
}

type cardLaidDownMessage struct {
	Type     string      `json:"type"`
	PlayerID string      `json:"playerId"`
	Card     engine.Card `json:"card"`
}

type updateCardCountMessage struct {
	Type          string `json:"type"`
	PlayerID      string `json:"playerId"`
	NumberOfCards int    `json:"numberOfCards"`
}

type nextTurnMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

type callOutResultMessage struct {
	Type           string `json:"type"`
	TargetPlayerID string `json:"targetPlayerId"`
	Applied        bool   `json:"applied"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func playerViews(g *engine.Game) []PlayerView {
	views := make([]PlayerView, len(g.Players))
	for i, p := range g.Players {
		views[i] = PlayerView{
			ID:              p.ID,
			Name:            p.Name,
			NumberOfCards:   len(p.Cards),
			ConnectionState: string(p.ConnectionState),
		}
	}
	return views
}
