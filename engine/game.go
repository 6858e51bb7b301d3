package engine

import "math/rand"

const (
	StatusWaiting  = "waiting"
	StatusRunning  = "running"
	StatusFinished = "finished"
)

type ConnectionState string

const (
	StateConnected ConnectionState = "connected"
	StateJoined    ConnectionState = "joined"
	StateLeft      ConnectionState = "left"
)

const (
	initialHandSize = 7
	unoPenaltyCards = 2
	maxPlayers      = 10
)

// Player holds one participant's state. Cards is the player's hand and is
// exclusively owned: no card in it appears anywhere else in the game.
type Player struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Cards           []Card          `json:"cards"`
	ConnectionState ConnectionState `json:"connectionState"`
	CalledUno       bool            `json:"calledUno"`
}

// Game is the authoritative state of one room. All mutations go through the
// methods below; none of them perform I/O.
type Game struct {
	Players            []*Player `json:"players"`
	CurrentPlayerIndex int       `json:"currentPlayerIndex"`
	Direction          int       `json:"direction"`
	Deck               []Card    `json:"deck"`
	DiscardPile        []Card    `json:"discardPile"`
	Status             string    `json:"status"`
	Winner             string    `json:"winner"`
}

// PlayResult describes the outcome of a successful PlayCard.
type PlayResult struct {
	Card         Card
	PenalizedID  string
	PenaltyCards []Card
	NextPlayerID string
	Winner       string
}

// CallOutResult describes the outcome of a call-out. Applied is false when
// the target was not actually holding an undeclared single card.
type CallOutResult struct {
	Applied      bool
	PenaltyCards []Card
}

func NewGame() *Game {
	return &Game{
		Direction: 1,
		Status:    StatusWaiting,
	}
}

// Player returns the player with the given id, or nil.
func (g *Game) Player(id string) *Player {
	for _, p := range g.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (g *Game) playerIndex(id string) int {
	for i, p := range g.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// CurrentPlayer returns the player whose turn it is, or nil when the game
// is not running.
func (g *Game) CurrentPlayer() *Player {
	if g.Status != StatusRunning || len(g.Players) == 0 {
		return nil
	}
	return g.Players[g.CurrentPlayerIndex]
}

// DiscardTop returns the most recently played card. ok is false while the
// discard pile is still empty.
func (g *Game) DiscardTop() (Card, bool) {
	if len(g.DiscardPile) == 0 {
		return Card{}, false
	}
	return g.DiscardPile[len(g.DiscardPile)-1], true
}

// AddPlayer seats a new player at the end of the turn order. Players can
// only be added while the game is waiting, and only up to the table cap:
// the deck must cover every opening hand plus the first discard.
func (g *Game) AddPlayer(id string) (*Player, error) {
	if g.Status != StatusWaiting {
		return nil, ErrGameStarted
	}
	if len(g.Players) >= maxPlayers {
		return nil, ErrGameFull
	}
	if g.Player(id) != nil {
		return nil, ErrAlreadyInGame
	}
	p := &Player{ID: id, Cards: []Card{}, ConnectionState: StateConnected}
	g.Players = append(g.Players, p)
	return p, nil
}

// SetPlayerName names a previously seated player and marks them joined.
func (g *Game) SetPlayerName(id, name string) error {
	p := g.Player(id)
	if p == nil {
		return ErrPlayerNotFound
	}
	p.Name = name
	p.ConnectionState = StateJoined
	return nil
}

// RemovePlayer takes a player out of the turn order entirely. Their hand is
// returned to the discard pile and CurrentPlayerIndex is clamped so it
// still points at a live seat. A running game left with one player finishes
// immediately with that player as winner.
func (g *Game) RemovePlayer(id string) error {
	idx := g.playerIndex(id)
	if idx < 0 {
		return ErrPlayerNotFound
	}
	p := g.Players[idx]
	g.DiscardPile = append(g.DiscardPile, p.Cards...)
	p.Cards = nil
	p.ConnectionState = StateLeft
	g.Players = append(g.Players[:idx], g.Players[idx+1:]...)

	if idx < g.CurrentPlayerIndex {
		g.CurrentPlayerIndex--
	}
	if g.CurrentPlayerIndex >= len(g.Players) {
		g.CurrentPlayerIndex = 0
	}
	if g.Status == StatusRunning && len(g.Players) == 1 {
		g.Status = StatusFinished
		g.Winner = g.Players[0].ID
	}
	return nil
}

// Start shuffles a fresh deck, deals the opening hands and flips the first
// discard. The opening discard is never a wild: wilds drawn for it go to
// the bottom of the deck so the top always has a concrete color.
func (g *Game) Start(rng *rand.Rand) error {
	switch g.Status {
	case StatusRunning:
		return ErrGameStarted
	case StatusFinished:
		return ErrGameFinished
	}
	if len(g.Players) < 2 {
		return ErrNotEnoughPlayers
	}
	if len(g.Players) > maxPlayers {
		return ErrGameFull
	}

	deck := NewDeck()
	Shuffle(deck, rng)
	g.Deck = deck
	g.DiscardPile = nil

	for _, p := range g.Players {
		p.Cards = make([]Card, initialHandSize)
		copy(p.Cards, g.Deck[:initialHandSize])
		g.Deck = g.Deck[initialHandSize:]
	}

	for i := 0; i < len(g.Deck) && IsWildType(g.Deck[0].Type); i++ {
		g.Deck = append(g.Deck[1:], g.Deck[0])
	}
	g.DiscardPile = append(g.DiscardPile, g.Deck[0])
	g.Deck = g.Deck[1:]

	g.CurrentPlayerIndex = 0
	g.Direction = 1
	g.Status = StatusRunning
	return nil
}

// advance moves the turn marker steps seats along the current direction,
// normalizing negative results.
func (g *Game) advance(steps int) {
	n := len(g.Players)
	if n == 0 {
		return
	}
	g.CurrentPlayerIndex = ((g.CurrentPlayerIndex+steps*g.Direction)%n + n) % n
}

// drawOne pops the next card off the draw stack, reshuffling the discard
// pile (minus its top) back into the stack when it runs dry.
func (g *Game) drawOne(rng *rand.Rand) (Card, error) {
	if len(g.Deck) == 0 {
		if len(g.DiscardPile) <= 1 {
			return Card{}, ErrNoCardsLeft
		}
		top := g.DiscardPile[len(g.DiscardPile)-1]
		reshuffled := g.DiscardPile[:len(g.DiscardPile)-1]
		Shuffle(reshuffled, rng)
		g.Deck = reshuffled
		g.DiscardPile = []Card{top}
	}
	card := g.Deck[0]
	g.Deck = g.Deck[1:]
	return card, nil
}

// DrawCard gives the current player one card from the draw stack. Drawing
// is a full turn: afterwards play passes to the next seat even if the
// drawn card would have been playable.
func (g *Game) DrawCard(playerID string, rng *rand.Rand) (Card, error) {
	if g.Status != StatusRunning {
		return Card{}, ErrGameNotStarted
	}
	p := g.CurrentPlayer()
	if p.ID != playerID {
		return Card{}, ErrNotYourTurn
	}
	card, err := g.drawOne(rng)
	if err != nil {
		return Card{}, err
	}
	p.Cards = append(p.Cards, card)
	p.CalledUno = false
	g.advance(1)
	return card, nil
}

// PlayCard lays cardID from playerID's hand onto the discard pile, applies
// the card's effect and advances the turn. wildColor is required for
// wild-type cards and ignored otherwise. sayUno declares "uno" when the
// play leaves the player with exactly one card.
func (g *Game) PlayCard(playerID, cardID string, wildColor Color, sayUno bool, rng *rand.Rand) (*PlayResult, error) {
	if g.Status == StatusFinished {
		return nil, ErrGameFinished
	}
	if g.Status != StatusRunning {
		return nil, ErrGameNotStarted
	}
	p := g.CurrentPlayer()
	if p.ID != playerID {
		return nil, ErrNotYourTurn
	}

	cardIdx := -1
	for i, c := range p.Cards {
		if c.ID == cardID {
			cardIdx = i
			break
		}
	}
	if cardIdx < 0 {
		return nil, ErrCardNotFound
	}
	card := p.Cards[cardIdx]

	top, ok := g.DiscardTop()
	if ok && !CanFollow(top, card) {
		return nil, ErrIllegalPlay
	}
	if IsWildType(card.Type) {
		if !ValidWildColor(wildColor) {
			return nil, ErrInvalidColor
		}
		card.Color = wildColor
	}

	p.Cards = append(p.Cards[:cardIdx], p.Cards[cardIdx+1:]...)
	g.DiscardPile = append(g.DiscardPile, card)
	p.CalledUno = len(p.Cards) == 1 && sayUno

	res := &PlayResult{Card: card}

	if len(p.Cards) == 0 {
		g.Status = StatusFinished
		g.Winner = p.ID
		res.Winner = p.ID
		return res, nil
	}

	switch card.Type {
	case TypeSkip:
		g.advance(2)
	case TypeReverse:
		g.Direction = -g.Direction
		if len(g.Players) == 2 {
			// Operationally a skip at two seats: play returns to the
			// player who reversed.
			g.advance(2)
		} else {
			g.advance(1)
		}
	case TypeDrawTwo, TypeWildDrawFour:
		count := 2
		if card.Type == TypeWildDrawFour {
			count = 4
		}
		g.advance(1)
		victim := g.Players[g.CurrentPlayerIndex]
		for i := 0; i < count; i++ {
			drawn, err := g.drawOne(rng)
			if err != nil {
				break
			}
			victim.Cards = append(victim.Cards, drawn)
			res.PenaltyCards = append(res.PenaltyCards, drawn)
		}
		if len(victim.Cards) > 1 {
			victim.CalledUno = false
		}
		res.PenalizedID = victim.ID
		g.advance(1)
	default:
		g.advance(1)
	}

	res.NextPlayerID = g.CurrentPlayer().ID
	return res, nil
}

// CallOutUno resolves callerID accusing targetID of not declaring uno. The
// penalty only applies when the target really holds exactly one card and
// has not declared; every other call-out is a reported no-op.
func (g *Game) CallOutUno(callerID, targetID string, rng *rand.Rand) (*CallOutResult, error) {
	if g.Status != StatusRunning {
		return nil, ErrGameNotStarted
	}
	if g.Player(callerID) == nil {
		return nil, ErrPlayerNotFound
	}
	target := g.Player(targetID)
	if target == nil {
		return nil, ErrPlayerNotFound
	}
	if len(target.Cards) != 1 || target.CalledUno {
		return &CallOutResult{Applied: false}, nil
	}
	res := &CallOutResult{Applied: true}
	for i := 0; i < unoPenaltyCards; i++ {
		card, err := g.drawOne(rng)
		if err != nil {
			break
		}
		target.Cards = append(target.Cards, card)
		res.PenaltyCards = append(res.PenaltyCards, card)
	}
	return res, nil
}
