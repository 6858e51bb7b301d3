package engine

import "errors"

var (
	ErrGameStarted      = errors.New("game already started")
	ErrGameNotStarted   = errors.New("game not started")
	ErrGameFinished     = errors.New("game already finished")
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	ErrGameFull         = errors.New("game is full")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrAlreadyInGame    = errors.New("already in game")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrCardNotFound     = errors.New("card not in hand")
	ErrIllegalPlay      = errors.New("card does not follow the discard top")
	ErrInvalidColor     = errors.New("wild color must be red, blue, green or yellow")
	ErrNoCardsLeft      = errors.New("draw stack and discard pile are exhausted")
)
