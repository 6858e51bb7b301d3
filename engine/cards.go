package engine

import (
	"math/rand"

	"github.com/google/uuid"
)

type Color string

const (
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorBlack  Color = "black"
)

type CardType string

const (
	TypeNumber       CardType = "number"
	TypeSkip         CardType = "skip"
	TypeReverse      CardType = "reverse"
	TypeDrawTwo      CardType = "draw-two"
	TypeWild         CardType = "wild"
	TypeWildDrawFour CardType = "wild-draw-four"
)

// Card is a single card in the 108-card deck. Number is only meaningful
// when Type is TypeNumber. Wild cards are created black and take on a
// concrete color when played.
type Card struct {
	ID     string   `json:"id"`
	Color  Color    `json:"color"`
	Type   CardType `json:"type"`
	Number int      `json:"number"`
}

var playColors = []Color{ColorRed, ColorBlue, ColorGreen, ColorYellow}

// IsWildType reports whether t is one of the two wild card types.
func IsWildType(t CardType) bool {
	return t == TypeWild || t == TypeWildDrawFour
}

// ValidWildColor reports whether c is a color a wild card may take on.
func ValidWildColor(c Color) bool {
	for _, pc := range playColors {
		if c == pc {
			return true
		}
	}
	return false
}

// NewDeck returns the full unshuffled deck: per color one 0, two of each
// 1-9, two skips, two reverses and two draw-twos, plus four wilds and four
// wild-draw-fours.
func NewDeck() []Card {
	deck := make([]Card, 0, 108)
	for _, c := range playColors {
		deck = append(deck, Card{ID: uuid.NewString(), Color: c, Type: TypeNumber, Number: 0})
		for n := 1; n <= 9; n++ {
			deck = append(deck, Card{ID: uuid.NewString(), Color: c, Type: TypeNumber, Number: n})
			deck = append(deck, Card{ID: uuid.NewString(), Color: c, Type: TypeNumber, Number: n})
		}
		for _, t := range []CardType{TypeSkip, TypeReverse, TypeDrawTwo} {
			deck = append(deck, Card{ID: uuid.NewString(), Color: c, Type: t})
			deck = append(deck, Card{ID: uuid.NewString(), Color: c, Type: t})
		}
	}
	for i := 0; i < 4; i++ {
		deck = append(deck, Card{ID: uuid.NewString(), Color: ColorBlack, Type: TypeWild})
		deck = append(deck, Card{ID: uuid.NewString(), Color: ColorBlack, Type: TypeWildDrawFour})
	}
	return deck
}

// Shuffle permutes deck in place with a uniform Fisher-Yates pass.
func Shuffle(deck []Card, rng *rand.Rand) {
	for i := len(deck) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		deck[i], deck[j] = deck[j], deck[i]
	}
}

// CanFollow reports whether top may be played onto bottom, the current
// discard top. Wild-type cards follow anything; otherwise the colors must
// match, the numbers must match, or the types must match.
func CanFollow(bottom, top Card) bool {
	if IsWildType(top.Type) {
		return true
	}
	if top.Color == bottom.Color {
		return true
	}
	if top.Type == TypeNumber && bottom.Type == TypeNumber && top.Number == bottom.Number {
		return true
	}
	return top.Type == bottom.Type
}
