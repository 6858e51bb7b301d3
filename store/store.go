package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"uno/engine"
)

var (
	ErrGameExists   = errors.New("game already exists for this room")
	ErrGameNotFound = errors.New("game not found")
)

// Store is the durable keyed store behind a room: one record per game keyed
// by room id, one record per player keyed by player id. Cards live embedded
// in the owning record and are never independently addressable.
type Store interface {
	CreateGame(roomID string) error
	GetGame(roomID string) (*engine.Game, error)
	SaveGame(roomID string, g *engine.Game) error
	SavePlayer(roomID string, p *engine.Player) error
	GetPlayer(playerID string) (*engine.Player, error)
	DeletePlayer(playerID string) error
	Close() error
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// CreateGame inserts a fresh waiting game for roomID. A second create for
// the same room fails with ErrGameExists rather than overwriting.
func (s *SQLiteStore) CreateGame(roomID string) error {
	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM games WHERE room_id = ?", roomID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check game: %w", err)
	}
	if exists > 0 {
		return ErrGameExists
	}
	_, err = s.db.Exec(
		"INSERT INTO games (room_id, status, direction) VALUES (?, ?, 1)",
		roomID, engine.StatusWaiting,
	)
	if err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}
	return nil
}

// GetGame recomposes the full game value from the game row plus its player
// rows in seating order. Returns nil, nil when the room has no game yet.
func (s *SQLiteStore) GetGame(roomID string) (*engine.Game, error) {
	g := engine.NewGame()
	var orderJSON, deckJSON, discardJSON string
	err := s.db.QueryRow(
		"SELECT status, current_player_index, direction, winner, player_order, deck, discard_pile FROM games WHERE room_id = ?",
		roomID,
	).Scan(&g.Status, &g.CurrentPlayerIndex, &g.Direction, &g.Winner, &orderJSON, &deckJSON, &discardJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}

	var order []string
	if err := json.Unmarshal([]byte(orderJSON), &order); err != nil {
		return nil, fmt.Errorf("failed to decode player order: %w", err)
	}
	if err := json.Unmarshal([]byte(deckJSON), &g.Deck); err != nil {
		return nil, fmt.Errorf("failed to decode deck: %w", err)
	}
	if err := json.Unmarshal([]byte(discardJSON), &g.DiscardPile); err != nil {
		return nil, fmt.Errorf("failed to decode discard pile: %w", err)
	}

	for _, playerID := range order {
		p, err := s.GetPlayer(playerID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("player %s referenced by game %s is missing", playerID, roomID)
		}
		g.Players = append(g.Players, p)
	}
	return g, nil
}

// SaveGame writes the game row and every player row in one transaction.
// Player rows for this room that are no longer in the seating order are
// deleted.
func (s *SQLiteStore) SaveGame(roomID string, g *engine.Game) error {
	order := make([]string, len(g.Players))
	for i, p := range g.Players {
		order[i] = p.ID
	}
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode player order: %w", err)
	}
	deckJSON, err := json.Marshal(g.Deck)
	if err != nil {
		return fmt.Errorf("failed to encode deck: %w", err)
	}
	discardJSON, err := json.Marshal(g.DiscardPile)
	if err != nil {
		return fmt.Errorf("failed to encode discard pile: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE games SET status = ?, current_player_index = ?, direction = ?, winner = ?, player_order = ?, deck = ?, discard_pile = ? WHERE room_id = ?",
		g.Status, g.CurrentPlayerIndex, g.Direction, g.Winner, string(orderJSON), string(deckJSON), string(discardJSON), roomID,
	)
	if err != nil {
		return fmt.Errorf("failed to save game: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrGameNotFound
	}

	for _, p := range g.Players {
		if err := upsertPlayer(tx, roomID, p); err != nil {
			return err
		}
	}

	query := "DELETE FROM players WHERE room_id = ?"
	args := []interface{}{roomID}
	for _, id := range order {
		query += " AND id != ?"
		args = append(args, id)
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to prune departed players: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertPlayer(tx *sql.Tx, roomID string, p *engine.Player) error {
	cardsJSON, err := json.Marshal(p.Cards)
	if err != nil {
		return fmt.Errorf("failed to encode hand: %w", err)
	}
	calledUno := 0
	if p.CalledUno {
		calledUno = 1
	}
	_, err = tx.Exec(`
		INSERT INTO players (id, room_id, name, connection_state, called_uno, cards)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			room_id = excluded.room_id,
			name = excluded.name,
			connection_state = excluded.connection_state,
			called_uno = excluded.called_uno,
			cards = excluded.cards
	`, p.ID, roomID, p.Name, string(p.ConnectionState), calledUno, string(cardsJSON))
	if err != nil {
		return fmt.Errorf("failed to save player: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SavePlayer(roomID string, p *engine.Player) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertPlayer(tx, roomID, p); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPlayer(playerID string) (*engine.Player, error) {
	p := &engine.Player{}
	var calledUno int
	var cardsJSON string
	err := s.db.QueryRow(
		"SELECT id, name, connection_state, called_uno, cards FROM players WHERE id = ?",
		playerID,
	).Scan(&p.ID, &p.Name, &p.ConnectionState, &calledUno, &cardsJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	p.CalledUno = calledUno == 1
	if err := json.Unmarshal([]byte(cardsJSON), &p.Cards); err != nil {
		return nil, fmt.Errorf("failed to decode hand: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) DeletePlayer(playerID string) error {
	if _, err := s.db.Exec("DELETE FROM players WHERE id = ?", playerID); err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
