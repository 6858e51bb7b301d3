package store

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"uno/engine"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "uno.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGameRejectsDuplicates(t *testing.T) {
	s := testStore(t)

	if err := s.CreateGame("room-1"); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := s.CreateGame("room-1"); !errors.Is(err, ErrGameExists) {
		t.Fatalf("expected ErrGameExists, got %v", err)
	}
	if err := s.CreateGame("room-2"); err != nil {
		t.Fatalf("a second room must be independent: %v", err)
	}
}

func TestGetGameReturnsNilForUnknownRoom(t *testing.T) {
	s := testStore(t)

	g, err := s.GetGame("missing")
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if g != nil {
		t.Fatalf("expected nil for an unknown room, got %+v", g)
	}
}

func TestSaveGameRequiresExistingRoom(t *testing.T) {
	s := testStore(t)

	if err := s.SaveGame("missing", engine.NewGame()); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestGameRoundTrip(t *testing.T) {
	s := testStore(t)
	rng := rand.New(rand.NewSource(17))

	if err := s.CreateGame("room-1"); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	g, err := s.GetGame("room-1")
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	for _, id := range []string{"alice", "bob", "carol"} {
		if _, err := g.AddPlayer(id); err != nil {
			t.Fatalf("AddPlayer(%s): %v", id, err)
		}
	}
	g.Player("alice").Name = "Alice"
	g.Player("alice").CalledUno = true
	if err := g.Start(rng); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.SaveGame("room-1", g); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}

	loaded, err := s.GetGame("room-1")
	if err != nil {
		t.Fatalf("GetGame after save: %v", err)
	}
	if loaded.Status != engine.StatusRunning {
		t.Fatalf("expected running, got %s", loaded.Status)
	}
	if loaded.CurrentPlayerIndex != g.CurrentPlayerIndex || loaded.Direction != g.Direction {
		t.Fatal("turn marker did not survive the round trip")
	}
	if len(loaded.Players) != 3 {
		t.Fatalf("expected 3 players, got %d", len(loaded.Players))
	}
	for i, p := range g.Players {
		got := loaded.Players[i]
		if got.ID != p.ID {
			t.Fatalf("seat %d: expected %s, got %s", i, p.ID, got.ID)
		}
		if len(got.Cards) != len(p.Cards) {
			t.Fatalf("player %s: hand size %d, want %d", p.ID, len(got.Cards), len(p.Cards))
		}
		for j, c := range p.Cards {
			if got.Cards[j] != c {
				t.Fatalf("player %s card %d: %+v, want %+v", p.ID, j, got.Cards[j], c)
			}
		}
	}
	alice := loaded.Player("alice")
	if alice.Name != "Alice" || !alice.CalledUno {
		t.Fatalf("player flags did not survive: %+v", alice)
	}
	if len(loaded.Deck) != len(g.Deck) || len(loaded.DiscardPile) != len(g.DiscardPile) {
		t.Fatal("piles did not survive the round trip")
	}
	if top, _ := loaded.DiscardTop(); g.DiscardPile[len(g.DiscardPile)-1] != top {
		t.Fatal("discard top changed across the round trip")
	}
}

func TestSaveGamePrunesDepartedPlayers(t *testing.T) {
	s := testStore(t)

	if err := s.CreateGame("room-1"); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	g, _ := s.GetGame("room-1")
	g.AddPlayer("alice")
	g.AddPlayer("bob")
	if err := s.SaveGame("room-1", g); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}

	if err := g.RemovePlayer("bob"); err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}
	if err := s.SaveGame("room-1", g); err != nil {
		t.Fatalf("SaveGame after removal: %v", err)
	}

	p, err := s.GetPlayer("bob")
	if err != nil {
		t.Fatalf("GetPlayer: %v", err)
	}
	if p != nil {
		t.Fatalf("departed player row should be pruned, got %+v", p)
	}
	loaded, _ := s.GetGame("room-1")
	if len(loaded.Players) != 1 || loaded.Players[0].ID != "alice" {
		t.Fatalf("expected only alice, got %+v", loaded.Players)
	}
}

func TestPlayerOperations(t *testing.T) {
	s := testStore(t)

	if err := s.CreateGame("room-1"); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	p := &engine.Player{
		ID:              "alice",
		Name:            "Alice",
		Cards:           []engine.Card{{ID: "c1", Color: engine.ColorRed, Type: engine.TypeNumber, Number: 4}},
		ConnectionState: engine.StateJoined,
		CalledUno:       true,
	}
	if err := s.SavePlayer("room-1", p); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}

	got, err := s.GetPlayer("alice")
	if err != nil {
		t.Fatalf("GetPlayer: %v", err)
	}
	if got == nil || got.Name != "Alice" || !got.CalledUno || got.ConnectionState != engine.StateJoined {
		t.Fatalf("player did not survive the round trip: %+v", got)
	}
	if len(got.Cards) != 1 || got.Cards[0] != p.Cards[0] {
		t.Fatalf("hand did not survive: %+v", got.Cards)
	}

	// A second save is an update, not a duplicate row.
	p.Name = "Alicia"
	if err := s.SavePlayer("room-1", p); err != nil {
		t.Fatalf("SavePlayer update: %v", err)
	}
	got, _ = s.GetPlayer("alice")
	if got.Name != "Alicia" {
		t.Fatalf("expected updated name, got %q", got.Name)
	}

	if err := s.DeletePlayer("alice"); err != nil {
		t.Fatalf("DeletePlayer: %v", err)
	}
	got, err = s.GetPlayer("alice")
	if err != nil {
		t.Fatalf("GetPlayer after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %+v", got)
	}
}
