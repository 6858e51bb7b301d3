package store

const schema = `
CREATE TABLE IF NOT EXISTS games (
    room_id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'waiting',
    current_player_index INTEGER NOT NULL DEFAULT 0,
    direction INTEGER NOT NULL DEFAULT 1,
    winner TEXT NOT NULL DEFAULT '',
    player_order TEXT NOT NULL DEFAULT '[]',
    deck TEXT NOT NULL DEFAULT '[]',
    discard_pile TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS players (
    id TEXT PRIMARY KEY,
    room_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    connection_state TEXT NOT NULL DEFAULT 'connected',
    called_uno INTEGER NOT NULL DEFAULT 0,
    cards TEXT NOT NULL DEFAULT '[]',
    FOREIGN KEY (room_id) REFERENCES games(room_id)
);

CREATE INDEX IF NOT EXISTS idx_players_room_id ON players(room_id);
`
