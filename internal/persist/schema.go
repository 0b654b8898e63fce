// Package persist implements the PersistDatastore and PersistExecutor
// (spec §4.4, §4.5): a SQLite-backed store for per-player and per-arena
// byte blobs, and a single background worker that serializes registered
// modules' data into it without ever blocking the mainloop.
//
// Grounded on the teacher's internal/db package: db.go's pool-wrapping
// handle shape and persistence.go's transaction-wrapped multi-table
// save pattern, re-pointed from pgx/pgxpool at Postgres to
// database/sql + github.com/mattn/go-sqlite3 (spec §4.4 requires
// SQLite; no component in this module talks to Postgres, so pgx and
// goose are not wired — see DESIGN.md).
package persist

const schema = `
CREATE TABLE IF NOT EXISTS ArenaGroup (
	Name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS Player (
	Name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS ArenaGroupInterval (
	Id              INTEGER PRIMARY KEY AUTOINCREMENT,
	ArenaGroup      TEXT NOT NULL REFERENCES ArenaGroup(Name),
	Interval        INTEGER NOT NULL,
	StartTimestamp  INTEGER NOT NULL,
	EndTimestamp    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_agi_group_interval
	ON ArenaGroupInterval(ArenaGroup, Interval);

CREATE TABLE IF NOT EXISTS CurrentArenaGroupInterval (
	ArenaGroup  TEXT NOT NULL REFERENCES ArenaGroup(Name),
	Interval    INTEGER NOT NULL,
	IntervalId  INTEGER NOT NULL REFERENCES ArenaGroupInterval(Id),
	PRIMARY KEY (ArenaGroup, Interval)
);

CREATE TABLE IF NOT EXISTS ArenaData (
	ArenaGroup  TEXT NOT NULL,
	IntervalId  INTEGER NOT NULL REFERENCES ArenaGroupInterval(Id),
	Key         INTEGER NOT NULL,
	Value       BLOB NOT NULL,
	PRIMARY KEY (ArenaGroup, IntervalId, Key)
);

CREATE TABLE IF NOT EXISTS PlayerData (
	Player      TEXT NOT NULL REFERENCES Player(Name),
	ArenaGroup  TEXT NOT NULL,
	IntervalId  INTEGER NOT NULL REFERENCES ArenaGroupInterval(Id),
	Key         INTEGER NOT NULL,
	Value       BLOB NOT NULL,
	PRIMARY KEY (Player, ArenaGroup, IntervalId, Key)
);
CREATE INDEX IF NOT EXISTS idx_playerdata_player ON PlayerData(Player);
`
