package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zoneserver/core/internal/model"
	"github.com/zoneserver/core/internal/zoneconfig"
)

// defaultMaxRecordLength is used when cfg is nil or has no explicit
// Persist.MaxRecordLength (spec §4.4 record-size cap / spec
// Persist.MaxRecordLength config key, default 4096).
const defaultMaxRecordLength = 4096

// Store is the PersistDatastore: a SQLite-backed table of per-player
// and per-arena blobs, keyed by registration key and ArenaGroupInterval
// generation (spec §3 ArenaGroup / ArenaGroupInterval).
type Store struct {
	log  *slog.Logger
	path string
	db   *sql.DB

	maxRecordLength int

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

// Open creates (if absent) and opens the SQLite database at path,
// applying the schema idempotently. cfg supplies Persist.MaxRecordLength
// (default 4096); a nil cfg uses the default, since *zoneconfig.Scope's
// getters are nil-receiver-safe.
func Open(ctx context.Context, log *slog.Logger, path string, cfg *zoneconfig.Scope) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating persist data dir %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening persist database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer worker; avoids SQLITE_BUSY under WAL

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging persist database %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying persist schema: %w", err)
	}

	return &Store{
		log:             log,
		path:            path,
		db:              db,
		maxRecordLength: cfg.GetInt("Persist", "MaxRecordLength", defaultMaxRecordLength, 1),
		stmts:           make(map[string]*sql.Stmt),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// MaxRecordLength returns the configured Persist.MaxRecordLength this
// store enforces on every SetPlayerData/SetArenaData call.
func (s *Store) MaxRecordLength() int {
	return s.maxRecordLength
}

func (s *Store) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	s.stmts[query] = stmt
	return stmt, nil
}

// Tx is one batch of persist operations, run and committed together
// (spec §4.5: "wraps a SQL transaction around the batch"). Every
// PersistDatastore operation below takes a *Tx supplied by the caller
// (the PersistExecutor), never opening its own.
type Tx struct {
	store *Store
	tx    *sql.Tx
}

// Begin starts a new transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	sqltx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin persist transaction: %w", err)
	}
	return &Tx{store: s, tx: sqltx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit persist transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit; reports
// nothing if the transaction is already closed.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback persist transaction: %w", err)
	}
	return nil
}

// stmt binds the given query's prepared statement to this transaction.
// The bound handle is only valid for one call; the returned closer must
// run before the caller returns (parameter bindings and the bound
// transaction are discarded with it, matching database/sql's
// Tx.StmtContext contract).
func (t *Tx) stmt(ctx context.Context, query string) (*sql.Stmt, func(), error) {
	base, err := t.store.prepared(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	bound := t.tx.StmtContext(ctx, base)
	return bound, func() { bound.Close() }, nil
}

const (
	qUpsertArenaGroup  = `INSERT OR IGNORE INTO ArenaGroup(Name) VALUES (?)`
	qUpsertPlayer      = `INSERT OR IGNORE INTO Player(Name) VALUES (?)`
	qCurrentIntervalID = `SELECT IntervalId FROM CurrentArenaGroupInterval WHERE ArenaGroup = ? AND Interval = ?`
	qInsertInterval    = `INSERT INTO ArenaGroupInterval(ArenaGroup, Interval, StartTimestamp, EndTimestamp) VALUES (?, ?, ?, NULL)`
	qCloseInterval     = `UPDATE ArenaGroupInterval SET EndTimestamp = ? WHERE Id = ?`
	qUpsertCurrent     = `INSERT INTO CurrentArenaGroupInterval(ArenaGroup, Interval, IntervalId) VALUES (?, ?, ?)
	                       ON CONFLICT(ArenaGroup, Interval) DO UPDATE SET IntervalId = excluded.IntervalId`

	qGetPlayerData    = `SELECT Value FROM PlayerData WHERE Player = ? AND ArenaGroup = ? AND IntervalId = ? AND Key = ?`
	qSetPlayerData    = `INSERT OR REPLACE INTO PlayerData(Player, ArenaGroup, IntervalId, Key, Value) VALUES (?, ?, ?, ?, ?)`
	qDeletePlayerData = `DELETE FROM PlayerData WHERE Player = ? AND ArenaGroup = ? AND IntervalId = ? AND Key = ?`

	qGetArenaData    = `SELECT Value FROM ArenaData WHERE ArenaGroup = ? AND IntervalId = ? AND Key = ?`
	qSetArenaData    = `INSERT OR REPLACE INTO ArenaData(ArenaGroup, IntervalId, Key, Value) VALUES (?, ?, ?, ?)`
	qDeleteArenaData = `DELETE FROM ArenaData WHERE ArenaGroup = ? AND IntervalId = ? AND Key = ?`

	qDeletePlayerDataByInterval = `DELETE FROM PlayerData WHERE ArenaGroup = ? AND IntervalId = ?`
	qDeleteArenaDataByInterval  = `DELETE FROM ArenaData WHERE ArenaGroup = ? AND IntervalId = ?`
)

func (t *Tx) ensureArenaGroup(ctx context.Context, group string) error {
	stmt, done, err := t.stmt(ctx, qUpsertArenaGroup)
	if err != nil {
		return err
	}
	defer done()
	_, err = stmt.ExecContext(ctx, group)
	return err
}

func (t *Tx) ensurePlayer(ctx context.Context, player string) error {
	stmt, done, err := t.stmt(ctx, qUpsertPlayer)
	if err != nil {
		return err
	}
	defer done()
	_, err = stmt.ExecContext(ctx, player)
	return err
}

func (t *Tx) currentIntervalID(ctx context.Context, group string, interval model.PersistInterval) (int64, bool, error) {
	stmt, done, err := t.stmt(ctx, qCurrentIntervalID)
	if err != nil {
		return 0, false, err
	}
	defer done()

	var id int64
	err = stmt.QueryRowContext(ctx, group, int(interval)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up current interval for %q/%s: %w", group, interval, err)
	}
	return id, true, nil
}

// ensureCurrentInterval returns the current generation id for
// (group, interval), creating the ArenaGroup and an initial
// ArenaGroupInterval row on demand if none exists yet (spec §4.5: the
// datastore creates these rows lazily, the caller never pre-seeds
// them).
func (t *Tx) ensureCurrentInterval(ctx context.Context, group string, interval model.PersistInterval, nowUnix int64) (int64, error) {
	if err := t.ensureArenaGroup(ctx, group); err != nil {
		return 0, fmt.Errorf("ensuring arena group %q: %w", group, err)
	}
	id, ok, err := t.currentIntervalID(ctx, group, interval)
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}
	return t.startInterval(ctx, group, interval, nowUnix)
}

func (t *Tx) startInterval(ctx context.Context, group string, interval model.PersistInterval, nowUnix int64) (int64, error) {
	insert, doneInsert, err := t.stmt(ctx, qInsertInterval)
	if err != nil {
		return 0, err
	}
	res, err := insert.ExecContext(ctx, group, int(interval), nowUnix)
	doneInsert()
	if err != nil {
		return 0, fmt.Errorf("inserting arena group interval for %q/%s: %w", group, interval, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading new interval id: %w", err)
	}

	upsert, doneUpsert, err := t.stmt(ctx, qUpsertCurrent)
	if err != nil {
		return 0, err
	}
	defer doneUpsert()
	if _, err := upsert.ExecContext(ctx, group, int(interval), id); err != nil {
		return 0, fmt.Errorf("marking interval %d current for %q/%s: %w", id, group, interval, err)
	}
	return id, nil
}

// CreateArenaGroupIntervalAndMakeCurrent closes whatever generation is
// current for (group, interval), if any, and starts a new one,
// atomically within t (spec §4.5 EndInterval: "the insert of the new
// ArenaGroupInterval row and the update of CurrentArenaGroupInterval
// happen in the same transaction").
func (t *Tx) CreateArenaGroupIntervalAndMakeCurrent(ctx context.Context, group string, interval model.PersistInterval, nowUnix int64) (int64, error) {
	if err := t.ensureArenaGroup(ctx, group); err != nil {
		return 0, fmt.Errorf("ensuring arena group %q: %w", group, err)
	}

	if priorID, ok, err := t.currentIntervalID(ctx, group, interval); err != nil {
		return 0, err
	} else if ok {
		closeStmt, doneClose, err := t.stmt(ctx, qCloseInterval)
		if err != nil {
			return 0, err
		}
		_, err = closeStmt.ExecContext(ctx, nowUnix, priorID)
		doneClose()
		if err != nil {
			return 0, fmt.Errorf("closing prior interval %d for %q/%s: %w", priorID, group, interval, err)
		}
	}

	return t.startInterval(ctx, group, interval, nowUnix)
}

func (s *Store) readBounded(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, int64(s.maxRecordLength)+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	if len(buf) > s.maxRecordLength {
		return nil, fmt.Errorf("record exceeds Persist.MaxRecordLength (%d bytes)", s.maxRecordLength)
	}
	return buf, nil
}

// GetPlayerData copies the stored value for (player, group, interval,
// key) into w. found is false if no such record exists (not an error).
func (t *Tx) GetPlayerData(ctx context.Context, player, group string, interval model.PersistInterval, key uint32, w io.Writer) (found bool, err error) {
	id, ok, err := t.currentIntervalID(ctx, group, interval)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	stmt, done, err := t.stmt(ctx, qGetPlayerData)
	if err != nil {
		return false, err
	}
	defer done()

	var value []byte
	err = stmt.QueryRowContext(ctx, player, group, id, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading player data %s/%d for %q/%q: %w", interval, key, player, group, err)
	}
	if _, err := w.Write(value); err != nil {
		return false, fmt.Errorf("writing player data %s/%d for %q/%q: %w", interval, key, player, group, err)
	}
	return true, nil
}

// SetPlayerData writes r's full contents as the value for (player,
// group, interval, key), creating the generation row on demand.
func (t *Tx) SetPlayerData(ctx context.Context, player, group string, interval model.PersistInterval, key uint32, r io.Reader, nowUnix int64) error {
	if err := t.ensurePlayer(ctx, player); err != nil {
		return fmt.Errorf("ensuring player %q: %w", player, err)
	}
	id, err := t.ensureCurrentInterval(ctx, group, interval, nowUnix)
	if err != nil {
		return err
	}
	value, err := t.store.readBounded(r)
	if err != nil {
		return err
	}

	stmt, done, err := t.stmt(ctx, qSetPlayerData)
	if err != nil {
		return err
	}
	defer done()
	if _, err := stmt.ExecContext(ctx, player, group, id, key, value); err != nil {
		return fmt.Errorf("writing player data %s/%d for %q/%q: %w", interval, key, player, group, err)
	}
	return nil
}

// DeletePlayerData removes the record for (player, group, interval,
// key), if present.
func (t *Tx) DeletePlayerData(ctx context.Context, player, group string, interval model.PersistInterval, key uint32) error {
	id, ok, err := t.currentIntervalID(ctx, group, interval)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	stmt, done, err := t.stmt(ctx, qDeletePlayerData)
	if err != nil {
		return err
	}
	defer done()
	if _, err := stmt.ExecContext(ctx, player, group, id, key); err != nil {
		return fmt.Errorf("deleting player data %s/%d for %q/%q: %w", interval, key, player, group, err)
	}
	return nil
}

// GetArenaData copies the stored value for (group, interval, key) into
// w. found is false if no such record exists.
func (t *Tx) GetArenaData(ctx context.Context, group string, interval model.PersistInterval, key uint32, w io.Writer) (found bool, err error) {
	id, ok, err := t.currentIntervalID(ctx, group, interval)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	stmt, done, err := t.stmt(ctx, qGetArenaData)
	if err != nil {
		return false, err
	}
	defer done()

	var value []byte
	err = stmt.QueryRowContext(ctx, group, id, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading arena data %s/%d for %q: %w", interval, key, group, err)
	}
	if _, err := w.Write(value); err != nil {
		return false, fmt.Errorf("writing arena data %s/%d for %q: %w", interval, key, group, err)
	}
	return true, nil
}

// SetArenaData writes r's full contents as the value for (group,
// interval, key), creating the generation row on demand.
func (t *Tx) SetArenaData(ctx context.Context, group string, interval model.PersistInterval, key uint32, r io.Reader, nowUnix int64) error {
	id, err := t.ensureCurrentInterval(ctx, group, interval, nowUnix)
	if err != nil {
		return err
	}
	value, err := t.store.readBounded(r)
	if err != nil {
		return err
	}

	stmt, done, err := t.stmt(ctx, qSetArenaData)
	if err != nil {
		return err
	}
	defer done()
	if _, err := stmt.ExecContext(ctx, group, id, key, value); err != nil {
		return fmt.Errorf("writing arena data %s/%d for %q: %w", interval, key, group, err)
	}
	return nil
}

// DeleteArenaData removes the record for (group, interval, key), if
// present.
func (t *Tx) DeleteArenaData(ctx context.Context, group string, interval model.PersistInterval, key uint32) error {
	id, ok, err := t.currentIntervalID(ctx, group, interval)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	stmt, done, err := t.stmt(ctx, qDeleteArenaData)
	if err != nil {
		return err
	}
	defer done()
	if _, err := stmt.ExecContext(ctx, group, id, key); err != nil {
		return fmt.Errorf("deleting arena data %s/%d for %q: %w", interval, key, group, err)
	}
	return nil
}

// ResetGameInterval ends the current Game generation for arenaName and
// starts a fresh one, deleting every ArenaData/PlayerData row bound to
// the generation just ended. Game is never a shared interval (spec
// §4.5 GroupOf), so arenaName is used directly as the group — there is
// no separate resolution step.
func (t *Tx) ResetGameInterval(ctx context.Context, arenaName string, nowUnix int64) error {
	priorID, ok, err := t.currentIntervalID(ctx, arenaName, model.IntervalGame)
	if err != nil {
		return err
	}
	if ok {
		del1, done1, err := t.stmt(ctx, qDeletePlayerDataByInterval)
		if err != nil {
			return err
		}
		_, err = del1.ExecContext(ctx, arenaName, priorID)
		done1()
		if err != nil {
			return fmt.Errorf("clearing player data for ended game interval in %q: %w", arenaName, err)
		}

		del2, done2, err := t.stmt(ctx, qDeleteArenaDataByInterval)
		if err != nil {
			return err
		}
		_, err = del2.ExecContext(ctx, arenaName, priorID)
		done2()
		if err != nil {
			return fmt.Errorf("clearing arena data for ended game interval in %q: %w", arenaName, err)
		}
	}

	_, err = t.CreateArenaGroupIntervalAndMakeCurrent(ctx, arenaName, model.IntervalGame, nowUnix)
	return err
}

// Stats summarizes the datastore for diagnostics (spec §4.4
// supplement, see SPEC_FULL.md §4).
type Stats struct {
	Players       int64
	ArenaGroups   int64
	Intervals     int64
	PlayerRecords int64
	ArenaRecords  int64
	FileBytes     int64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int64
	}{
		{"Player", &st.Players},
		{"ArenaGroup", &st.ArenaGroups},
		{"ArenaGroupInterval", &st.Intervals},
		{"PlayerData", &st.PlayerRecords},
		{"ArenaData", &st.ArenaRecords},
	}
	for _, c := range counts {
		row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table)
		if err := row.Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	if info, err := os.Stat(s.path); err == nil {
		st.FileBytes = info.Size()
	}
	return st, nil
}
