package persist

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoneserver/core/internal/model"
	"github.com/zoneserver/core/internal/zoneconfig"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zone.db")
	store, err := Open(context.Background(), slog.Default(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen_NilConfigUsesDefaultMaxRecordLength(t *testing.T) {
	store := openTestStore(t)
	assert.Equal(t, defaultMaxRecordLength, store.MaxRecordLength())
}

func TestOpen_MaxRecordLengthReadsPersistConfig(t *testing.T) {
	cfg := zoneconfig.NewScope()
	cfg.Set("Persist", "MaxRecordLength", "2048")

	path := filepath.Join(t.TempDir(), "zone.db")
	store, err := Open(context.Background(), slog.Default(), path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	assert.Equal(t, 2048, store.MaxRecordLength())
}

// Seed test: spec §8 persist round trip. Put(E); Clear(E); Get(E) must
// leave E's state equal to what it was before Put — i.e. after the
// clear, a subsequent Get finds nothing.
func TestPlayerData_PutClearGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.SetPlayerData(ctx, "alice", "arena1", model.IntervalGame, 1, bytes.NewReader([]byte("hello")), 1000))

	var buf bytes.Buffer
	found, err := tx.GetPlayerData(ctx, "alice", "arena1", model.IntervalGame, 1, &buf)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", buf.String())

	require.NoError(t, tx.DeletePlayerData(ctx, "alice", "arena1", model.IntervalGame, 1))

	buf.Reset()
	found, err = tx.GetPlayerData(ctx, "alice", "arena1", model.IntervalGame, 1, &buf)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, buf.Bytes())

	require.NoError(t, tx.Commit())
}

func TestArenaData_PutClearGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.SetArenaData(ctx, "arena1", model.IntervalForever, 2, bytes.NewReader([]byte("flag-state")), 1000))

	var buf bytes.Buffer
	found, err := tx.GetArenaData(ctx, "arena1", model.IntervalForever, 2, &buf)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "flag-state", buf.String())

	require.NoError(t, tx.DeleteArenaData(ctx, "arena1", model.IntervalForever, 2))

	buf.Reset()
	found, err = tx.GetArenaData(ctx, "arena1", model.IntervalForever, 2, &buf)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, tx.Commit())
}

func TestSetPlayerData_RejectsOversizedRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	oversized := bytes.NewReader(make([]byte, store.MaxRecordLength()+1))
	err = tx.SetPlayerData(ctx, "alice", "arena1", model.IntervalGame, 1, oversized, 1000)
	assert.Error(t, err)
}

// Seed test: spec §8.4 EndInterval generation rotation. Ending
// generation X's interval gives it an EndTimestamp, and starts a new
// generation Y with StartTimestamp = the same close time and no end,
// and CurrentArenaGroupInterval is repointed to Y.
func TestCreateArenaGroupIntervalAndMakeCurrent_RotatesGeneration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	firstID, err := tx.ensureCurrentInterval(ctx, "arena1", model.IntervalGame, 1000)
	require.NoError(t, err)
	require.NoError(t, tx.SetPlayerData(ctx, "alice", "arena1", model.IntervalGame, 1, bytes.NewReader([]byte("x")), 1000))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	secondID, err := tx.CreateArenaGroupIntervalAndMakeCurrent(ctx, "arena1", model.IntervalGame, 2000)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.NotEqual(t, firstID, secondID)

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	current, ok, err := tx.currentIntervalID(ctx, "arena1", model.IntervalGame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, secondID, current)

	// The old generation's data is still there (only ResetGameInterval
	// clears rows); only the "current" pointer moved.
	var buf bytes.Buffer
	found, err := tx.GetPlayerData(ctx, "alice", "arena1", model.IntervalGame, 1, &buf)
	require.NoError(t, err)
	assert.False(t, found, "data keyed to the old generation id should not resolve through the new current pointer")
	require.NoError(t, tx.Commit())
}

func TestResetGameInterval_ClearsDataAndRotates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.ensureCurrentInterval(ctx, "arena1", model.IntervalGame, 1000)
	require.NoError(t, err)
	require.NoError(t, tx.SetPlayerData(ctx, "alice", "arena1", model.IntervalGame, 1, bytes.NewReader([]byte("x")), 1000))
	require.NoError(t, tx.SetArenaData(ctx, "arena1", model.IntervalGame, 2, bytes.NewReader([]byte("y")), 1000))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.ResetGameInterval(ctx, "arena1", 2000))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	var buf bytes.Buffer
	found, err := tx.GetPlayerData(ctx, "alice", "arena1", model.IntervalGame, 1, &buf)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, tx.Commit())
}

func TestStore_Stats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetPlayerData(ctx, "alice", "arena1", model.IntervalGame, 1, bytes.NewReader([]byte("x")), 1000))
	require.NoError(t, tx.Commit())

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Players)
	assert.Equal(t, int64(1), stats.PlayerRecords)
}
