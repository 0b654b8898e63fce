package persist

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoneserver/core/internal/mainloop"
	"github.com/zoneserver/core/internal/model"
	"github.com/zoneserver/core/internal/zoneconfig"
)

func openTestExecutor(t *testing.T) (*Executor, *mainloop.MainLoop) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zone.db")
	store, err := Open(context.Background(), slog.Default(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ml := mainloop.New(slog.Default(), 2)
	exec := NewExecutor(slog.Default(), store, ml, 0, nil)
	return exec, ml
}

// openTestExecutorWithCollect is openTestExecutor but wires a collect
// callback returning a fixed player/arena set, for EndInterval/
// ResetGameInterval tests that need live entities to select from.
func openTestExecutorWithCollect(t *testing.T, collect func() ([]*model.Player, []*model.Arena)) (*Executor, *mainloop.MainLoop) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zone.db")
	store, err := Open(context.Background(), slog.Default(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ml := mainloop.New(slog.Default(), 2)
	exec := NewExecutor(slog.Default(), store, ml, 0, collect)
	return exec, ml
}

// scoreField is a tiny in-memory field a test registration persists,
// standing in for a real gameplay stat.
type scoreField struct {
	mu    sync.Mutex
	value int32
}

func (f *scoreField) get() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *scoreField) set(v int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

func newScoreRegistration(key uint32, interval model.PersistInterval, field *scoreField) *model.DataRegistration {
	return &model.DataRegistration{
		Key:      key,
		Interval: interval,
		Scope:    model.ScopePerArena,
		Entity:   model.EntityPlayer,
		GetData: func(entity any, w io.Writer) (int, error) {
			var b [4]byte
			v := field.get()
			b[0] = byte(v)
			b[1] = byte(v >> 8)
			b[2] = byte(v >> 16)
			b[3] = byte(v >> 24)
			return w.Write(b[:])
		},
		SetData: func(entity any, r io.Reader) error {
			var b [4]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return err
			}
			field.set(int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24)
			return nil
		},
		ClearData: func(entity any) { field.set(0) },
	}
}

// Seed test: spec §8 persist worker callback ordering. GetPlayer then
// PutPlayer must be observed in that order on the mainloop — the
// loaded value must be visible before the subsequent save runs.
func TestExecutor_GetThenPutPlayer_ObservedInOrder(t *testing.T) {
	exec, ml := openTestExecutor(t)
	exec.Start(context.Background())
	defer exec.Stop()

	go ml.Run()
	defer ml.Quit(0)

	field := &scoreField{}
	reg := newScoreRegistration(1, model.IntervalGame, field)
	require.NoError(t, exec.Register(reg))

	player := model.NewPlayer(1, "alice")

	// Seed a value directly through the store so GetPlayer has
	// something to load.
	tx, err := exec.store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.SetPlayerData(context.Background(), "alice", "arena1", model.IntervalGame, 1,
		bytes.NewReader(int32ToBytes(42)), time.Now().Unix()))
	require.NoError(t, tx.Commit())

	exec.GetPlayer(player, "arena1")

	require.Eventually(t, func() bool {
		return field.get() == 42
	}, time.Second, 5*time.Millisecond)

	field.set(7)
	exec.PutPlayer(player, "arena1")

	require.Eventually(t, func() bool {
		var buf countingBuffer
		tx, err := exec.store.Begin(context.Background())
		if err != nil {
			return false
		}
		defer tx.Rollback()
		found, err := tx.GetPlayerData(context.Background(), "alice", "arena1", model.IntervalGame, 1, &buf)
		return err == nil && found && bytesToInt32(buf.data) == 7
	}, time.Second, 5*time.Millisecond)
}

func TestExecutor_RegisterCollisionRejected(t *testing.T) {
	exec, _ := openTestExecutor(t)

	field := &scoreField{}
	reg1 := newScoreRegistration(1, model.IntervalGame, field)
	reg2 := newScoreRegistration(1, model.IntervalGame, field)

	require.NoError(t, exec.Register(reg1))
	err := exec.Register(reg2)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverlappingRegistration))
}

func TestExecutor_PutAll_WritesEveryEntity(t *testing.T) {
	exec, ml := openTestExecutor(t)
	exec.Start(context.Background())
	defer exec.Stop()
	go ml.Run()
	defer ml.Quit(0)

	field := &scoreField{}
	field.set(5)
	require.NoError(t, exec.Register(newScoreRegistration(1, model.IntervalGame, field)))

	cfg := zoneconfig.NewScope()
	arena := model.NewArena("arena1", cfg)
	player := model.NewPlayer(1, "alice")
	player.SetArena(arena)

	exec.PutAll([]*model.Player{player}, []*model.Arena{arena})

	// "arena1" strips its trailing digit to baseName "arena"; with no
	// [General] ScoreGroup override that's the group ScoreGroup resolves to.
	require.Eventually(t, func() bool {
		var buf countingBuffer
		tx, err := exec.store.Begin(context.Background())
		if err != nil {
			return false
		}
		defer tx.Rollback()
		found, err := tx.GetPlayerData(context.Background(), "alice", "arena", model.IntervalGame, 1, &buf)
		return err == nil && found && bytesToInt32(buf.data) == 5
	}, time.Second, 5*time.Millisecond)
}

type countingBuffer struct{ data []byte }

func (b *countingBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func int32ToBytes(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func bytesToInt32(b []byte) int32 {
	if len(b) < 4 {
		return 0
	}
	return int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
}

// Seed test: spec §3 ArenaGroupInterval — Forever and ForeverNotShared
// never end.
func TestExecutor_EndInterval_RefusesIntervalsThatCannotEnd(t *testing.T) {
	exec, ml := openTestExecutor(t)
	exec.Start(context.Background())
	defer exec.Stop()
	go ml.Run()
	defer ml.Quit(0)

	var fired bool
	exec.OnIntervalEnded(func(string, model.PersistInterval) { fired = true })

	exec.EndInterval(model.GlobalGroup, model.IntervalForever)
	exec.EndInterval("arena", model.IntervalForeverNotShared)

	// Give the worker a chance to run, if it were going to.
	done := make(chan struct{})
	exec.PutAll(nil, nil)
	exec.enqueue(func(context.Context) { close(done) })
	<-done

	assert.False(t, fired)
}

// Seed test: spec §4.5 EndInterval in-memory side. A player in the
// arena status window, and the arena itself, are Put then Cleared of
// Game registrations when arena's group ends; the
// PersistIntervalEnded notification fires afterward.
func TestExecutor_EndInterval_PutsThenClearsMatchingEntities(t *testing.T) {
	cfg := zoneconfig.NewScope()
	arena := model.NewArena("arena1", cfg)

	player := model.NewPlayer(1, "alice")
	player.SetArena(arena)
	player.SetStatus(model.StatusArenaRespAndCBS)

	playerField := &scoreField{}
	playerField.set(11)
	arenaField := &scoreField{}
	arenaField.set(22)

	collect := func() ([]*model.Player, []*model.Arena) {
		return []*model.Player{player}, []*model.Arena{arena}
	}
	exec, ml := openTestExecutorWithCollect(t, collect)
	exec.Start(context.Background())
	defer exec.Stop()
	go ml.Run()
	defer ml.Quit(0)

	require.NoError(t, exec.Register(newScoreRegistration(1, model.IntervalGame, playerField)))
	arenaReg := &model.DataRegistration{
		Key:      2,
		Interval: model.IntervalGame,
		Scope:    model.ScopePerArena,
		Entity:   model.EntityArena,
		GetData: func(entity any, w io.Writer) (int, error) {
			return w.Write(int32ToBytes(arenaField.get()))
		},
		SetData:   func(entity any, r io.Reader) error { return nil },
		ClearData: func(entity any) { arenaField.set(0) },
	}
	require.NoError(t, exec.Register(arenaReg))

	group := arena.Name() // Game is never shared: GroupOf(arena, Game) == arena.Name.
	exec.EndInterval(group, model.IntervalGame)

	var notifiedGroup string
	var notifiedInterval model.PersistInterval
	done := make(chan struct{})
	exec.OnIntervalEnded(func(g string, i model.PersistInterval) {
		notifiedGroup, notifiedInterval = g, i
		close(done)
	})
	// Re-run EndInterval now that the callback is wired, to observe it.
	exec.EndInterval(group, model.IntervalGame)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PersistIntervalEnded notification never fired")
	}
	assert.Equal(t, group, notifiedGroup)
	assert.Equal(t, model.IntervalGame, notifiedInterval)

	require.Eventually(t, func() bool {
		return playerField.get() == 0 && arenaField.get() == 0
	}, time.Second, 5*time.Millisecond)

	// After the rotation, no player data for this group resolves
	// through the new current generation pointer.
	var buf countingBuffer
	tx, err := exec.store.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	found, err := tx.GetPlayerData(context.Background(), "alice", group, model.IntervalGame, 1, &buf)
	require.NoError(t, err)
	assert.False(t, found, "data keyed to the closed generation shouldn't resolve through the new current pointer")
}

// Seed test: spec §4.5 ResetGameInterval in-memory side. Clears
// Game/PerArena registrations for every live player in arena plus the
// arena itself.
func TestExecutor_ResetGameInterval_ClearsPlayersAndArena(t *testing.T) {
	cfg := zoneconfig.NewScope()
	arena := model.NewArena("arena1", cfg)
	other := model.NewArena("arena2", cfg)

	inArena := model.NewPlayer(1, "alice")
	inArena.SetArena(arena)
	inArena.SetStatus(model.StatusArenaRespAndCBS)

	elsewhere := model.NewPlayer(2, "bob")
	elsewhere.SetArena(other)
	elsewhere.SetStatus(model.StatusArenaRespAndCBS)

	inArenaField := &scoreField{}
	inArenaField.set(5)
	elsewhereField := &scoreField{}
	elsewhereField.set(9)
	arenaField := &scoreField{}
	arenaField.set(3)

	collect := func() ([]*model.Player, []*model.Arena) {
		return []*model.Player{inArena, elsewhere}, []*model.Arena{arena, other}
	}
	exec, ml := openTestExecutorWithCollect(t, collect)
	exec.Start(context.Background())
	defer exec.Stop()
	go ml.Run()
	defer ml.Quit(0)

	require.NoError(t, exec.Register(&model.DataRegistration{
		Key: 1, Interval: model.IntervalGame, Scope: model.ScopePerArena, Entity: model.EntityPlayer,
		GetData: func(entity any, w io.Writer) (int, error) {
			f := inArenaField
			if entity.(*model.Player) == elsewhere {
				f = elsewhereField
			}
			return w.Write(int32ToBytes(f.get()))
		},
		SetData: func(entity any, r io.Reader) error { return nil },
		ClearData: func(entity any) {
			if entity.(*model.Player) == elsewhere {
				elsewhereField.set(0)
				return
			}
			inArenaField.set(0)
		},
	}))
	require.NoError(t, exec.Register(&model.DataRegistration{
		Key: 2, Interval: model.IntervalGame, Scope: model.ScopePerArena, Entity: model.EntityArena,
		GetData:   func(entity any, w io.Writer) (int, error) { return w.Write(int32ToBytes(arenaField.get())) },
		SetData:   func(entity any, r io.Reader) error { return nil },
		ClearData: func(entity any) { arenaField.set(0) },
	}))

	exec.ResetGameInterval(arena)

	require.Eventually(t, func() bool {
		return inArenaField.get() == 0 && arenaField.get() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(9), elsewhereField.get(), "a player in a different arena must not be cleared")
}
