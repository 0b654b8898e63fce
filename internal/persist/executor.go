package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zoneserver/core/internal/mainloop"
	"github.com/zoneserver/core/internal/model"
)

// ErrOverlappingRegistration is wrapped into the error Register returns
// when another DataRegistration already claims the same (Key, Interval,
// Scope, Entity) tuple (spec §3 invariant; spec §7 error kind
// "OverlappingRegistration"). Callers that need to distinguish this
// from other Register failures can match it with errors.Is.
var ErrOverlappingRegistration = errors.New("persist: overlapping registration")

// Executor is the PersistExecutor (spec §4.5): a single background
// worker that drains a FIFO of persist commands against the
// PersistDatastore, and re-enters the mainloop via
// mainloop.QueueMainWorkItem whenever a command needs to mutate a
// live Player or Arena. Grounded on the teacher's internal/ai
// TickManager (ticker + stop-channel worker loop, sync.Map-free here
// since registrations are few and change rarely).
//
// GetData callbacks run directly on this worker's goroutine, off the
// mainloop thread — they may only touch state the entity itself
// synchronizes (see DataRegistration.GetData). SetData callbacks
// always run as a mainloop work item, since loading replaces live
// entity state.
type Executor struct {
	log   *slog.Logger
	store *Store
	ml    *mainloop.MainLoop

	regMu sync.RWMutex
	regs  map[model.RegKey]*model.DataRegistration

	queue   chan func(context.Context)
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool

	fullSyncInterval time.Duration
	collect          func() (players []*model.Player, arenas []*model.Arena)
	syncTimerKey     *int

	intervalEndedMu sync.Mutex
	onIntervalEnded func(group string, interval model.PersistInterval)
}

// NewExecutor builds an Executor. collect, if non-nil, gathers the live
// player and arena set: on the mainloop thread every fullSyncInterval
// for a periodic full PutAll (spec §4.5 "periodic full sync"), and on
// the persist worker thread when EndInterval/ResetGameInterval need to
// select which live entities belong to the (group, interval) being
// closed. Both are safe since Player/Arena's exposed accessors are
// already atomic/mutex-guarded. Pass a nil collect or a zero interval
// to disable the periodic sync; EndInterval/ResetGameInterval simply
// see no candidates without one.
func NewExecutor(log *slog.Logger, store *Store, ml *mainloop.MainLoop, fullSyncInterval time.Duration, collect func() ([]*model.Player, []*model.Arena)) *Executor {
	return &Executor{
		log:              log,
		store:            store,
		ml:               ml,
		regs:             make(map[model.RegKey]*model.DataRegistration),
		queue:            make(chan func(context.Context), 64),
		stopCh:           make(chan struct{}),
		fullSyncInterval: fullSyncInterval,
		collect:          collect,
		syncTimerKey:     new(int),
	}
}

// Start launches the worker goroutine and, if configured, the
// periodic full-sync main timer.
func (e *Executor) Start(ctx context.Context) {
	if e.started {
		return
	}
	e.started = true
	e.wg.Add(1)
	go e.run(ctx)

	if e.collect != nil && e.fullSyncInterval > 0 {
		ms := e.fullSyncInterval.Milliseconds()
		e.ml.SetMainTimer(e.fullSyncTick, nil, ms, ms, e.syncTimerKey)
	}
}

// Stop clears the full-sync timer and waits for the worker to drain
// and exit.
func (e *Executor) Stop() {
	if e.collect != nil && e.fullSyncInterval > 0 {
		e.ml.ClearMainTimer(e.fullSyncTick, e.syncTimerKey, nil)
	}
	close(e.stopCh)
	e.wg.Wait()
}

func (e *Executor) fullSyncTick(_ any) bool {
	players, arenas := e.collect()
	e.PutAll(players, arenas)
	return true
}

func (e *Executor) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			for {
				select {
				case cmd := <-e.queue:
					cmd(ctx)
				default:
					return
				}
			}
		case cmd := <-e.queue:
			cmd(ctx)
		}
	}
}

func (e *Executor) enqueue(fn func(context.Context)) {
	select {
	case e.queue <- fn:
	case <-e.stopCh:
	}
}

// Register adds a PersistentData registration. Returns an error if
// another registration already claims the same (Key, Interval, Scope,
// Entity) tuple (spec §3 invariant).
func (e *Executor) Register(reg *model.DataRegistration) error {
	e.regMu.Lock()
	defer e.regMu.Unlock()

	k := entityRegKey(reg)
	if existing, ok := e.regs[k]; ok {
		return fmt.Errorf("%w: key %d/%s/%s already registered by %p", ErrOverlappingRegistration, reg.Key, reg.Interval, reg.Scope, existing)
	}
	e.regs[k] = reg
	return nil
}

// Unregister removes a previously registered DataRegistration.
func (e *Executor) Unregister(reg *model.DataRegistration) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	delete(e.regs, entityRegKey(reg))
}

type entityKey struct {
	model.RegKey
	Entity model.EntityKind
}

// entityRegKey folds EntityKind into the RegKey lookup so a player
// registration and an arena registration may reuse the same raw Key
// without colliding.
func entityRegKey(reg *model.DataRegistration) entityKey {
	return entityKey{RegKey: reg.RegKey(), Entity: reg.Entity}
}

func (e *Executor) regsFor(kind model.EntityKind) []*model.DataRegistration {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	out := make([]*model.DataRegistration, 0, len(e.regs))
	for k, r := range e.regs {
		if k.Entity == kind {
			out = append(out, r)
		}
	}
	return out
}

func resolveGroup(scope model.Scope, arenaGroup string) string {
	if scope == model.ScopeGlobal {
		return model.GlobalGroup
	}
	return arenaGroup
}

// groupOf resolves the arena-group an arena's data lives under for a
// given interval (spec §4.5 GroupOf): Global if arena is nil; the
// arena's own Name if interval isn't shared; otherwise its ScoreGroup.
func groupOf(arena *model.Arena, interval model.PersistInterval) string {
	if arena == nil {
		return model.GlobalGroup
	}
	if !interval.Shared() {
		return arena.Name()
	}
	return arena.ScoreGroup()
}

// playerStatusWindow returns the player-status range whose in-memory
// data EndInterval must Put-then-Clear for group (spec §4.5): the
// Global window for the reserved global group, the arena window for
// every other (per-arena) group.
func playerStatusWindow(group string) (lo, hi model.PlayerStatus) {
	if group == model.GlobalGroup {
		return model.StatusDoGlobalCallbacks, model.StatusWaitGlobalSync2
	}
	return model.StatusArenaRespAndCBS, model.StatusWaitArenaSync2
}

// clearMatchingRegs clears every registered DataRegistration of kind
// matching match against entity. Callers run this on the mainloop,
// alongside every other live-state mutation.
func (e *Executor) clearMatchingRegs(kind model.EntityKind, entity any, match func(*model.DataRegistration) bool) {
	for _, reg := range e.regsFor(kind) {
		if match(reg) {
			reg.ClearData(entity)
		}
	}
}

// OnIntervalEnded registers the callback EndInterval invokes on the
// mainloop once it has closed a generation (spec §4.5: "fire the
// PersistIntervalEnded notification on the mainloop"). A single
// settable subscriber, grounded on the teacher's
// offlinetrade.Table.SetExpireCallback shape rather than a
// multi-listener broker.
func (e *Executor) OnIntervalEnded(fn func(group string, interval model.PersistInterval)) {
	e.intervalEndedMu.Lock()
	defer e.intervalEndedMu.Unlock()
	e.onIntervalEnded = fn
}

func (e *Executor) notifyIntervalEnded(group string, interval model.PersistInterval) {
	e.intervalEndedMu.Lock()
	fn := e.onIntervalEnded
	e.intervalEndedMu.Unlock()
	if fn != nil {
		fn(group, interval)
	}
}

type loadedValue struct {
	reg  *model.DataRegistration
	data []byte
}

// GetPlayer loads every registered player DataRegistration for player
// into its live fields. arenaGroup resolves PerArena-scoped
// registrations (spec §4.5 GroupOf); pass the player's current arena
// group, or "" if the player has none (only Global-scoped
// registrations will then fire).
func (e *Executor) GetPlayer(player *model.Player, arenaGroup string) {
	name := player.Name()
	regs := e.regsFor(model.EntityPlayer)

	e.enqueue(func(ctx context.Context) {
		tx, err := e.store.Begin(ctx)
		if err != nil {
			e.log.Error("persist: begin GetPlayer transaction", "player", name, "error", err)
			return
		}
		defer tx.Rollback()

		var loaded []loadedValue
		for _, reg := range regs {
			group := resolveGroup(reg.Scope, arenaGroup)
			if group == "" {
				continue
			}
			var buf bytes.Buffer
			found, err := tx.GetPlayerData(ctx, name, group, reg.Interval, reg.Key, &buf)
			if err != nil {
				e.log.Error("persist: load player data", "player", name, "key", reg.Key, "error", err)
				continue
			}
			if found {
				loaded = append(loaded, loadedValue{reg: reg, data: buf.Bytes()})
			}
		}
		if err := tx.Commit(); err != nil {
			e.log.Error("persist: commit GetPlayer transaction", "player", name, "error", err)
			return
		}

		e.ml.QueueMainWorkItem(func(_ any) {
			for _, lv := range loaded {
				if err := lv.reg.SetData(player, bytes.NewReader(lv.data)); err != nil {
					e.log.Error("persist: apply player data", "player", name, "key", lv.reg.Key, "error", err)
				}
			}
		}, nil)
	})
}

// PutPlayer saves every registered player DataRegistration's current
// value for player. GetData runs on the persist worker goroutine, not
// the mainloop.
func (e *Executor) PutPlayer(player *model.Player, arenaGroup string) {
	e.enqueue(func(ctx context.Context) { e.putPlayer(ctx, player, arenaGroup) })
}

func (e *Executor) putPlayer(ctx context.Context, player *model.Player, arenaGroup string) {
	name := player.Name()
	regs := e.regsFor(model.EntityPlayer)
	now := time.Now().Unix()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		e.log.Error("persist: begin PutPlayer transaction", "player", name, "error", err)
		return
	}
	defer tx.Rollback()

	for _, reg := range regs {
		group := resolveGroup(reg.Scope, arenaGroup)
		if group == "" {
			continue
		}
		var buf bytes.Buffer
		if _, err := reg.GetData(player, &buf); err != nil {
			e.log.Error("persist: serialize player data", "player", name, "key", reg.Key, "error", err)
			continue
		}
		if err := tx.SetPlayerData(ctx, name, group, reg.Interval, reg.Key, &buf, now); err != nil {
			e.log.Error("persist: save player data", "player", name, "key", reg.Key, "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		e.log.Error("persist: commit PutPlayer transaction", "player", name, "error", err)
	}
}

// GetArena loads every registered arena DataRegistration into arena's
// live fields (Global-scoped registrations always resolve to the
// reserved global group).
func (e *Executor) GetArena(arena *model.Arena) {
	group := arena.ScoreGroup()
	regs := e.regsFor(model.EntityArena)

	e.enqueue(func(ctx context.Context) {
		tx, err := e.store.Begin(ctx)
		if err != nil {
			e.log.Error("persist: begin GetArena transaction", "arena", arena.Name(), "error", err)
			return
		}
		defer tx.Rollback()

		var loaded []loadedValue
		for _, reg := range regs {
			g := resolveGroup(reg.Scope, group)
			var buf bytes.Buffer
			found, err := tx.GetArenaData(ctx, g, reg.Interval, reg.Key, &buf)
			if err != nil {
				e.log.Error("persist: load arena data", "arena", arena.Name(), "key", reg.Key, "error", err)
				continue
			}
			if found {
				loaded = append(loaded, loadedValue{reg: reg, data: buf.Bytes()})
			}
		}
		if err := tx.Commit(); err != nil {
			e.log.Error("persist: commit GetArena transaction", "arena", arena.Name(), "error", err)
			return
		}

		e.ml.QueueMainWorkItem(func(_ any) {
			for _, lv := range loaded {
				if err := lv.reg.SetData(arena, bytes.NewReader(lv.data)); err != nil {
					e.log.Error("persist: apply arena data", "arena", arena.Name(), "key", lv.reg.Key, "error", err)
				}
			}
		}, nil)
	})
}

// PutArena saves every registered arena DataRegistration's current
// value for arena.
func (e *Executor) PutArena(arena *model.Arena) {
	e.enqueue(func(ctx context.Context) { e.putArena(ctx, arena) })
}

func (e *Executor) putArena(ctx context.Context, arena *model.Arena) {
	group := arena.ScoreGroup()
	regs := e.regsFor(model.EntityArena)
	now := time.Now().Unix()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		e.log.Error("persist: begin PutArena transaction", "arena", arena.Name(), "error", err)
		return
	}
	defer tx.Rollback()

	for _, reg := range regs {
		g := resolveGroup(reg.Scope, group)
		var buf bytes.Buffer
		if _, err := reg.GetData(arena, &buf); err != nil {
			e.log.Error("persist: serialize arena data", "arena", arena.Name(), "key", reg.Key, "error", err)
			continue
		}
		if err := tx.SetArenaData(ctx, g, reg.Interval, reg.Key, &buf, now); err != nil {
			e.log.Error("persist: save arena data", "arena", arena.Name(), "key", reg.Key, "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		e.log.Error("persist: commit PutArena transaction", "arena", arena.Name(), "error", err)
	}
}

// PutAll saves every player and arena's data in one transaction (spec
// §4.5 periodic full sync / shutdown flush).
func (e *Executor) PutAll(players []*model.Player, arenas []*model.Arena) {
	e.enqueue(func(ctx context.Context) {
		now := time.Now().Unix()
		playerRegs := e.regsFor(model.EntityPlayer)
		arenaRegs := e.regsFor(model.EntityArena)

		tx, err := e.store.Begin(ctx)
		if err != nil {
			e.log.Error("persist: begin PutAll transaction", "error", err)
			return
		}
		defer tx.Rollback()

		for _, player := range players {
			arenaGroup := ""
			if a := player.Arena(); a != nil {
				arenaGroup = a.ScoreGroup()
			}
			for _, reg := range playerRegs {
				group := resolveGroup(reg.Scope, arenaGroup)
				if group == "" {
					continue
				}
				var buf bytes.Buffer
				if _, err := reg.GetData(player, &buf); err != nil {
					e.log.Error("persist: serialize player data", "player", player.Name(), "key", reg.Key, "error", err)
					continue
				}
				if err := tx.SetPlayerData(ctx, player.Name(), group, reg.Interval, reg.Key, &buf, now); err != nil {
					e.log.Error("persist: save player data", "player", player.Name(), "key", reg.Key, "error", err)
				}
			}
		}

		for _, arena := range arenas {
			group := arena.ScoreGroup()
			for _, reg := range arenaRegs {
				g := resolveGroup(reg.Scope, group)
				var buf bytes.Buffer
				if _, err := reg.GetData(arena, &buf); err != nil {
					e.log.Error("persist: serialize arena data", "arena", arena.Name(), "key", reg.Key, "error", err)
					continue
				}
				if err := tx.SetArenaData(ctx, g, reg.Interval, reg.Key, &buf, now); err != nil {
					e.log.Error("persist: save arena data", "arena", arena.Name(), "key", reg.Key, "error", err)
				}
			}
		}

		if err := tx.Commit(); err != nil {
			e.log.Error("persist: commit PutAll transaction", "error", err)
		}
	})
}

// EndInterval closes the current generation for (group, interval) and
// starts a new one (spec §4.5). Forever and ForeverNotShared never
// end — CanEnd refuses those before anything is touched. Every live
// player in the matching status window whose arena resolves to group,
// and every live arena that resolves to group, is Put then (after the
// new generation is current) Cleared of this interval's registrations;
// finally the PersistIntervalEnded notification fires on the mainloop.
func (e *Executor) EndInterval(group string, interval model.PersistInterval) {
	if !interval.CanEnd() {
		e.log.Warn("persist: EndInterval refused for an interval that cannot end", "group", group, "interval", interval)
		return
	}

	e.enqueue(func(ctx context.Context) {
		var players []*model.Player
		var arenas []*model.Arena
		if e.collect != nil {
			players, arenas = e.collect()
		}

		lo, hi := playerStatusWindow(group)
		var matchedPlayers []*model.Player
		for _, p := range players {
			if p.Status().InRange(lo, hi) && groupOf(p.Arena(), interval) == group {
				matchedPlayers = append(matchedPlayers, p)
			}
		}
		var matchedArenas []*model.Arena
		for _, a := range arenas {
			if groupOf(a, interval) == group {
				matchedArenas = append(matchedArenas, a)
			}
		}

		for _, p := range matchedPlayers {
			arenaGroup := ""
			if a := p.Arena(); a != nil {
				arenaGroup = a.ScoreGroup()
			}
			e.putPlayer(ctx, p, arenaGroup)
		}
		for _, a := range matchedArenas {
			e.putArena(ctx, a)
		}

		tx, err := e.store.Begin(ctx)
		if err != nil {
			e.log.Error("persist: begin EndInterval transaction", "group", group, "error", err)
			return
		}
		defer tx.Rollback()
		if _, err := tx.CreateArenaGroupIntervalAndMakeCurrent(ctx, group, interval, time.Now().Unix()); err != nil {
			e.log.Error("persist: end interval", "group", group, "interval", interval, "error", err)
			return
		}
		if err := tx.Commit(); err != nil {
			e.log.Error("persist: commit EndInterval transaction", "group", group, "error", err)
			return
		}

		e.ml.QueueMainWorkItem(func(_ any) {
			sameInterval := func(r *model.DataRegistration) bool { return r.Interval == interval }
			for _, p := range matchedPlayers {
				e.clearMatchingRegs(model.EntityPlayer, p, sameInterval)
			}
			for _, a := range matchedArenas {
				e.clearMatchingRegs(model.EntityArena, a, sameInterval)
			}
			e.notifyIntervalEnded(group, interval)
		}, nil)
	})
}

// ResetGameInterval ends arena's current Game generation (spec §4.5):
// the datastore first deletes every row bound to the generation just
// ended and starts a new one; then, on the mainloop, every live player
// in the arena-status window that's currently in arena has its
// Game/PerArena registrations cleared, and so does arena itself.
func (e *Executor) ResetGameInterval(arena *model.Arena) {
	e.enqueue(func(ctx context.Context) {
		var players []*model.Player
		if e.collect != nil {
			players, _ = e.collect()
		}

		lo, hi := model.StatusArenaRespAndCBS, model.StatusWaitArenaSync2
		var matched []*model.Player
		for _, p := range players {
			if p.Status().InRange(lo, hi) && p.Arena() == arena {
				matched = append(matched, p)
			}
		}

		tx, err := e.store.Begin(ctx)
		if err != nil {
			e.log.Error("persist: begin ResetGameInterval transaction", "arena", arena.Name(), "error", err)
			return
		}
		defer tx.Rollback()
		if err := tx.ResetGameInterval(ctx, arena.Name(), time.Now().Unix()); err != nil {
			e.log.Error("persist: reset game interval", "arena", arena.Name(), "error", err)
			return
		}
		if err := tx.Commit(); err != nil {
			e.log.Error("persist: commit ResetGameInterval transaction", "arena", arena.Name(), "error", err)
			return
		}

		e.ml.QueueMainWorkItem(func(_ any) {
			gamePerArena := func(r *model.DataRegistration) bool {
				return r.Interval == model.IntervalGame && r.Scope == model.ScopePerArena
			}
			for _, p := range matched {
				e.clearMatchingRegs(model.EntityPlayer, p, gamePerArena)
			}
			e.clearMatchingRegs(model.EntityArena, arena, gamePerArena)
		}, nil)
	})
}
