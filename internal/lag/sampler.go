// Package lag implements the round-robin lag sampler (spec §4.7): a
// background thread that periodically picks one Playing, native-flavor
// player per pass, re-enters the mainloop to read that player's link
// quality via laginput.LagQuery, decides a corrective action, and
// actuates it via gamehooks.Game.
//
// Grounded on the teacher's internal/ai.TickManager (cmd/gameserver):
// a ticker-driven background loop with a context-cancellable Start and
// a Stop channel; here the "tick" picks a single candidate instead of
// sweeping every registration, per spec §4.7's round-robin contract.
package lag

import (
	"context"
	"sync"
	"time"

	"github.com/zoneserver/core/internal/gamehooks"
	"github.com/zoneserver/core/internal/laginput"
	"github.com/zoneserver/core/internal/mainloop"
	"github.com/zoneserver/core/internal/model"
	"github.com/zoneserver/core/internal/zoneconfig"
	"github.com/zoneserver/core/internal/zonelog"
)

// PlayerSource returns the current candidate pool. The sampler filters
// this down to Playing, IsStandard players itself (spec §4.7); the
// core holds no player registry of its own (spec §1 Non-goals), so the
// caller supplies one, mirroring persist.Executor's collect callback.
type PlayerSource func() []*model.Player

// defaultCheckInterval is used when neither a player's arena nor this
// Sampler's construction overrides Lag.CheckIntervalMs.
const defaultCheckInterval = 1500 * time.Millisecond

// Sampler is the spec §4.7 background lag sampler.
type Sampler struct {
	log     *zonelog.Logger
	ml      *mainloop.MainLoop
	query   laginput.LagQuery
	game    gamehooks.Game
	players PlayerSource

	defaultInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSampler constructs a Sampler. defaultInterval is the fallback
// check interval for players whose arena has no Lag.CheckIntervalMs
// override, and the pacing baseline for the tick when no arena is
// currently running a Playing standard-flavor player.
func NewSampler(log *zonelog.Logger, ml *mainloop.MainLoop, query laginput.LagQuery, game gamehooks.Game, players PlayerSource, defaultInterval time.Duration) *Sampler {
	if defaultInterval <= 0 {
		defaultInterval = defaultCheckInterval
	}
	return &Sampler{
		log:             log,
		ml:              ml,
		query:           query,
		game:            game,
		players:         players,
		defaultInterval: defaultInterval,
	}
}

// Start launches the sampler's background loop. It returns immediately;
// the loop runs until ctx is canceled or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop blocks until the background loop has exited.
func (s *Sampler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sampler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		candidate, count, interval := s.selectNext()
		if candidate != nil {
			player := candidate
			s.ml.QueueMainWorkItem(func(any) { s.check(player) }, nil)
		}

		sleep := interval
		if count > 0 {
			sleep = interval / time.Duration(count)
		}
		if sleep <= 0 {
			sleep = interval
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(sleep):
		}
	}
}

// selectNext picks the Playing, native-flavor, not-already-checking
// player with the smallest LastCheck whose wait has exceeded its
// arena's check interval (spec §4.7). Marking IsChecking is a
// compare-and-swap, so a candidate claimed by a concurrent call never
// gets enqueued twice.
func (s *Sampler) selectNext() (*model.Player, int, time.Duration) {
	now := time.Now()

	var candidate *model.Player
	var oldest time.Time
	count := 0
	minInterval := s.defaultInterval

	for _, p := range s.players() {
		if p.Status() != model.StatusPlaying || !p.IsStandard() {
			continue
		}
		count++

		interval := s.intervalFor(p)
		if interval < minInterval {
			minInterval = interval
		}
		if p.IsChecking() {
			continue
		}
		lc := p.LastCheck()
		if now.Sub(lc) <= interval {
			continue
		}
		if candidate == nil || lc.Before(oldest) {
			candidate = p
			oldest = lc
		}
	}

	if candidate != nil && !candidate.SetChecking(true) {
		candidate = nil
	}

	return candidate, count, minInterval
}

func (s *Sampler) intervalFor(p *model.Player) time.Duration {
	arena := p.Arena()
	if arena == nil {
		return s.defaultInterval
	}
	ms := arena.Cfg().GetInt("Lag", "CheckIntervalMs", int(s.defaultInterval.Milliseconds()), 100)
	return time.Duration(ms) * time.Millisecond
}

// check runs on the mainloop thread (spec §4.7: "On the mainloop, the
// check reads ping/loss statistics..."). IsChecking and LastCheck are
// always cleared/updated, mirroring the spec's "finally" guarantee.
func (s *Sampler) check(player *model.Player) {
	defer func() {
		player.SetChecking(false)
		player.SetLastCheck(time.Now())
	}()

	stats, err := s.query.Stats(player)
	if err != nil {
		s.log.WarnP(player.Name(), "lag query failed", "error", err)
		return
	}

	var cfg *zoneconfig.Scope
	if arena := player.Arena(); arena != nil {
		cfg = arena.Cfg()
	}

	action := decide(cfg, stats)
	if err := s.game.Actuate(player, action); err != nil {
		s.log.WarnP(player.Name(), "lag actuation failed", "error", err)
	}
}

// decide implements spec §4.7's "spec | ignore-weapons(percent) |
// no-flags" decision against the Lag.* thresholds (spec §6). The
// worse condition wins: spec beats ignore-weapons beats no-flags.
// Between the two ignore-weapons thresholds the percentage ramps
// linearly; the spec names the thresholds but not this ramp, so this
// is a self-consistent interpolation (see DESIGN.md).
func decide(cfg *zoneconfig.Scope, stats laginput.Stats) gamehooks.Action {
	pingToSpec := cfg.GetInt("Lag", "PingToSpec", 500, 0)
	s2cLossToSpec := cfg.GetInt("Lag", "S2CLossToSpec", 300, 0)
	spikeToSpec := cfg.GetInt("Lag", "SpikeToSpec", 2000, 0)
	if stats.PingMs >= pingToSpec || stats.S2CLossPerMille >= s2cLossToSpec || stats.SpikeMs >= spikeToSpec {
		return gamehooks.Action{Spec: true}
	}

	pingToIgnoreAll := cfg.GetInt("Lag", "PingToIgnoreAllWeapons", 400, 0)
	pingToStartIgnoring := cfg.GetInt("Lag", "PingToStartIgnoringWeapons", 200, 0)
	switch {
	case stats.PingMs >= pingToIgnoreAll:
		return gamehooks.Action{IgnoreWeaponsPercent: 100}
	case stats.PingMs >= pingToStartIgnoring && pingToIgnoreAll > pingToStartIgnoring:
		pct := 100 * (stats.PingMs - pingToStartIgnoring) / (pingToIgnoreAll - pingToStartIgnoring)
		return gamehooks.Action{IgnoreWeaponsPercent: clamp(pct, 0, 100)}
	}

	pingToDisallowFlags := cfg.GetInt("Lag", "PingToDisallowFlags", 150, 0)
	if stats.PingMs >= pingToDisallowFlags {
		return gamehooks.Action{NoFlags: true}
	}

	return gamehooks.Action{}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
