// Command zoneserver is the process entry point: it wires the
// MainLoop, PersistDatastore/Executor, Client Settings materializer,
// and Lag Sampler together and runs until a shutdown signal arrives.
//
// Grounded on the teacher's cmd/gameserver/main.go composition-root
// shape: load config first (to set the log level), open the
// datastore, construct subsystems, start them under an errgroup, wait
// on a cancellable context wired to SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zoneserver/core/internal/clientsettings"
	"github.com/zoneserver/core/internal/gamehooks"
	"github.com/zoneserver/core/internal/lag"
	"github.com/zoneserver/core/internal/laginput"
	"github.com/zoneserver/core/internal/mainloop"
	"github.com/zoneserver/core/internal/model"
	"github.com/zoneserver/core/internal/persist"
	"github.com/zoneserver/core/internal/zoneconfig"
	"github.com/zoneserver/core/internal/zonelog"
	"github.com/zoneserver/core/internal/zonenet"
)

const (
	globalConfigPath = "config/global.yaml"
	dataDir          = "data"
)

func main() {
	os.Exit(run())
}

func run() int {
	globalCfgPath := globalConfigPath
	if p := os.Getenv("ZONESERVER_CONFIG"); p != "" {
		globalCfgPath = p
	}

	globalCfg, err := zoneconfig.Load(globalCfgPath)
	if err != nil {
		slog.Error("loading global config", "error", err)
		return 1
	}

	logLevel := parseLogLevel(globalCfg.GetStr("Log", "Level", "info"))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
	log := zonelog.New(logLevel)
	log.Info("zoneserver starting", "config", globalCfgPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ml := mainloop.New(slog.Default(), 4)

	store, err := persist.Open(ctx, slog.Default(), globalCfg.GetStr("Persist", "DataDir", dataDir), globalCfg)
	if err != nil {
		log.Error("opening persist datastore", "error", err)
		return 1
	}
	defer store.Close()

	reg := newEntityRegistry()

	syncInterval := time.Duration(globalCfg.GetInt("Persist", "SyncSeconds", 180, 10)) * time.Second
	executor := persist.NewExecutor(slog.Default(), store, ml, syncInterval, reg.collect)
	executor.Start(ctx)
	defer executor.Stop()

	net := &logOnlyNetwork{log: log}
	settings := clientsettings.NewManager(log, net)

	demoArena := model.NewArena("arena1", zoneconfig.NewScope())
	demoArena.SetStatus(model.ArenaRunning)
	reg.addArena(demoArena)
	settings.Load(demoArena, demoArena.Cfg(), nil)

	demoPlayer := model.NewPlayer(1, "demo")
	demoPlayer.SetArena(demoArena)
	demoPlayer.SetStatus(model.StatusPlaying)
	reg.addPlayer(demoPlayer)
	settings.SendClientSettings(demoPlayer)

	sampler := lag.NewSampler(
		log, ml,
		&noopLagQuery{},
		&loggingGame{log: log},
		reg.players,
		1500*time.Millisecond,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-sigCh
		log.Info("shutdown signal received")
		sampler.Stop()
		ml.Quit(0)
		cancel()
		return nil
	})

	g.Go(func() error {
		sampler.Start(gctx)
		<-gctx.Done()
		return nil
	})

	exitCode := ml.Run()

	if err := g.Wait(); err != nil {
		log.Error("subsystem error", "error", err)
	}

	log.Info("zoneserver stopped", "exitCode", exitCode)
	return exitCode
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// entityRegistry is the process's own in-memory Player/Arena
// directory. The core intentionally owns no such registry (spec §1
// Non-goals put arena/player lifecycle management outside it); this
// is composition-root glue feeding persist.Executor's collect
// callback and lag.Sampler's PlayerSource.
type entityRegistry struct {
	mu      sync.RWMutex
	players map[int]*model.Player
	arenas  map[string]*model.Arena
}

func newEntityRegistry() *entityRegistry {
	return &entityRegistry{
		players: make(map[int]*model.Player),
		arenas:  make(map[string]*model.Arena),
	}
}

func (r *entityRegistry) collect() ([]*model.Player, []*model.Arena) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players := make([]*model.Player, 0, len(r.players))
	for _, p := range r.players {
		if p.Status() == model.StatusPlaying {
			players = append(players, p)
		}
	}
	arenas := make([]*model.Arena, 0, len(r.arenas))
	for _, a := range r.arenas {
		if a.Status() == model.ArenaRunning {
			arenas = append(arenas, a)
		}
	}
	return players, arenas
}

func (r *entityRegistry) players() []*model.Player {
	players, _ := r.collect()
	return players
}

func (r *entityRegistry) addArena(a *model.Arena) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arenas[a.Name()] = a
}

func (r *entityRegistry) addPlayer(p *model.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.ID()] = p
}

// logOnlyNetwork is a demo zonenet.Network that logs sends instead of
// transmitting them — the real UDP transport is an external
// collaborator this module never implements (spec §1 Non-goals).
type logOnlyNetwork struct {
	log *zonelog.Logger
}

func (n *logOnlyNetwork) Send(player *model.Player, packetType zonenet.PacketType, payload []byte, flags zonenet.Flags) error {
	n.log.InfoP(player.Name(), "send", "type", fmt.Sprintf("0x%02X", byte(packetType)), "bytes", len(payload), "reliable", flags&zonenet.Reliable != 0)
	return nil
}

// noopLagQuery is a demo laginput.LagQuery reporting a clean link —
// the real ping/loss accounting lives in the transport layer (spec §1
// Non-goals).
type noopLagQuery struct{}

func (noopLagQuery) Stats(*model.Player) (laginput.Stats, error) {
	return laginput.Stats{}, nil
}

// loggingGame is a demo gamehooks.Game that logs the decided action —
// the real ship/flag/weapon enforcement is a gameplay module this core
// never implements (spec §1 Non-goals).
type loggingGame struct {
	log *zonelog.Logger
}

func (g *loggingGame) Actuate(player *model.Player, action gamehooks.Action) error {
	if action == (gamehooks.Action{}) {
		return nil
	}
	g.log.InfoP(player.Name(), "lag action", "spec", action.Spec, "ignoreWeaponsPercent", action.IgnoreWeaponsPercent, "noFlags", action.NoFlags)
	return nil
}
