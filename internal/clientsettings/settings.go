package clientsettings

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/zoneserver/core/internal/model"
	"github.com/zoneserver/core/internal/zoneconfig"
	"github.com/zoneserver/core/internal/zonelog"
	"github.com/zoneserver/core/internal/zonenet"
)

// damageFields are the five int32 settings loaded in "levels" but
// stored in the packet scaled by 1000 (spec §4.6 "multiply five
// specific int32 damage fields by 1000").
var damageFields = []struct {
	section, key string
	idx          int
}{
	{"Bullet", "BulletDamageLevel", 0},
	{"Bomb", "BombDamageLevel", 1},
	{"Bullet", "BulletDamageUpgrade", 2},
	{"Bomb", "BombDamageUpgrade", 3},
	{"Burst", "BurstDamageLevel", 4},
}

// floorInt16Fields are coerced up to 1 if loaded as 0, since the
// legacy client crashes on an exact 0 (spec §4.6).
var floorInt16Fields = []struct {
	section, key string
	idx          int
}{
	{"Misc", "SendPositionDelay", 0},
	{"Radar", "MapZoomFactor", 1},
	{"Prize", "PrizeNegativeFactor", 2},
}

func getInt(cfg *zoneconfig.Scope, section, key string, def int) int {
	return cfg.GetInt(section, key, def, math.MinInt)
}

// LoadPacket reads an arena's config scope into a fresh settings
// packet (spec §4.6 "Loading"), applying the damage-field scaling and
// crash-avoidance floor coercions.
func LoadPacket(cfg *zoneconfig.Scope) *Packet {
	var p Packet

	for _, f := range damageFields {
		p.SetInt32Setting(f.idx, int32(getInt(cfg, f.section, f.key, 0))*1000)
	}
	for i := len(damageFields); i < numInt32Settings; i++ {
		p.SetInt32Setting(i, int32(getInt(cfg, "All", fmt.Sprintf("Int32:%d", i), 0)))
	}

	for _, f := range floorInt16Fields {
		v := getInt(cfg, f.section, f.key, 0)
		if v == 0 {
			v = 1
		}
		p.SetInt16Setting(f.idx, int16(v))
	}
	for i := len(floorInt16Fields); i < numInt16Settings; i++ {
		p.SetInt16Setting(i, int16(getInt(cfg, "All", fmt.Sprintf("Int16:%d", i), 0)))
	}

	for i := 0; i < numByteSettings; i++ {
		p.SetByteSetting(i, byte(getInt(cfg, "All", fmt.Sprintf("Byte:%d", i), 0)))
	}

	for i := 0; i < numPrizeWeights; i++ {
		p.SetPrizeWeight(i, byte(getInt(cfg, "PrizeWeight", strconv.Itoa(i), 0)))
	}

	for shipN := 0; shipN < numShips; shipN++ {
		loadShip(&p, cfg, shipN)
	}

	for team := 0; team < numSpawnPositions; team++ {
		x := uint16(getInt(cfg, "Spawn", fmt.Sprintf("Team%d-X", team), 0))
		y := uint16(getInt(cfg, "Spawn", fmt.Sprintf("Team%d-Y", team), 0))
		r := uint16(getInt(cfg, "Spawn", fmt.Sprintf("Team%d-Radius", team), 0))
		p.SetSpawnPosition(team, x, y, r)
	}

	return &p
}

func loadShip(p *Packet, cfg *zoneconfig.Scope, shipN int) {
	section := fmt.Sprintf("Ship%d", shipN)
	n := shipN

	p.SetShipInt32(n, int32(getInt(cfg, section, "Int32", 0)))
	p.SetShipInt16(n, 0, int16(getInt(cfg, section, "Int16:0", 0)))
	p.SetShipInt16(n, 1, int16(getInt(cfg, section, "Int16:1", 0)))
	for b := 0; b < 4; b++ {
		p.SetShipByte(n, b, byte(getInt(cfg, section, fmt.Sprintf("Byte:%d", b), 0)))
	}

	var weapons uint32
	for name, bit := range shipWeaponsBits {
		v := uint32(getInt(cfg, section, "Weapons:"+name, 0))
		weapons |= (v & (1<<bit.length - 1)) << bit.off
	}
	p.SetShipWeapons(n, weapons)

	var misc uint32
	for name, bit := range shipMiscBits {
		v := uint32(getInt(cfg, section, "MiscBits:"+name, 0))
		misc |= (v & (1<<bit.length - 1)) << bit.off
	}
	p.SetShipMiscBits(n, misc)
}

// LoadPWPS computes pwps from PrizeWeight.* or, if
// Prize:UseDeathPrizeWeights is set, from DPrizeWeight.* with
// pwps[0] = DPrizeWeight:NullPrize (spec §4.6).
func LoadPWPS(cfg *zoneconfig.Scope, p *Packet) PWPS {
	if !cfg.GetBool("Prize", "UseDeathPrizeWeights", false) {
		var weights [numPrizeWeights]byte
		for i := 0; i < numPrizeWeights; i++ {
			weights[i] = p.PrizeWeight(i)
		}
		return ComputePWPS(weights)
	}

	var weights [numPrizeWeights]byte
	for i := 0; i < numPrizeWeights; i++ {
		weights[i] = byte(getInt(cfg, "DPrizeWeight", strconv.Itoa(i), 0))
	}
	nullWeight := uint32(getInt(cfg, "DPrizeWeight", "NullPrize", 0))

	pwps := ComputePWPS(weights)
	for i := range pwps {
		pwps[i] += nullWeight
	}
	return pwps
}

type arenaState struct {
	base     *Packet
	override OverrideLayer
	pwps     PWPS
	lastSent Packet
	sent     bool
}

// Manager owns, per arena, an immutable base settings packet plus an
// arena-wide override layer, and per player a player-specific override
// layer, serving the merge/checksum/prize operations of spec §4.6.
//
// Guarded by a single mutex and, per spec §5 "Shared resources",
// intended to be touched only from the mainloop thread; the lock is
// kept anyway as a defensive measure against a future caller that
// doesn't honor that.
type Manager struct {
	log *zonelog.Logger
	net zonenet.Network

	mu             sync.Mutex
	arenas         map[*model.Arena]*arenaState
	playerOverride map[*model.Player]*OverrideLayer
	materialized   map[*model.Player]*Packet
}

func NewManager(log *zonelog.Logger, net zonenet.Network) *Manager {
	return &Manager{
		log:            log,
		net:            net,
		arenas:         make(map[*model.Arena]*arenaState),
		playerOverride: make(map[*model.Player]*OverrideLayer),
		materialized:   make(map[*model.Player]*Packet),
	}
}

func (m *Manager) arenaStateLocked(arena *model.Arena) *arenaState {
	st, ok := m.arenas[arena]
	if !ok {
		st = &arenaState{base: &Packet{}}
		m.arenas[arena] = st
	}
	return st
}

func (m *Manager) playerOverrideLocked(player *model.Player) *OverrideLayer {
	ov, ok := m.playerOverride[player]
	if !ok {
		ov = &OverrideLayer{}
		m.playerOverride[player] = ov
	}
	return ov
}

// Load (re)materializes arena's base packet and pwps table from cfg
// (spec §4.6: called on arena create, or on config-changed). If
// Misc:SendUpdatedSettings is set and the new packet bytes differ from
// what was last sent, the new settings are pushed to every player in
// playing.
func (m *Manager) Load(arena *model.Arena, cfg *zoneconfig.Scope, playing []*model.Player) {
	base := LoadPacket(cfg)
	pwps := LoadPWPS(cfg, base)

	m.mu.Lock()
	st := m.arenaStateLocked(arena)
	prevSent, hadPrev := st.lastSent, st.sent
	st.base = base
	st.pwps = pwps
	shouldSend := cfg.GetBool("Misc", "SendUpdatedSettings", true) && !(hadPrev && bytes.Equal(prevSent[:], base[:]))
	if shouldSend {
		st.lastSent = *base
		st.sent = true
	}
	m.mu.Unlock()

	if !shouldSend {
		return
	}
	for _, player := range playing {
		m.SendClientSettings(player)
	}
}

// OverrideSetting sets an override on either an arena or a player
// (exactly one of arena/player should be non-nil).
func (m *Manager) OverrideSetting(arena *model.Arena, player *model.Player, id ClientSettingIdentifier, v int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if player != nil {
		m.playerOverrideLocked(player).Set(id, v)
		return
	}
	m.arenaStateLocked(arena).override.Set(id, v)
}

// UnoverrideSetting clears a previously set override.
func (m *Manager) UnoverrideSetting(arena *model.Arena, player *model.Player, id ClientSettingIdentifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if player != nil {
		m.playerOverrideLocked(player).Clear(id)
		return
	}
	m.arenaStateLocked(arena).override.Clear(id)
}

// TryGetSettingOverride reports the current override value for id, if
// set.
func (m *Manager) TryGetSettingOverride(arena *model.Arena, player *model.Player, id ClientSettingIdentifier) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if player != nil {
		return m.playerOverrideLocked(player).TryGet(id)
	}
	return m.arenaStateLocked(arena).override.TryGet(id)
}

// GetSetting reads id from a player's last-materialized settings (spec
// §8 testable property: GetSetting after SendClientSettings observes
// OverrideSetting's effect).
func (m *Manager) GetSetting(player *model.Player, id ClientSettingIdentifier) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.materialized[player]
	if !ok {
		return 0
	}
	return p.GetBits(id)
}

// SendClientSettings materializes player.Settings = merge(base,
// arenaOverride, playerOverride) and transmits it over net.
func (m *Manager) SendClientSettings(player *model.Player) {
	arena := player.Arena()
	if arena == nil {
		return
	}

	m.mu.Lock()
	st := m.arenaStateLocked(arena)
	merged := Merge(st.base, &st.override, m.playerOverrideLocked(player))
	m.materialized[player] = merged
	m.mu.Unlock()

	if m.net == nil {
		return
	}
	if err := m.net.Send(player, zonenet.SettingsPacketType, merged[:], zonenet.Reliable); err != nil {
		m.log.WarnP(player.Name(), "sending client settings failed", "error", err)
	}
}

// GetChecksum computes the checksum of player's last-materialized
// settings.
func (m *Manager) GetChecksum(player *model.Player, seed uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.materialized[player]
	if !ok {
		return seed
	}
	return GetChecksum(p, seed)
}

// GetRandomPrize weighted-samples a prize index for arena.
func (m *Manager) GetRandomPrize(arena *model.Arena) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return GetRandomPrize(m.arenaStateLocked(arena).pwps)
}

// ReleasePlayer drops a disconnected player's override and
// materialized-settings state.
func (m *Manager) ReleasePlayer(player *model.Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.playerOverride, player)
	delete(m.materialized, player)
}

// ReleaseArena drops a destroyed arena's settings state.
func (m *Manager) ReleaseArena(arena *model.Arena) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.arenas, arena)
}
