package clientsettings

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoneserver/core/internal/model"
	"github.com/zoneserver/core/internal/zoneconfig"
	"github.com/zoneserver/core/internal/zonelog"
	"github.com/zoneserver/core/internal/zonenet"
)

// Seed test: spec §8.2 damage scaling. Loading with
// [Bullet] BulletDamageLevel=5 must scale to Int32Settings[0] == 5000.
func TestLoadPacket_DamageScaling(t *testing.T) {
	cfg := zoneconfig.NewScope()
	cfg.Set("Bullet", "BulletDamageLevel", "5")

	p := LoadPacket(cfg)
	assert.Equal(t, int32(5000), p.Int32Setting(0))
}

func TestLoadPacket_FloorCoercion(t *testing.T) {
	cfg := zoneconfig.NewScope()
	// Unset -> defaults to 0 -> must be floored to 1.
	p := LoadPacket(cfg)
	assert.Equal(t, int16(1), p.Int16Setting(0)) // Misc:SendPositionDelay
}

func TestLoadPacket_ShipWeaponsAndMiscBits(t *testing.T) {
	cfg := zoneconfig.NewScope()
	cfg.Set("Ship0", "Weapons:Bullet", "5")
	cfg.Set("Ship0", "MiscBits:Stealth", "1")

	p := LoadPacket(cfg)
	assert.Equal(t, uint32(5), p.ShipWeapons(0)&0x7)
	assert.Equal(t, uint32(1), (p.ShipMiscBits(0)>>2)&0x1)
}

func TestLoadPWPS_DeathWeights_NullPrizeIsIndexZero(t *testing.T) {
	cfg := zoneconfig.NewScope()
	cfg.Set("Prize", "UseDeathPrizeWeights", "true")
	cfg.Set("DPrizeWeight", "0", "4")
	cfg.Set("DPrizeWeight", "NullPrize", "6")

	base := LoadPacket(cfg)
	pwps := LoadPWPS(cfg, base)
	assert.Equal(t, uint32(6), pwps[0])
}

type fakeNetwork struct {
	sent map[*model.Player][]byte
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{sent: make(map[*model.Player][]byte)}
}

func (n *fakeNetwork) Send(player *model.Player, _ zonenet.PacketType, payload []byte, _ zonenet.Flags) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	n.sent[player] = cp
	return nil
}

// Seed test: spec §8.1 settings round trip (override set/unset via the
// Manager, observed via GetSetting after SendClientSettings).
func TestManager_SettingsRoundTrip(t *testing.T) {
	net := newFakeNetwork()
	log := zonelog.Wrap(slog.Default())
	mgr := NewManager(log, net)

	cfg := zoneconfig.NewScope()
	arena := model.NewArena("arena1", cfg)
	player := model.NewPlayer(1, "p1")
	player.SetArena(arena)

	id, ok := TryGetSettingsIdentifier("Ship0", "InitialBombs")
	require.True(t, ok)

	mgr.Load(arena, cfg, nil)
	mgr.SendClientSettings(player)
	assert.Equal(t, int32(0), mgr.GetSetting(player, id))

	mgr.OverrideSetting(arena, nil, id, 2)
	mgr.SendClientSettings(player)
	assert.Equal(t, int32(2), mgr.GetSetting(player, id))

	mgr.OverrideSetting(nil, player, id, 3)
	mgr.SendClientSettings(player)
	assert.Equal(t, int32(3), mgr.GetSetting(player, id))

	mgr.UnoverrideSetting(nil, player, id)
	mgr.SendClientSettings(player)
	assert.Equal(t, int32(2), mgr.GetSetting(player, id))

	require.Contains(t, net.sent, player)
	assert.Len(t, net.sent[player], PacketSize)
}

func TestManager_ChecksumChangesWithSettings(t *testing.T) {
	net := newFakeNetwork()
	log := zonelog.Wrap(slog.Default())
	mgr := NewManager(log, net)

	cfg := zoneconfig.NewScope()
	arena := model.NewArena("arena1", cfg)
	player := model.NewPlayer(1, "p1")
	player.SetArena(arena)

	mgr.Load(arena, cfg, nil)
	mgr.SendClientSettings(player)
	c1 := mgr.GetChecksum(player, 0)

	id := ClientSettingIdentifier{IsSigned: true, FieldType: Bit32, ByteOffset: 164, BitOffset: 0, BitLength: 32}
	mgr.OverrideSetting(arena, nil, id, 99)
	mgr.SendClientSettings(player)
	c2 := mgr.GetChecksum(player, 0)

	assert.NotEqual(t, c1, c2)
}

func TestManager_ReleasePlayerClearsState(t *testing.T) {
	net := newFakeNetwork()
	log := zonelog.Wrap(slog.Default())
	mgr := NewManager(log, net)

	cfg := zoneconfig.NewScope()
	arena := model.NewArena("arena1", cfg)
	player := model.NewPlayer(1, "p1")
	player.SetArena(arena)

	mgr.Load(arena, cfg, nil)
	mgr.SendClientSettings(player)

	mgr.ReleasePlayer(player)
	assert.Equal(t, int32(0), mgr.GetSetting(player, ClientSettingIdentifier{FieldType: Bit32, ByteOffset: 0, BitLength: 32}))
}
