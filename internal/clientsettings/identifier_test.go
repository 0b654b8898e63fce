package clientsettings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryGetSettingsIdentifier_Unknown(t *testing.T) {
	id, ok := TryGetSettingsIdentifier("NoSuchSection", "NoSuchKey")
	assert.False(t, ok)
	assert.Equal(t, ClientSettingIdentifier{}, id)
}

func TestTryGetSettingsIdentifier_Global(t *testing.T) {
	id, ok := TryGetSettingsIdentifier("All", "Int32:0")
	require.True(t, ok)
	assert.Equal(t, Bit32, id.FieldType)
	assert.True(t, id.IsSigned)
}

func TestTryGetSettingsIdentifier_PrizeWeight(t *testing.T) {
	id, ok := TryGetSettingsIdentifier("PrizeWeight", "3")
	require.True(t, ok)
	assert.Equal(t, Bit8, id.FieldType)

	_, ok = TryGetSettingsIdentifier("PrizeWeight", "28")
	assert.False(t, ok)
	_, ok = TryGetSettingsIdentifier("PrizeWeight", "not-a-number")
	assert.False(t, ok)
}

func TestTryGetSettingsIdentifier_Spawn(t *testing.T) {
	x, ok := TryGetSettingsIdentifier("Spawn", "Team0-X")
	require.True(t, ok)
	y, ok := TryGetSettingsIdentifier("Spawn", "Team0-Y")
	require.True(t, ok)
	r, ok := TryGetSettingsIdentifier("Spawn", "Team0-Radius")
	require.True(t, ok)

	assert.Equal(t, 0, x.BitOffset)
	assert.Equal(t, 10, y.BitOffset)
	assert.Equal(t, 20, r.BitOffset)
	assert.Equal(t, 10, x.BitLength)
	assert.Equal(t, 10, y.BitLength)
	assert.Equal(t, 9, r.BitLength)

	_, ok = TryGetSettingsIdentifier("Spawn", "Team99-X")
	assert.False(t, ok)
}

func TestTryGetSettingsIdentifier_Ship(t *testing.T) {
	id, ok := TryGetSettingsIdentifier("Ship1", "Weapons:Bullet")
	require.True(t, ok)
	assert.Equal(t, Bit32, id.FieldType)
	assert.Equal(t, 0, id.BitOffset)
	assert.Equal(t, 3, id.BitLength)

	_, ok = TryGetSettingsIdentifier("Ship1", "Weapons:NoSuchBit")
	assert.False(t, ok)
	_, ok = TryGetSettingsIdentifier("Ship99", "Int32")
	assert.False(t, ok)
}

// Seed test: spec §8.1 settings round trip. ("Ship0","InitialBombs")
// resolves to (unsigned, Bit32, byteOffset=offset(Ships[0].Weapons),
// bitOffset=22, bitLength=2).
func TestTryGetSettingsIdentifier_Ship0InitialBombs(t *testing.T) {
	id, ok := TryGetSettingsIdentifier("Ship0", "InitialBombs")
	require.True(t, ok)
	assert.False(t, id.IsSigned)
	assert.Equal(t, Bit32, id.FieldType)
	assert.Equal(t, offShips+shipOffWeap, id.ByteOffset)
	assert.Equal(t, 22, id.BitOffset)
	assert.Equal(t, 2, id.BitLength)
}

func TestGetSetBits_RoundTrip_Unsigned(t *testing.T) {
	id, ok := TryGetSettingsIdentifier("Ship0", "InitialBombs")
	require.True(t, ok)

	var p Packet
	p.SetBits(id, 2)
	assert.Equal(t, int32(2), p.GetBits(id))

	p.SetBits(id, 3)
	assert.Equal(t, int32(3), p.GetBits(id))

	// Writing outside the bit field's own word must not disturb it.
	p.SetShipInt32(0, -999)
	assert.Equal(t, int32(3), p.GetBits(id))
}

func TestGetSetBits_SignExtension(t *testing.T) {
	id := ClientSettingIdentifier{
		IsSigned: true, FieldType: Bit32,
		ByteOffset: 0, BitOffset: 4, BitLength: 5,
	}

	var p Packet
	p.SetBits(id, -3)
	assert.Equal(t, int32(-3), p.GetBits(id))

	p.SetBits(id, 15) // max positive in a 5-bit signed field
	assert.Equal(t, int32(15), p.GetBits(id))

	p.SetBits(id, -16) // min negative in a 5-bit signed field
	assert.Equal(t, int32(-16), p.GetBits(id))
}

func TestGetSetBits_MaskDoesNotBleedIntoAdjacentBits(t *testing.T) {
	id := ClientSettingIdentifier{
		IsSigned: false, FieldType: Bit32,
		ByteOffset: 0, BitOffset: 8, BitLength: 4,
	}

	var p Packet
	p.SetBitSet(0xFFFFFFFF)
	p.SetBits(id, 0)
	// Only bits [8,12) should have cleared; everything else stays set.
	assert.Equal(t, uint32(0xFFFFF0FF), p.BitSet())
}
