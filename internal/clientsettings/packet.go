// Package clientsettings implements the Client Settings materializer
// (spec §4.6): a fixed 428-byte little-endian binary payload shared
// with the game client, loaded from an arena's config scope, with an
// arena-wide and a per-player bitfield override layer merged on
// demand.
//
// Grounded on the teacher's bit-precise packet work in
// internal/protocol (fixed-layout structs serialized with explicit
// byte order) generalized to this spec's merge/override semantics; the
// checksum in checksum.go follows the XOR-fold shape of the teacher's
// internal/crypto/blowfish.go AppendChecksum, reimplemented rather than
// imported since transport crypto itself is out of scope (see
// DESIGN.md).
package clientsettings

import "encoding/binary"

// PacketSize is the wire size of the settings packet (spec §4.6: a
// fixed 428-byte payload, a multiple of 4).
const PacketSize = 428

// WordCount is PacketSize expressed in 32-bit words; the merge
// function in merge.go operates per-word across all of them.
const WordCount = PacketSize / 4

// Byte layout (offsets in bytes). The upstream client's real layout is
// an external interface contract (spec §6, "non-exhaustive"); this
// repo defines a self-consistent 428-byte layout exercising every
// described component (BitSet, Ships, global setting arrays,
// PrizeWeightSettings, SpawnPositions) rather than reproducing a
// specific legacy client's byte-for-byte table.
const (
	offBitSet = 0
	lenBitSet = 4

	offShips    = offBitSet + lenBitSet // 4
	shipSize    = 20
	numShips    = 8
	lenAllShips = shipSize * numShips // 160

	// Per-ship sub-offsets, relative to a ship's own 20-byte block.
	shipOffInt32 = 0 // 1 x int32  (4 bytes)
	shipOffInt16 = 4 // 2 x int16  (4 bytes)
	shipOffByte  = 8 // 4 x byte   (4 bytes)
	shipOffWeap  = 12
	shipOffMisc  = 16

	offInt32Settings = offShips + lenAllShips // 164
	numInt32Settings = 30
	lenInt32Settings = numInt32Settings * 4 // 120

	offInt16Settings = offInt32Settings + lenInt32Settings // 284
	numInt16Settings = 40
	lenInt16Settings = numInt16Settings * 2 // 80

	offByteSettings = offInt16Settings + lenInt16Settings // 364
	numByteSettings = 20
	lenByteSettings = numByteSettings // 20

	offPrizeWeights = offByteSettings + lenByteSettings // 384
	numPrizeWeights = 28
	lenPrizeWeights = numPrizeWeights // 28

	offSpawnPositions = offPrizeWeights + lenPrizeWeights // 412
	numSpawnPositions = 4
	lenSpawnPositions = numSpawnPositions * 4 // 16
)

func init() {
	const total = offSpawnPositions + lenSpawnPositions
	if total != PacketSize {
		panic("clientsettings: byte layout does not sum to PacketSize")
	}
}

// Packet is the 428-byte settings payload.
type Packet [PacketSize]byte

// word32 reads/writes a little-endian uint32 at a byte offset.
func (p *Packet) word32(off int) uint32 {
	return binary.LittleEndian.Uint32(p[off : off+4])
}

func (p *Packet) setWord32(off int, v uint32) {
	binary.LittleEndian.PutUint32(p[off:off+4], v)
}

func (p *Packet) word16(off int) uint16 {
	return binary.LittleEndian.Uint16(p[off : off+2])
}

func (p *Packet) setWord16(off int, v uint16) {
	binary.LittleEndian.PutUint16(p[off:off+2], v)
}

// BitSet returns the global flags word.
func (p *Packet) BitSet() uint32 { return p.word32(offBitSet) }

// SetBitSet sets the global flags word.
func (p *Packet) SetBitSet(v uint32) { p.setWord32(offBitSet, v) }

// ShipInt32 returns ship n's (0..7) single int32 setting.
func (p *Packet) ShipInt32(n int) int32 {
	return int32(p.word32(offShips + n*shipSize + shipOffInt32))
}

// SetShipInt32 sets ship n's single int32 setting.
func (p *Packet) SetShipInt32(n int, v int32) {
	p.setWord32(offShips+n*shipSize+shipOffInt32, uint32(v))
}

// ShipInt16 returns ship n's int16 setting at sub-index i (0 or 1).
func (p *Packet) ShipInt16(n, i int) int16 {
	return int16(p.word16(offShips + n*shipSize + shipOffInt16 + i*2))
}

// SetShipInt16 sets ship n's int16 setting at sub-index i.
func (p *Packet) SetShipInt16(n, i int, v int16) {
	p.setWord16(offShips+n*shipSize+shipOffInt16+i*2, uint16(v))
}

// ShipByte returns ship n's byte setting at sub-index i (0..3).
func (p *Packet) ShipByte(n, i int) byte {
	return p[offShips+n*shipSize+shipOffByte+i]
}

// SetShipByte sets ship n's byte setting at sub-index i.
func (p *Packet) SetShipByte(n, i int, v byte) {
	p[offShips+n*shipSize+shipOffByte+i] = v
}

// ShipWeapons returns ship n's Weapons bitfield word.
func (p *Packet) ShipWeapons(n int) uint32 { return p.word32(offShips + n*shipSize + shipOffWeap) }

// SetShipWeapons sets ship n's Weapons bitfield word.
func (p *Packet) SetShipWeapons(n int, v uint32) { p.setWord32(offShips+n*shipSize+shipOffWeap, v) }

// ShipMiscBits returns ship n's MiscBits bitfield word.
func (p *Packet) ShipMiscBits(n int) uint32 { return p.word32(offShips + n*shipSize + shipOffMisc) }

// SetShipMiscBits sets ship n's MiscBits bitfield word.
func (p *Packet) SetShipMiscBits(n int, v uint32) { p.setWord32(offShips+n*shipSize+shipOffMisc, v) }

// Int32Setting returns the i-th (0..29) global int32 setting.
func (p *Packet) Int32Setting(i int) int32 {
	return int32(p.word32(offInt32Settings + i*4))
}

// SetInt32Setting sets the i-th global int32 setting.
func (p *Packet) SetInt32Setting(i int, v int32) {
	p.setWord32(offInt32Settings+i*4, uint32(v))
}

// Int16Setting returns the i-th (0..39) global int16 setting.
func (p *Packet) Int16Setting(i int) int16 {
	return int16(p.word16(offInt16Settings + i*2))
}

// SetInt16Setting sets the i-th global int16 setting.
func (p *Packet) SetInt16Setting(i int, v int16) {
	p.setWord16(offInt16Settings+i*2, uint16(v))
}

// ByteSetting returns the i-th (0..19) global byte setting.
func (p *Packet) ByteSetting(i int) byte { return p[offByteSettings+i] }

// SetByteSetting sets the i-th global byte setting.
func (p *Packet) SetByteSetting(i int, v byte) { p[offByteSettings+i] = v }

// PrizeWeight returns the weight of prize index i (0..27).
func (p *Packet) PrizeWeight(i int) byte { return p[offPrizeWeights+i] }

// SetPrizeWeight sets the weight of prize index i.
func (p *Packet) SetPrizeWeight(i int, v byte) { p[offPrizeWeights+i] = v }

// SpawnPosition unpacks spawn slot n (0..3): X:10 | Y:10 | Radius:9 |
// reserved:3, little-endian within the word (spec §4.6 GLOSSARY).
func (p *Packet) SpawnPosition(n int) (x, y, radius uint16) {
	w := p.word32(offSpawnPositions + n*4)
	x = uint16(w & 0x3FF)
	y = uint16((w >> 10) & 0x3FF)
	radius = uint16((w >> 20) & 0x1FF)
	return
}

// SetSpawnPosition packs spawn slot n.
func (p *Packet) SetSpawnPosition(n int, x, y, radius uint16) {
	w := uint32(x&0x3FF) | uint32(y&0x3FF)<<10 | uint32(radius&0x1FF)<<20
	p.setWord32(offSpawnPositions+n*4, w)
}
