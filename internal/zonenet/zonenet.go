// Package zonenet defines the network collaborator this core consumes
// but never implements (spec §1 Non-goals: UDP transport is out of
// scope; spec §6 "Wire interface (consumed)"). The actual transport,
// encryption and packet framing live outside this module.
package zonenet

import "github.com/zoneserver/core/internal/model"

// Flags are per-send delivery flags.
type Flags int

// Reliable requests retransmission-until-acked delivery.
const Reliable Flags = 1 << 0

// PacketType identifies a S2C packet's wire type byte.
type PacketType byte

// SettingsPacketType is the S2C-Settings packet type (spec §6).
const SettingsPacketType PacketType = 0x0F

// Network sends a framed byte block to a single player. The core never
// decodes inbound game packets itself (spec §6 "Client flavor
// identification").
type Network interface {
	Send(player *model.Player, packetType PacketType, payload []byte, flags Flags) error
}
