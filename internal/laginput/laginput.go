// Package laginput defines the lag-statistics source the sampler
// consumes but never implements (spec §1 Non-goals; spec §6 "LagQuery"):
// the on-wire ping/loss accounting lives in the transport layer this
// module doesn't own.
package laginput

import "github.com/zoneserver/core/internal/model"

// Stats is a snapshot of one player's link quality as tracked by the
// transport. Loss is expressed in tenths of a percent and Spike in
// milliseconds to match the config units spec §6 documents for the
// Lag.* thresholds (e.g. "S2CLossToSpec", unit 0.1%).
type Stats struct {
	PingMs          int
	S2CLossPerMille int
	SpikeMs         int
}

// LagQuery reports the current link-quality snapshot for a player.
type LagQuery interface {
	Stats(player *model.Player) (Stats, error)
}
