// Package gamehooks defines the gameplay actuation surface the lag
// sampler drives but never implements (spec §1 Non-goals: "specific
// gameplay modules"; spec §6 "Game"). Actual ship/flag/weapon rule
// enforcement lives in a gameplay module outside this core.
package gamehooks

import "github.com/zoneserver/core/internal/model"

// Action is the corrective outcome the lag sampler decided for one
// player (spec §4.7: "decides spec | ignore-weapons(percent) |
// no-flags"). Fields are independent: Spec forces spectator mode;
// IgnoreWeaponsPercent (0-100) is the fraction of incoming weapon
// fire the gameplay layer should silently drop; NoFlags disallows
// flag/ball carry. A zero-value Action clears all three.
type Action struct {
	Spec                 bool
	IgnoreWeaponsPercent int
	NoFlags              bool
}

// Game actuates a lag decision against a player.
type Game interface {
	Actuate(player *model.Player, action Action) error
}
