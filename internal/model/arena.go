// Package model holds the core entities shared by every subsystem:
// Arena, Player, and the PersistentData registration types (spec §3).
//
// Adapted from the teacher's internal/model/player.go — the embedding
// plus sync.RWMutex-guarded-fields shape is kept; the gameplay-specific
// fields (inventory, skills, combat stats) are dropped in favor of the
// identity/status/flags surface the spec actually names.
package model

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zoneserver/core/internal/extradata"
	"github.com/zoneserver/core/internal/zoneconfig"
)

// ArenaStatus is the Arena lifecycle state (spec §3).
type ArenaStatus int32

const (
	ArenaLoading ArenaStatus = iota
	ArenaRunning
	ArenaClosing
	ArenaDestroyed
)

func (s ArenaStatus) String() string {
	switch s {
	case ArenaLoading:
		return "Loading"
	case ArenaRunning:
		return "Running"
	case ArenaClosing:
		return "Closing"
	case ArenaDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// Arena is a long-lived gameplay instance, identified by a
// case-insensitive Name.
type Arena struct {
	name     string
	baseName string

	cfgMu sync.RWMutex
	cfg   *zoneconfig.Scope

	status   atomic.Int32
	SpecFreq int16

	extra extradata.Store
}

// NewArena derives BaseName from name (trailing digits stripped) and
// starts the arena in Loading status.
func NewArena(name string, cfg *zoneconfig.Scope) *Arena {
	a := &Arena{
		name:     name,
		baseName: stripTrailingDigits(name),
		cfg:      cfg,
	}
	a.status.Store(int32(ArenaLoading))
	return a
}

// Name returns the arena's identity.
func (a *Arena) Name() string { return a.name }

// BaseName returns the arena name with trailing digits stripped, used
// to derive a default ArenaGroup.
func (a *Arena) BaseName() string { return a.baseName }

// Status returns the current lifecycle state.
func (a *Arena) Status() ArenaStatus { return ArenaStatus(a.status.Load()) }

// SetStatus transitions the arena's lifecycle state.
func (a *Arena) SetStatus(s ArenaStatus) { a.status.Store(int32(s)) }

// ExtraData implements extradata.Holder.
func (a *Arena) ExtraData() *extradata.Store { return &a.extra }

// Cfg returns the arena's current configuration scope handle.
func (a *Arena) Cfg() *zoneconfig.Scope {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// SetCfg swaps the arena's configuration scope, e.g. on a config-reload.
func (a *Arena) SetCfg(cfg *zoneconfig.Scope) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	a.cfg = cfg
}

// ScoreGroup resolves the arena's shared-score group: the [General]
// ScoreGroup config override if present, else BaseName (spec §3
// ArenaGroup).
func (a *Arena) ScoreGroup() string {
	if cfg := a.Cfg(); cfg != nil {
		if v := cfg.GetStr("General", "ScoreGroup", ""); v != "" {
			return v
		}
	}
	return a.baseName
}

// EqualName reports case-insensitive identity equality, per spec's
// "Identity: Name (case-insensitive)".
func EqualName(a, b string) bool {
	return strings.EqualFold(a, b)
}

func stripTrailingDigits(name string) string {
	end := len(name)
	for end > 0 && name[end-1] >= '0' && name[end-1] <= '9' {
		end--
	}
	if end == 0 {
		return name
	}
	return name[:end]
}
