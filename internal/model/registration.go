package model

import "io"

// EntityKind distinguishes a per-player registration from a per-arena
// one: GetPlayer/PutPlayer only invoke EntityPlayer registrations,
// GetArena/PutArena only EntityArena ones.
type EntityKind int

const (
	EntityPlayer EntityKind = iota
	EntityArena
)

// DataRegistration is a PersistentData registration (spec §3):
// (Key, Interval, Scope, GetData, SetData, ClearData). No two
// registrations of the same Entity kind may share (Key, Interval,
// Scope) — enforced by internal/persist's registration table, not
// here.
type DataRegistration struct {
	Key      uint32
	Interval PersistInterval
	Scope    Scope
	Entity   EntityKind

	// GetData writes the entity's current value for this registration
	// to w. Implementations must not block on global locks — per spec
	// §5, a Put observes the entity's fields as of the moment this is
	// called, without the persist worker holding any entity lock, so
	// GetData must itself copy-into-stream under its own lock or accept
	// best-effort semantics.
	GetData func(entity any, w io.Writer) (int, error)

	// SetData replaces the entity's value for this registration from
	// the bytes read from r.
	SetData func(entity any, r io.Reader) error

	// ClearData resets the entity's value for this registration to its
	// zero/absent state.
	ClearData func(entity any)
}

// RegKey identifies a (Key, Interval, Scope) triple for registration
// collision detection (spec §3 invariant).
type RegKey struct {
	Key      uint32
	Interval PersistInterval
	Scope    Scope
}

func (r *DataRegistration) RegKey() RegKey {
	return RegKey{Key: r.Key, Interval: r.Interval, Scope: r.Scope}
}

// ArenaGroupInterval is one generation of a (group, interval) pair
// (spec §3): a time-bounded identity for one reset cycle.
type ArenaGroupInterval struct {
	ID       int64
	Group    string
	Interval PersistInterval
	StartTS  int64 // unix seconds
	EndTS    *int64
}
