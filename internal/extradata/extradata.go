// Package extradata implements the per-entity "extension slot" system
// (spec §4.3): modules allocate a typed slot at load time and obtain
// per-instance state on every Arena/Player by slot handle.
//
// Grounded on the teacher's habit of stashing auxiliary per-entity state
// behind a typed accessor guarded by its own lock (internal/model/
// player.go's atomic.Value visibilityCache, playerMu-guarded maps)
// generalized here into a module-registered slot table instead of a
// fixed set of hand-written fields.
package extradata

import (
	"fmt"
	"sync"
)

// SlotKey identifies one module's extra-data slot. Dense integers
// handed out by AllocateSlot, per the design notes' "arena+index" model.
type SlotKey int

// Resettable values can be returned to a pool across arena/player
// resets instead of being reallocated. TryReset must restore
// freshly-constructed semantics and return true; returning false drops
// the value instead of pooling it.
type Resettable interface {
	TryReset() bool
}

// Factory constructs a fresh slot value. Registered once per module at
// AllocateSlot time and invoked for every existing and future entity.
type Factory func() any

type registration struct {
	factory Factory
}

// Registry is the module-level slot table. One Registry is shared by
// all entities of a given kind (Arena registry, Player registry) so
// that allocating a slot can retroactively materialize it on every
// live entity of that kind.
type Registry struct {
	mu   sync.Mutex
	regs map[SlotKey]registration
	next SlotKey
}

// Holder is implemented by any entity carrying a slot map (Arena,
// Player).
type Holder interface {
	ExtraData() *Store
}

// NewRegistry returns an empty slot registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[SlotKey]registration)}
}

// AllocateSlot reserves a new slot, recording its factory so existing
// and future holders get the value materialized. existing is the set
// of live entities at the moment of allocation (spec: "for each
// existing Arena/Player, allocation materializes a fresh T in that
// entity's slot map").
func (r *Registry) AllocateSlot(factory Factory, existing []Holder) SlotKey {
	r.mu.Lock()
	key := r.next
	r.next++
	r.regs[key] = registration{factory: factory}
	r.mu.Unlock()

	for _, h := range existing {
		h.ExtraData().materialize(key, factory)
	}
	return key
}

// FreeSlot releases a slot. Existing holders keep whatever value they
// already materialized (callers are expected to have torn down slot
// state before freeing); new holders will no longer receive it.
func (r *Registry) FreeSlot(key SlotKey) {
	r.mu.Lock()
	delete(r.regs, key)
	r.mu.Unlock()
}

// MaterializeAll runs every registered factory against a newly
// constructed holder, before it becomes observable elsewhere (spec:
// "for each new entity, materialization happens before the entity
// enters a user-observable state").
func (r *Registry) MaterializeAll(h Holder) {
	r.mu.Lock()
	regs := make(map[SlotKey]registration, len(r.regs))
	for k, v := range r.regs {
		regs[k] = v
	}
	r.mu.Unlock()

	store := h.ExtraData()
	for key, reg := range regs {
		store.materialize(key, reg.factory)
	}
}

// Store is the slot map embedded in each Arena/Player.
type Store struct {
	mu   sync.RWMutex
	vals map[SlotKey]any
}

func (s *Store) materialize(key SlotKey, factory Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vals == nil {
		s.vals = make(map[SlotKey]any)
	}
	s.vals[key] = factory()
}

// TryGetExtra returns the slot value and true if materialized, else
// nil/false. O(1) per spec.
func (s *Store) TryGetExtra(key SlotKey) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	return v, ok
}

// MustGetExtra is a convenience wrapper that panics if the slot was
// never materialized — for call sites that know the module registered
// its slot before this entity was constructed.
func (s *Store) MustGetExtra(key SlotKey) any {
	v, ok := s.TryGetExtra(key)
	if !ok {
		panic(fmt.Sprintf("extradata: slot %d not materialized", key))
	}
	return v
}

// Reset invokes TryReset on every slotted value that implements
// Resettable, dropping (removing from the map) any value whose
// TryReset returns false or that doesn't implement Resettable at all.
// A dropped slot stays absent (TryGetExtra reports false) until the
// registry materializes it again, e.g. via MaterializeAll.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, v := range s.vals {
		r, ok := v.(Resettable)
		if !ok || !r.TryReset() {
			delete(s.vals, key)
		}
	}
}
