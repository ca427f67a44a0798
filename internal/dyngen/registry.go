package dyngen

import (
	"github.com/capital-g/dyngend/internal/domain"
	"github.com/capital-g/dyngend/internal/metrics"
)

// RegistryEntry is one chain node of the Script Registry: a published
// script plus the doubly-linked list of units currently bound to it.
// Mirrors CodeLibrary from library.cpp — intrusive prev/next pointers on
// Unit itself rather than a separate container, to avoid a heap
// allocation per membership change.
type RegistryEntry struct {
	Hash          domain.ScriptHash
	Script        *domain.ScriptRecord
	head          *Unit
	ShouldBeFreed bool
}

// addUnit links u at the head of this entry's unit list.
func (e *RegistryEntry) addUnit(u *Unit) {
	u.next = e.head
	u.prev = nil
	if e.head != nil {
		e.head.prev = u
	}
	e.head = u
}

// removeUnit unlinks u from this entry's unit list.
func (e *RegistryEntry) removeUnit(u *Unit) {
	if u.prev != nil {
		u.prev.next = u.next
	} else if e.head == u {
		e.head = u.next
	}
	if u.next != nil {
		u.next.prev = u.prev
	}
	u.prev, u.next = nil, nil
}

// units returns every unit bound to this entry. RT-only: called from
// FanoutPipeline's stage 3 while enumerating units to retarget.
func (e *RegistryEntry) units() []*Unit {
	var out []*Unit
	for u := e.head; u != nil; u = u.next {
		out = append(out, u)
	}
	return out
}

// isReadyToBeFreed reports whether a freed entry has lost its last unit
// and can be fully removed from the registry chain.
func (e *RegistryEntry) isReadyToBeFreed() bool {
	return e.ShouldBeFreed && e.head == nil
}

// Registry is the Script Registry: a chain of RegistryEntry nodes keyed
// by ScriptHash. Every method here is RT-only by construction — the
// type carries no mutex because it is only ever reached from closures
// submitted to the Scheduler's RT job channel (see scheduler.go). That
// is the idiomatic Go analogue of "single dedicated RT thread, no
// locking required" from the original plugin.
type Registry struct {
	entries map[domain.ScriptHash]*RegistryEntry
}

// NewRegistry creates an empty Script Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.ScriptHash]*RegistryEntry)}
}

// Find looks up an existing entry by hash, returning nil if absent.
func (r *Registry) Find(hash domain.ScriptHash) *RegistryEntry {
	return r.entries[hash]
}

// InsertOrGet returns the entry for hash, creating an empty one bound to
// script if none exists yet.
func (r *Registry) InsertOrGet(hash domain.ScriptHash, script *domain.ScriptRecord) *RegistryEntry {
	if e, ok := r.entries[hash]; ok {
		return e
	}
	e := &RegistryEntry{Hash: hash, Script: script}
	r.entries[hash] = e
	metrics.Default().EntryCreated()
	return e
}

// PublishScript swaps the script text held by an entry, returning the
// old one so the caller's stage 4 can discard it on NRT. If no entry
// exists for hash yet, one is created.
func (r *Registry) PublishScript(hash domain.ScriptHash, script *domain.ScriptRecord) (entry *RegistryEntry, old *domain.ScriptRecord) {
	e, ok := r.entries[hash]
	if !ok {
		e = &RegistryEntry{Hash: hash, Script: script}
		r.entries[hash] = e
		metrics.Default().EntryCreated()
		return e, nil
	}
	old = e.Script
	e.Script = script
	return e, old
}

// FreeEntry removes hash's entry from the chain immediately, regardless
// of whether units are still bound to it, and returns its script for NRT
// disposal. The RegistryEntry object itself survives as long as any unit
// still holds it via its own Entry pointer, but a new PublishScript or
// InsertOrGet for the same hash always allocates a genuinely fresh entry
// rather than reusing this one — an in-flight FanoutPipeline's stage 3
// must never resurrect a freed entry.
func (r *Registry) FreeEntry(hash domain.ScriptHash) *domain.ScriptRecord {
	e, ok := r.entries[hash]
	if !ok {
		return nil
	}
	delete(r.entries, hash)
	metrics.Default().EntryRemoved()
	e.ShouldBeFreed = true
	old := e.Script
	e.Script = nil
	return old
}

// reapIfFreeable drops entry from the chain once its last unit has
// detached and it was already marked for removal. Called by a Unit's
// destructor after it unlinks itself. Checked by identity, not just
// hash, since FreeEntry may already have removed this entry from the
// chain and a later publish may have installed an unrelated entry under
// the same hash in the meantime.
func (r *Registry) reapIfFreeable(e *RegistryEntry) {
	if !e.isReadyToBeFreed() {
		return
	}
	if r.entries[e.Hash] == e {
		delete(r.entries, e.Hash)
		metrics.Default().EntryRemoved()
	}
}
