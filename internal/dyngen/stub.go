package dyngen

import "sync"

// Stub is the indirection a pipeline holds instead of a direct *Unit
// pointer. A Unit can be destroyed while one of its pipelines is still
// in flight on the NRT worker pool; the pipeline's stage 3 (RT) checks
// the stub rather than dereferencing a pointer that may already be
// dangling.
//
// The original C++ plugin manipulates this refcount only from the
// single dedicated real-time audio thread and needs no lock. Go gives
// us no equivalent guarantee — the RT goroutine and a Unit's Close
// (called from whichever goroutine owns the unit's teardown) can race
// on the same Stub — so refCount and owner are guarded by a mutex here.
// This is a deliberate redesign, not an oversight: see DESIGN.md.
type Stub struct {
	mu       sync.Mutex
	owner    *Unit
	refCount int
}

// NewStub creates a stub owned by u with an initial refcount of one,
// representing the Unit's own hold on it.
func NewStub(u *Unit) *Stub {
	return &Stub{owner: u, refCount: 1}
}

// Retain increments the refcount. Called by the RT goroutine before
// submitting a pipeline that will later dereference this stub.
func (s *Stub) Retain() {
	s.mu.Lock()
	s.refCount++
	s.mu.Unlock()
}

// Release decrements the refcount and reports whether it reached zero,
// in which case the caller must stop using the stub — nothing else
// references it.
func (s *Stub) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCount--
	return s.refCount == 0
}

// Invalidate clears the owning Unit pointer. Called from the Unit's
// destructor before the pipeline's remaining stages run, so stage 3
// (orphan detection) observes a nil owner instead of a freed Unit.
func (s *Stub) Invalidate() {
	s.mu.Lock()
	s.owner = nil
	s.mu.Unlock()
}

// Owner returns the live Unit this stub still points to, or nil if the
// Unit has been destroyed. This is the orphan-detection check a
// pipeline's RT stage performs before publishing a newly compiled VM.
func (s *Stub) Owner() *Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}
