package dyngen

import "github.com/capital-g/dyngend/internal/domain"

// freePipeline removes a script from the registry. Grounded on
// Library::freeNode/freeScriptCallback in library.cpp: the entry is
// unlinked from the chain immediately; if units are still bound to it,
// the entry itself stays (marked ShouldBeFreed, with a nil Script) until
// its last unit detaches, at which point Unit.Close reaps it.
//
// There is deliberately no stage 2 NRT work here — freeing never
// compiles anything — so stage2 always succeeds.
type freePipeline struct {
	base
	reg  *Registry
	done chan struct{}

	freed *domain.ScriptRecord
}

// newFreePipeline builds a free pipeline whose done channel is closed
// once cleanup runs, so a caller on another goroutine can wait for the
// unlink to take effect before reporting success.
func newFreePipeline(hash domain.ScriptHash, reg *Registry) *freePipeline {
	p := &freePipeline{base: newBase(hash), reg: reg, done: make(chan struct{})}
	p.startSpan(p.kind())
	return p
}

func (p *freePipeline) kind() string { return "free" }
func (p *freePipeline) retain()      {}
func (p *freePipeline) release()     {}

func (p *freePipeline) stage2() bool { return true }

// stage3 (RT): mark the entry for removal and drop it from the chain
// immediately, whether or not units are still bound to it. An in-flight fanoutPipeline for this hash
// that is already past stage 2 is holding its own ScriptRecord value
// directly, not a pointer into the registry, so it is unaffected by this
// unlinking — it will simply re-create a fresh entry at its own stage 3
// if the registry no longer has one, exactly as the original documents.
func (p *freePipeline) stage3() bool {
	p.freed = p.reg.FreeEntry(p.hash)
	return false
}

func (p *freePipeline) stage4() {}

func (p *freePipeline) cleanup(orphaned bool) {
	p.logCompletion(p.kind(), orphaned, 0)
	close(p.done)
}
