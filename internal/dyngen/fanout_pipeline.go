package dyngen

import (
	"github.com/capital-g/dyngend/internal/domain"
	"github.com/capital-g/dyngend/internal/vm"
)

// fanoutPipeline publishes a new script under a hash and retargets every
// live unit currently bound to that hash onto a freshly spawned
// initPipeline each. Grounded on Library::buildGenericPayload /
// loadScriptToDynGenLibrary / swapCode / deleteOldCode in library.cpp.
//
// The safety argument from the original's swapCode comment carries over
// directly: each spawned initPipeline closes over the *new* ScriptRecord
// captured here at stage 3, never the registry's live, mutable pointer —
// so when two fanouts for the same hash overlap, each spawned
// initPipeline compiles exactly the record its own fanout published,
// even if the other fanout has replaced the registry's script meanwhile.
type fanoutPipeline struct {
	base
	source  string
	params  []string
	reg     *Registry
	sched   *Scheduler
	factory vm.Factory

	parsed *domain.ScriptRecord
	oldRec *domain.ScriptRecord
}

func newFanoutPipeline(hash domain.ScriptHash, source string, params []string, reg *Registry, sched *Scheduler, factory vm.Factory) *fanoutPipeline {
	p := &fanoutPipeline{
		base:    newBase(hash),
		source:  source,
		params:  params,
		reg:     reg,
		sched:   sched,
		factory: factory,
	}
	p.startSpan(p.kind())
	return p
}

func (p *fanoutPipeline) kind() string { return "fanout" }
func (p *fanoutPipeline) retain()      {}
func (p *fanoutPipeline) release()     {}

// stage2 (NRT): parse and validate the incoming script. Nothing in the
// registry or any unit is touched yet, matching loadScriptToDynGenLibrary.
func (p *fanoutPipeline) stage2() bool {
	rec, err := ParseScript(p.source, p.params)
	if err != nil {
		p.failed = err
		return false
	}
	if err := validateScript(rec, p.factory); err != nil {
		p.failed = err
		return false
	}
	p.parsed = rec
	return true
}

// stage3 (RT): publish the new script into the registry entry for this
// hash, capture the superseded script for stage 4, and spawn one
// initPipeline per unit currently bound here so each recompiles against
// the script just published.
func (p *fanoutPipeline) stage3() bool {
	entry, old := p.reg.PublishScript(p.hash, p.parsed)
	p.oldRec = old

	units := entry.units()
	for _, u := range units {
		p.sched.Submit(newInitPipeline(u, p.parsed, p.factory))
	}
	return false
}

// stage4 (NRT): nothing to release explicitly — ScriptRecord is
// GC-managed — but this is where the original frees the superseded
// script's heap allocation, so the stage exists to keep the pipeline's
// shape aligned with that lifetime even though Go needs no action here.
func (p *fanoutPipeline) stage4() {}

func (p *fanoutPipeline) cleanup(orphaned bool) {
	p.logCompletion(p.kind(), orphaned, 0)
}
