package dyngen

import (
	"github.com/capital-g/dyngend/internal/domain"
	"github.com/capital-g/dyngend/internal/metrics"
	"github.com/capital-g/dyngend/internal/vm"
)

// initPipeline compiles a script into a new VM for a single unit and
// publishes it as that unit's active VM, discarding whatever VM it
// replaces. Grounded directly on createVmAndCompile / swapVmPointers /
// deleteOldVm / dynGenInitCallbackCleanup in dyngen.cpp.
type initPipeline struct {
	base
	unit    *Unit
	script  *domain.ScriptRecord
	factory vm.Factory

	newVM vm.VM
	oldVM vm.VM
}

func newInitPipeline(u *Unit, script *domain.ScriptRecord, factory vm.Factory) *initPipeline {
	p := &initPipeline{
		base:    newBase(u.CodeID),
		unit:    u,
		script:  script,
		factory: factory,
	}
	p.startSpan(p.kind())
	return p
}

func (p *initPipeline) kind() string { return "init" }
func (p *initPipeline) retain()      { p.unit.Stub.Retain() }
func (p *initPipeline) release()     { p.unit.Stub.Release() }

// stage2 (NRT): compile the script into a fresh VM. On failure the
// original deletes the half-built VM and returns false, skipping stages
// 3 and 4; cleanup still runs.
func (p *initPipeline) stage2() bool {
	compiled, err := p.factory.Compile(p.script, p.unit.NumInputs, p.script.Params)
	if err != nil {
		p.failed = err
		metrics.Default().CompileFailed()
		metrics.RecordCompileFailure()
		return false
	}
	p.newVM = compiled
	metrics.Default().VMCompiled()
	metrics.RecordVMCompiled()
	return true
}

// stage3 (RT): the orphan-detection heart of the lifecycle core. If the
// unit died while stage 2 ran, the stub's owner is nil and the new VM
// becomes the "old" VM — stage 4 deletes it instead of publishing it to
// a unit that no longer exists. Otherwise the live unit's ActiveVM is
// swapped, and its previous VM becomes the one to delete.
func (p *initPipeline) stage3() bool {
	owner := p.unit.Stub.Owner()
	if owner == nil {
		p.oldVM = p.newVM
		p.newVM = nil
		return true
	}
	p.oldVM = owner.ActiveVM
	owner.ActiveVM = p.newVM
	return false
}

// stage4 (NRT): delete whichever VM the swap left stranded.
func (p *initPipeline) stage4() {
	if p.oldVM != nil {
		p.oldVM.Close()
		metrics.Default().VMDestroyed()
		metrics.RecordVMDestroyed()
	}
}

// cleanup (RT): release the stub retained at submission time and log.
func (p *initPipeline) cleanup(orphaned bool) {
	p.release()
	p.logCompletion(p.kind(), orphaned, 1)
}
